package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/billing-engine/types"
)

func providerEvent(eventType, object string) *types.ProviderEvent {
	return &types.ProviderEvent{
		ID:      "evt_1",
		Type:    eventType,
		Created: time.Unix(1767225600, 0).UTC(),
		Object:  []byte(object),
	}
}

func TestParse_OneTimeCheckout(t *testing.T) {
	ev, err := Parse(providerEvent(TypeCheckoutCompleted, `{
		"id": "cs_1", "mode": "payment", "payment_status": "paid",
		"amount_total": 1000, "currency": "USD",
		"payment_intent": "pi_1",
		"metadata": {"accountId": "acct-1", "tier": "coffee"}
	}`))
	require.NoError(t, err)

	c, ok := ev.(CheckoutCompleted)
	require.True(t, ok)
	assert.Equal(t, ModePayment, c.Mode)
	assert.Equal(t, "10", c.Amount.String())
	assert.Equal(t, "usd", c.Currency)
	assert.Equal(t, types.AccountID("acct-1"), c.AccountID)
	assert.Equal(t, "coffee", c.Tier)
	assert.Equal(t, "pi_1", c.PaymentID())
	assert.Equal(t, "evt_1", c.EventMeta().EventID)
}

func TestParse_CheckoutFallsBackToSessionAndClientReference(t *testing.T) {
	ev, err := Parse(providerEvent(TypeCheckoutCompleted, `{
		"id": "cs_2", "mode": "payment", "amount_total": 500,
		"client_reference_id": "acct-9", "payment_intent": null
	}`))
	require.NoError(t, err)

	c := ev.(CheckoutCompleted)
	assert.Equal(t, types.AccountID("acct-9"), c.AccountID)
	assert.Equal(t, "cs_2", c.PaymentID())
}

func TestParse_SubscriptionCheckoutWithExpandedObjects(t *testing.T) {
	ev, err := Parse(providerEvent(TypeCheckoutCompleted, `{
		"id": "cs_3", "mode": "subscription", "amount_total": 500,
		"subscription": {"id": "sub_1"}, "customer": {"id": "cus_1"},
		"metadata": {"userId": "acct-2", "tier": "supporter"}
	}`))
	require.NoError(t, err)

	c := ev.(CheckoutCompleted)
	assert.Equal(t, "sub_1", c.SubscriptionID)
	assert.Equal(t, "cus_1", c.CustomerID)
	assert.Equal(t, types.AccountID("acct-2"), c.AccountID)
}

func TestParse_SetupCheckoutIgnored(t *testing.T) {
	ev, err := Parse(providerEvent(TypeCheckoutCompleted, `{"id": "cs_4", "mode": "setup"}`))
	require.NoError(t, err)
	assert.IsType(t, Ignored{}, ev)
}

func TestParse_InvoiceNewerAPIShape(t *testing.T) {
	ev, err := Parse(providerEvent(TypeInvoicePaid, `{
		"id": "in_1", "amount_paid": 500, "currency": "usd", "customer": "cus_1",
		"billing_reason": "subscription_cycle",
		"status_transitions": {"paid_at": 1767312000},
		"parent": {"subscription_details": {
			"subscription": "sub_1",
			"metadata": {"accountId": "acct-1", "tier": "supporter"}
		}},
		"lines": {"data": [{"period": {"start": 1767225600, "end": 1769904000}}]}
	}`))
	require.NoError(t, err)

	inv := ev.(InvoicePaid)
	assert.Equal(t, "sub_1", inv.SubscriptionID)
	assert.Equal(t, types.AccountID("acct-1"), inv.AccountID)
	assert.Equal(t, "supporter", inv.Tier)
	assert.Equal(t, "5", inv.AmountPaid.String())
	assert.Equal(t, time.Unix(1767312000, 0).UTC(), inv.PaidAt)
	require.NotNil(t, inv.LinePeriod)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), inv.LinePeriod.Start)
}

func TestParse_InvoiceWithoutPeriod(t *testing.T) {
	ev, err := Parse(providerEvent(TypeInvoicePaySucceeded, `{
		"id": "in_2", "amount_paid": 500, "subscription": "sub_1",
		"lines": {"data": [{"period": {"start": 0, "end": 0}}]}
	}`))
	require.NoError(t, err)

	inv := ev.(InvoicePaid)
	assert.Nil(t, inv.LinePeriod)
	assert.Equal(t, "sub_1", inv.SubscriptionID)
	assert.Equal(t, inv.Created, inv.PaidAt)
}

func TestParse_SubscriptionUpdated(t *testing.T) {
	ev, err := Parse(providerEvent(TypeSubscriptionUpdated, `{
		"id": "sub_1", "status": "active", "cancel_at_period_end": true,
		"items": {"data": [{"price": {"unit_amount": 500}, "quantity": 2}]}
	}`))
	require.NoError(t, err)

	u := ev.(SubscriptionUpdated)
	assert.True(t, u.CancelAtPeriodEnd)
	assert.Equal(t, "active", u.Status)
	require.True(t, u.MonthlyAmount.Valid)
	assert.Equal(t, "10", u.MonthlyAmount.Decimal.String())
}

func TestParse_SubscriptionUpdatedLegacyPlan(t *testing.T) {
	ev, err := Parse(providerEvent(TypeSubscriptionUpdated, `{
		"id": "sub_1", "status": "past_due", "plan": {"amount": 300}
	}`))
	require.NoError(t, err)

	u := ev.(SubscriptionUpdated)
	assert.False(t, u.CancelAtPeriodEnd)
	assert.Equal(t, "3", u.MonthlyAmount.Decimal.String())
}

func TestParse_SubscriptionDeleted(t *testing.T) {
	ev, err := Parse(providerEvent(TypeSubscriptionDeleted, `{"id": "sub_1", "status": "canceled"}`))
	require.NoError(t, err)
	assert.Equal(t, SubscriptionDeleted{Meta: Meta{EventID: "evt_1", Type: TypeSubscriptionDeleted, Created: time.Unix(1767225600, 0).UTC()}, SubscriptionID: "sub_1"}, ev)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]*types.ProviderEvent{
		"invalid json":         providerEvent(TypeInvoicePaid, `{"id": `),
		"invoice no amount":    providerEvent(TypeInvoicePaid, `{"id": "in_1"}`),
		"checkout no id":       providerEvent(TypeCheckoutCompleted, `{"mode": "payment", "amount_total": 1}`),
		"checkout no amount":   providerEvent(TypeCheckoutCompleted, `{"id": "cs_1", "mode": "payment"}`),
		"sub checkout no sub":  providerEvent(TypeCheckoutCompleted, `{"id": "cs_1", "mode": "subscription"}`),
		"update no status":     providerEvent(TypeSubscriptionUpdated, `{"id": "sub_1"}`),
		"delete no id":         providerEvent(TypeSubscriptionDeleted, `{}`),
		"amount is not number": providerEvent(TypeInvoicePaid, `{"id": "in_1", "amount_paid": "500"}`),
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(ev)
			assert.ErrorIs(t, err, types.ErrMalformedEvent)
		})
	}
}

func TestParse_UnknownTypeIgnored(t *testing.T) {
	ev, err := Parse(providerEvent("charge.refunded", `not even json`))
	require.NoError(t, err)
	assert.IsType(t, Ignored{}, ev)
	assert.Equal(t, "charge.refunded", ev.EventMeta().Type)
}
