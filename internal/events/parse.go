package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/types"
)

// Provider payloads moved fields around between API versions, so most
// lookups try several paths in order.
var (
	accountPaths = []string{
		"metadata.accountId",
		"metadata.userId",
		"subscription_details.metadata.accountId",
		"subscription_details.metadata.userId",
		"parent.subscription_details.metadata.accountId",
		"parent.subscription_details.metadata.userId",
		"lines.data.0.metadata.accountId",
		"lines.data.0.metadata.userId",
	}
	tierPaths = []string{
		"metadata.tier",
		"subscription_details.metadata.tier",
		"parent.subscription_details.metadata.tier",
		"lines.data.0.metadata.tier",
	}
	invoiceSubscriptionPaths = []string{
		"subscription",
		"parent.subscription_details.subscription",
		"lines.data.0.subscription",
		"lines.data.0.parent.subscription_item_details.subscription",
	}
)

// Parse normalizes a verified provider event. Unknown types become Ignored;
// known types missing required fields return types.ErrMalformedEvent.
func Parse(ev *types.ProviderEvent) (Event, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", types.ErrMalformedEvent)
	}
	meta := Meta{EventID: ev.ID, Type: ev.Type, Created: ev.Created}

	switch ev.Type {
	case TypeCheckoutCompleted, TypeInvoicePaid, TypeInvoicePaySucceeded,
		TypeSubscriptionUpdated, TypeSubscriptionDeleted:
	default:
		return Ignored{Meta: meta}, nil
	}

	if len(ev.Object) == 0 || !gjson.ValidBytes(ev.Object) {
		return nil, malformed(ev.Type, "object is not valid JSON")
	}
	obj := gjson.ParseBytes(ev.Object)
	meta.AccountID = types.AccountID(firstString(obj, accountPaths...))
	meta.Tier = firstString(obj, tierPaths...)

	switch ev.Type {
	case TypeCheckoutCompleted:
		return parseCheckout(meta, obj)
	case TypeInvoicePaid, TypeInvoicePaySucceeded:
		return parseInvoice(meta, obj)
	case TypeSubscriptionUpdated:
		return parseSubscriptionUpdated(meta, obj)
	default:
		return parseSubscriptionDeleted(meta, obj)
	}
}

func parseCheckout(meta Meta, obj gjson.Result) (Event, error) {
	sessionID := obj.Get("id").String()
	if sessionID == "" {
		return nil, malformed(meta.Type, "missing session id")
	}
	if meta.AccountID == "" {
		meta.AccountID = types.AccountID(strings.TrimSpace(obj.Get("client_reference_id").String()))
	}

	ev := CheckoutCompleted{
		Meta:            meta,
		SessionID:       sessionID,
		Mode:            CheckoutMode(obj.Get("mode").String()),
		PaymentStatus:   obj.Get("payment_status").String(),
		Currency:        currency(obj),
		SubscriptionID:  idOf(obj, "subscription"),
		CustomerID:      idOf(obj, "customer"),
		PaymentIntentID: idOf(obj, "payment_intent"),
	}

	switch ev.Mode {
	case ModePayment:
		amount, ok := minorUnits(obj, "amount_total", "amount_subtotal")
		if !ok {
			return nil, malformed(meta.Type, "missing amount_total")
		}
		ev.Amount = amount
	case ModeSubscription:
		if ev.SubscriptionID == "" {
			return nil, malformed(meta.Type, "subscription checkout without subscription id")
		}
		ev.Amount, _ = minorUnits(obj, "amount_total", "amount_subtotal")
	default:
		return Ignored{Meta: meta}, nil
	}
	return ev, nil
}

func parseInvoice(meta Meta, obj gjson.Result) (Event, error) {
	invoiceID := obj.Get("id").String()
	if invoiceID == "" {
		return nil, malformed(meta.Type, "missing invoice id")
	}
	amount, ok := minorUnits(obj, "amount_paid")
	if !ok {
		return nil, malformed(meta.Type, "missing amount_paid")
	}

	ev := InvoicePaid{
		Meta:            meta,
		InvoiceID:       invoiceID,
		SubscriptionID:  firstID(obj, invoiceSubscriptionPaths...),
		CustomerID:      idOf(obj, "customer"),
		PaymentIntentID: firstID(obj, "payment_intent", "payments.data.0.payment.payment_intent"),
		AmountPaid:      amount,
		Currency:        currency(obj),
		BillingReason:   obj.Get("billing_reason").String(),
		PaidAt:          meta.Created,
		LinePeriod:      period(obj, "lines.data.0.period.start", "lines.data.0.period.end"),
	}
	if paidAt := obj.Get("status_transitions.paid_at").Int(); paidAt > 0 {
		ev.PaidAt = time.Unix(paidAt, 0).UTC()
	}
	return ev, nil
}

func parseSubscriptionUpdated(meta Meta, obj gjson.Result) (Event, error) {
	subID := obj.Get("id").String()
	if subID == "" {
		return nil, malformed(meta.Type, "missing subscription id")
	}
	status := obj.Get("status").String()
	if status == "" {
		return nil, malformed(meta.Type, "missing status")
	}

	ev := SubscriptionUpdated{
		Meta:              meta,
		SubscriptionID:    subID,
		Status:            status,
		CancelAtPeriodEnd: obj.Get("cancel_at_period_end").Bool() || obj.Get("cancel_at").Int() > 0,
		CustomerID:        idOf(obj, "customer"),
		MonthlyAmount:     SubscriptionAmount(obj),
	}
	return ev, nil
}

func parseSubscriptionDeleted(meta Meta, obj gjson.Result) (Event, error) {
	subID := obj.Get("id").String()
	if subID == "" {
		return nil, malformed(meta.Type, "missing subscription id")
	}
	return SubscriptionDeleted{Meta: meta, SubscriptionID: subID}, nil
}

// SubscriptionAmount reads the recurring amount of a subscription object
// from its first item, falling back to the legacy plan field.
func SubscriptionAmount(obj gjson.Result) decimal.NullDecimal {
	if unit := obj.Get("items.data.0.price.unit_amount"); unit.Exists() && unit.Type != gjson.Null {
		qty := obj.Get("items.data.0.quantity").Int()
		if qty <= 0 {
			qty = 1
		}
		return decimal.NewNullDecimal(pricing.FromMinorUnits(unit.Int() * qty))
	}
	if amount, ok := minorUnits(obj, "plan.amount"); ok {
		return decimal.NewNullDecimal(amount)
	}
	return decimal.NullDecimal{}
}

func malformed(eventType, reason string) error {
	return fmt.Errorf("%w: %s: %s", types.ErrMalformedEvent, eventType, reason)
}

func firstString(obj gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(obj.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

// idOf reads a reference that may be either an id string or an expanded
// object.
func idOf(obj gjson.Result, path string) string {
	r := obj.Get(path)
	if r.IsObject() {
		return r.Get("id").String()
	}
	if r.Type == gjson.String {
		return r.String()
	}
	return ""
}

func firstID(obj gjson.Result, paths ...string) string {
	for _, p := range paths {
		if id := idOf(obj, p); id != "" {
			return id
		}
	}
	return ""
}

func minorUnits(obj gjson.Result, paths ...string) (decimal.Decimal, bool) {
	for _, p := range paths {
		r := obj.Get(p)
		if r.Exists() && r.Type == gjson.Number {
			return pricing.FromMinorUnits(r.Int()), true
		}
	}
	return decimal.Zero, false
}

func currency(obj gjson.Result) string {
	c := strings.ToLower(strings.TrimSpace(obj.Get("currency").String()))
	if c == "" {
		return "usd"
	}
	return c
}

func period(obj gjson.Result, startPath, endPath string) *types.Period {
	start, end := obj.Get(startPath).Int(), obj.Get(endPath).Int()
	if start <= 0 || end <= 0 {
		return nil
	}
	p := &types.Period{Start: time.Unix(start, 0).UTC(), End: time.Unix(end, 0).UTC()}
	if !p.Valid() {
		return nil
	}
	return p
}
