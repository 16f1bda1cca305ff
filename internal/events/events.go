// Package events turns raw payment provider notifications into typed
// billing events.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/BatmanBruc/billing-engine/types"
)

const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeInvoicePaid         = "invoice.paid"
	TypeInvoicePaySucceeded = "invoice.payment_succeeded"
	TypeSubscriptionUpdated = "customer.subscription.updated"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

type CheckoutMode string

const (
	ModePayment      CheckoutMode = "payment"
	ModeSubscription CheckoutMode = "subscription"
)

// Event is one of CheckoutCompleted, InvoicePaid, SubscriptionUpdated,
// SubscriptionDeleted or Ignored.
type Event interface {
	EventMeta() Meta
}

// Meta is carried by every event variant.
type Meta struct {
	EventID   string
	Type      string
	Created   time.Time
	AccountID types.AccountID
	Tier      string
}

func (m Meta) EventMeta() Meta { return m }

type CheckoutCompleted struct {
	Meta
	SessionID       string
	Mode            CheckoutMode
	PaymentStatus   string
	Amount          decimal.Decimal
	Currency        string
	SubscriptionID  string
	CustomerID      string
	PaymentIntentID string
}

// PaymentID is the key a one-time contribution is deduplicated on.
func (e CheckoutCompleted) PaymentID() string {
	if e.PaymentIntentID != "" {
		return e.PaymentIntentID
	}
	return e.SessionID
}

type InvoicePaid struct {
	Meta
	InvoiceID       string
	SubscriptionID  string
	CustomerID      string
	PaymentIntentID string
	AmountPaid      decimal.Decimal
	Currency        string
	BillingReason   string
	PaidAt          time.Time
	// LinePeriod is the period of the first invoice line, when present.
	LinePeriod *types.Period
}

type SubscriptionUpdated struct {
	Meta
	SubscriptionID    string
	Status            string
	CancelAtPeriodEnd bool
	CustomerID        string
	MonthlyAmount     decimal.NullDecimal
}

type SubscriptionDeleted struct {
	Meta
	SubscriptionID string
}

type Ignored struct {
	Meta
}
