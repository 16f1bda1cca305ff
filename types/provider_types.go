package types

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderEvent is a verified notification whose object payload is still raw.
type ProviderEvent struct {
	ID      string
	Type    string
	Created time.Time
	Object  []byte
}

type ProviderSubscription struct {
	ID                string
	Status            string
	CancelAtPeriodEnd bool
	CustomerID        string
	MonthlyAmount     decimal.NullDecimal
	Period            *Period
	Metadata          map[string]string
}

type CheckoutFrequency string

const (
	FrequencyOneTime CheckoutFrequency = "one_time"
	FrequencyMonthly CheckoutFrequency = "monthly"
)

type CheckoutRequest struct {
	AccountID AccountID
	Amount    decimal.Decimal
	Frequency CheckoutFrequency
	TierLabel string
}

// ProviderError carries the message the payment provider returned for a
// rejected request, meant to be shown to the caller as is.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string { return e.Message }

// PaymentProvider is the narrow surface of the payment provider SDK that
// the billing engine depends on.
type PaymentProvider interface {
	VerifyEvent(payload []byte, signature string) (*ProviderEvent, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	// InvoiceLinePeriod returns nil when no line item carries a period.
	InvoiceLinePeriod(ctx context.Context, invoiceID string) (*Period, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}
