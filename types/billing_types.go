package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountID string

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionUnpaid   SubscriptionStatus = "UNPAID"
)

type ContributionKind string

const (
	ContributionOneTime ContributionKind = "ONE_TIME"
	ContributionMonthly ContributionKind = "MONTHLY"
)

type ContributionStatus string

const ContributionCompleted ContributionStatus = "COMPLETED"

// Account is the billing record kept for every user account.
type Account struct {
	ID                   AccountID       `json:"account_id"`
	LifetimeRequestCount int64           `json:"lifetime_request_count"`
	LifetimeStoredBytes  int64           `json:"lifetime_stored_bytes"`
	PeriodRequestCount   int64           `json:"period_request_count"`
	PeriodStoredBytes    int64           `json:"period_stored_bytes"`
	MonthlyRequestCount  int64           `json:"monthly_request_count"`
	MonthlyResetAt       time.Time       `json:"monthly_reset_at"`
	TotalContributions   decimal.Decimal `json:"total_contributions"`
	CreatedAt            time.Time       `json:"created_at"`
	Subscription         *Subscription   `json:"subscription,omitempty"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Subscription != nil {
		c.Subscription = a.Subscription.Clone()
	}
	return &c
}

type Subscription struct {
	ProviderSubscriptionID string              `json:"provider_subscription_id"`
	Status                 SubscriptionStatus  `json:"status"`
	MonthlyAmount          decimal.NullDecimal `json:"monthly_amount"`
	TierName               string              `json:"tier_name,omitempty"`
	ProviderCustomerID     string              `json:"provider_customer_id,omitempty"`
	CurrentPeriodStart     *time.Time          `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time          `json:"current_period_end,omitempty"`
	LastPaymentAmount      decimal.NullDecimal `json:"last_payment_amount"`
	LastPaymentAt          *time.Time          `json:"last_payment_at,omitempty"`
}

func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.LastPaymentAt = cloneTime(s.LastPaymentAt)
	return &c
}

// HasOpenPeriod reports whether the subscription still has a billing period
// that should be reconciled against usage.
func (s *Subscription) HasOpenPeriod() bool {
	if s == nil || s.CurrentPeriodStart == nil {
		return false
	}
	return s.Status == SubscriptionActive || s.Status == SubscriptionCanceled
}

// Contribution is an immutable record of a completed payment.
type Contribution struct {
	ID                string             `json:"id"`
	AccountID         AccountID          `json:"account_id"`
	GrossAmount       decimal.Decimal    `json:"gross_amount"`
	NetAmount         decimal.Decimal    `json:"net_amount"`
	FeeAmount         decimal.Decimal    `json:"fee_amount"`
	Currency          string             `json:"currency"`
	Kind              ContributionKind   `json:"kind"`
	ProviderPaymentID string             `json:"provider_payment_id"`
	ProviderSessionID string             `json:"provider_session_id,omitempty"`
	ProviderEventID   string             `json:"provider_event_id,omitempty"`
	Status            ContributionStatus `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
}

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p *Period) Valid() bool {
	return p != nil && !p.Start.IsZero() && !p.End.IsZero() && p.End.After(p.Start)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
