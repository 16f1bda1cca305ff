package types

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMalformedEvent       = errors.New("malformed event")
	ErrMissingAttribution   = errors.New("event has no account attribution")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrPeriodUnavailable    = errors.New("billing period unavailable")
	ErrCacheMiss            = errors.New("cache miss")
)

// UsageStore applies metering increments. Every call is a single atomic
// update so concurrent callers never race on the monthly rollover.
type UsageStore interface {
	RecordRequest(ctx context.Context, accountID AccountID, at time.Time) error
	RecordStorageDelta(ctx context.Context, accountID AccountID, deltaBytes int64, at time.Time) error
}

// AccountTx is a view of one account held under an exclusive lock. All
// writes made through it commit together or not at all.
type AccountTx interface {
	Account() *Account
	SaveSubscription(ctx context.Context, sub *Subscription) error
	ClearSubscription(ctx context.Context) error
	// CreateContribution inserts c keyed by its provider payment id and
	// increments the account's contribution total. A duplicate payment id
	// returns inserted=false and changes nothing.
	CreateContribution(ctx context.Context, c *Contribution) (inserted bool, err error)
	ResetPeriod(ctx context.Context) error
}

type Store interface {
	UsageStore

	EnsureAccount(ctx context.Context, accountID AccountID, createdAt time.Time) error
	GetAccount(ctx context.Context, accountID AccountID) (*Account, error)
	FindAccountBySubscription(ctx context.Context, providerSubscriptionID string) (AccountID, error)
	ListContributions(ctx context.Context, accountID AccountID, limit int) ([]Contribution, error)

	// WithAccount runs fn with the account row locked, creating the billing
	// record first when it does not exist yet.
	WithAccount(ctx context.Context, accountID AccountID, fn func(tx AccountTx) error) error

	// BeginEvent records a provider event id. processed is true when an
	// earlier delivery of the same event already completed.
	BeginEvent(ctx context.Context, eventID, eventType string, at time.Time) (processed bool, err error)
	MarkEventProcessed(ctx context.Context, eventID string, at time.Time) error

	Ping(ctx context.Context) error
	Close()
}
