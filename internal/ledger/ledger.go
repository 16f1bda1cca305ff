package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.jetify.com/typeid/v2"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/types"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
)

// Result describes what a ledger operation did to one account.
type Result struct {
	AccountID    types.AccountID
	Outcome      Outcome
	Contribution *types.Contribution
	Reason       string
}

type Ledger struct {
	store    types.Store
	provider types.PaymentProvider
	fees     pricing.FeeSchedule
	log      *zap.Logger
	now      func() time.Time
	newID    func() (string, error)
}

func New(store types.Store, provider types.PaymentProvider, fees pricing.FeeSchedule, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		store:    store,
		provider: provider,
		fees:     fees,
		log:      log.Named("ledger"),
		now:      time.Now,
		newID:    newContributionID,
	}
}

func newContributionID() (string, error) {
	tid, err := typeid.Generate("ctb")
	if err != nil {
		return "", err
	}
	return tid.String(), nil
}

// resolveAccount prefers the account carried in event metadata and falls
// back to the account already holding subscriptionID.
func (l *Ledger) resolveAccount(ctx context.Context, accountID types.AccountID, subscriptionID string) (types.AccountID, error) {
	if accountID != "" {
		return accountID, nil
	}
	if subscriptionID == "" {
		return "", types.ErrMissingAttribution
	}
	found, err := l.store.FindAccountBySubscription(ctx, subscriptionID)
	if errors.Is(err, types.ErrSubscriptionNotFound) {
		return "", fmt.Errorf("%w: subscription %s", types.ErrMissingAttribution, subscriptionID)
	}
	if err != nil {
		return "", err
	}
	return found, nil
}
