package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/events"
	"github.com/BatmanBruc/billing-engine/types"
)

type contributionInput struct {
	kind      types.ContributionKind
	gross     decimal.Decimal
	currency  string
	paymentID string
	sessionID string
	eventID   string
}

func (l *Ledger) newContribution(accountID types.AccountID, in contributionInput) (*types.Contribution, error) {
	if in.paymentID == "" {
		return nil, fmt.Errorf("%w: contribution without payment id", types.ErrMalformedEvent)
	}
	if in.gross.IsNegative() {
		return nil, fmt.Errorf("%w: negative gross %s", types.ErrInvalidAmount, in.gross)
	}
	id, err := l.newID()
	if err != nil {
		return nil, fmt.Errorf("generate contribution id: %w", err)
	}
	b := l.fees.Breakdown(in.gross)
	return &types.Contribution{
		ID:                id,
		AccountID:         accountID,
		GrossAmount:       b.Gross,
		NetAmount:         b.Net,
		FeeAmount:         b.Fee,
		Currency:          in.currency,
		Kind:              in.kind,
		ProviderPaymentID: in.paymentID,
		ProviderSessionID: in.sessionID,
		ProviderEventID:   in.eventID,
		Status:            types.ContributionCompleted,
		CreatedAt:         l.now().UTC(),
	}, nil
}

// RecordOneTime appends a ONE_TIME contribution for a completed payment
// checkout. The subscription is never touched.
func (l *Ledger) RecordOneTime(ctx context.Context, ev events.CheckoutCompleted) (Result, error) {
	if ev.AccountID == "" {
		return Result{}, fmt.Errorf("%w: checkout %s", types.ErrMissingAttribution, ev.SessionID)
	}
	res := Result{AccountID: ev.AccountID}
	if ev.PaymentStatus != "" && ev.PaymentStatus != "paid" {
		res.Outcome = OutcomeSkipped
		res.Reason = "payment status " + ev.PaymentStatus
		l.log.Info("checkout not paid yet, skipping contribution",
			zap.String("session_id", ev.SessionID),
			zap.String("payment_status", ev.PaymentStatus))
		return res, nil
	}

	c, err := l.newContribution(ev.AccountID, contributionInput{
		kind:      types.ContributionOneTime,
		gross:     ev.Amount,
		currency:  ev.Currency,
		paymentID: ev.PaymentID(),
		sessionID: ev.SessionID,
		eventID:   ev.EventID,
	})
	if err != nil {
		return Result{}, err
	}

	err = l.store.WithAccount(ctx, ev.AccountID, func(tx types.AccountTx) error {
		inserted, err := tx.CreateContribution(ctx, c)
		if err != nil {
			return fmt.Errorf("create contribution: %w", err)
		}
		if !inserted {
			res.Outcome = OutcomeDuplicate
			return nil
		}
		res.Outcome = OutcomeApplied
		res.Contribution = c
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Outcome == OutcomeDuplicate {
		l.log.Info("duplicate payment, contribution already recorded",
			zap.String("account_id", string(ev.AccountID)),
			zap.String("payment_id", c.ProviderPaymentID))
	}
	return res, nil
}

func (l *Ledger) Contributions(ctx context.Context, accountID types.AccountID, limit int) ([]types.Contribution, error) {
	return l.store.ListContributions(ctx, accountID, limit)
}
