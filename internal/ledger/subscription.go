package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/events"
	"github.com/BatmanBruc/billing-engine/types"
)

// MapStatus translates a provider subscription status. remove is true for
// statuses after which no local subscription state should remain.
func MapStatus(providerStatus string) (status types.SubscriptionStatus, remove bool, ok bool) {
	switch providerStatus {
	case "active", "trialing":
		return types.SubscriptionActive, false, true
	case "past_due", "incomplete":
		return types.SubscriptionPastDue, false, true
	case "unpaid", "paused":
		return types.SubscriptionUnpaid, false, true
	case "canceled", "incomplete_expired":
		return "", true, true
	default:
		return "", false, false
	}
}

// ActivateSubscription handles a completed subscription checkout.
func (l *Ledger) ActivateSubscription(ctx context.Context, ev events.CheckoutCompleted) (Result, error) {
	accountID, err := l.resolveAccount(ctx, ev.AccountID, ev.SubscriptionID)
	if err != nil {
		return Result{}, err
	}
	res := Result{AccountID: accountID}
	log := l.log.With(zap.String("account_id", string(accountID)), zap.String("subscription_id", ev.SubscriptionID))

	err = l.store.WithAccount(ctx, accountID, func(tx types.AccountTx) error {
		existing := tx.Account().Subscription

		var sub *types.Subscription
		switch {
		case existing != nil && existing.ProviderSubscriptionID == ev.SubscriptionID:
			// later events for this subscription already landed
			sub = existing.Clone()
		case existing != nil && existing.Status == types.SubscriptionActive:
			res.Outcome = OutcomeSkipped
			res.Reason = "account already has active subscription " + existing.ProviderSubscriptionID
			return nil
		default:
			sub = &types.Subscription{
				ProviderSubscriptionID: ev.SubscriptionID,
				Status:                 types.SubscriptionActive,
			}
		}

		if ev.Amount.IsPositive() && !sub.MonthlyAmount.Valid {
			sub.MonthlyAmount = decimal.NewNullDecimal(ev.Amount)
		}
		if ev.Tier != "" && sub.TierName == "" {
			sub.TierName = ev.Tier
		}
		if ev.CustomerID != "" && sub.ProviderCustomerID == "" {
			sub.ProviderCustomerID = ev.CustomerID
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		res.Outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.Outcome == OutcomeSkipped {
		log.Warn("subscription checkout conflicts with existing subscription", zap.String("reason", res.Reason))
	}
	return res, nil
}

// RecordInvoicePayment appends the MONTHLY contribution for a paid invoice
// and, when the billing period is known and newer than the stored one,
// moves the subscription to it and resets the period usage counters. All
// of it commits in one account transaction.
func (l *Ledger) RecordInvoicePayment(ctx context.Context, ev events.InvoicePaid) (Result, error) {
	accountID, err := l.resolveAccount(ctx, ev.AccountID, ev.SubscriptionID)
	if err != nil {
		return Result{}, err
	}
	log := l.log.With(
		zap.String("account_id", string(accountID)),
		zap.String("invoice_id", ev.InvoiceID),
		zap.String("subscription_id", ev.SubscriptionID))

	remote := l.retrieveSubscription(ctx, log, ev.SubscriptionID)
	ended := endedRemotely(remote, ev.SubscriptionID)
	period := l.resolvePeriod(ctx, log, ev, remote)
	if period == nil {
		log.Warn("billing period unavailable, recording payment without period reset",
			zap.Error(types.ErrPeriodUnavailable))
	}

	c, err := l.newContribution(accountID, contributionInput{
		kind:      types.ContributionMonthly,
		gross:     ev.AmountPaid,
		currency:  ev.Currency,
		paymentID: ev.InvoiceID,
		eventID:   ev.EventID,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{AccountID: accountID}
	err = l.store.WithAccount(ctx, accountID, func(tx types.AccountTx) error {
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

		sub := tx.Account().Subscription.Clone()
		if sub == nil {
			switch {
			case ev.SubscriptionID == "":
				res.Reason = "invoice without subscription"
				return nil
			case ended:
				res.Reason = "subscription ended at provider"
				return nil
			case remote == nil && ev.AccountID == "":
				res.Reason = "no subscription to attach invoice to"
				return nil
			}
			sub = &types.Subscription{
				ProviderSubscriptionID: ev.SubscriptionID,
				Status:                 types.SubscriptionActive,
				TierName:               ev.Tier,
				ProviderCustomerID:     ev.CustomerID,
				MonthlyAmount:          decimal.NewNullDecimal(ev.AmountPaid),
			}
		} else if ev.SubscriptionID != "" && sub.ProviderSubscriptionID != ev.SubscriptionID {
			res.Reason = "invoice for different subscription " + sub.ProviderSubscriptionID
			return nil
		} else if ended {
			res.Reason = "subscription ended at provider"
			return tx.ClearSubscription(ctx)
		}

		if sub.LastPaymentAt == nil || !ev.PaidAt.Before(*sub.LastPaymentAt) {
			paidAt := ev.PaidAt
			sub.LastPaymentAmount = decimal.NewNullDecimal(ev.AmountPaid)
			sub.LastPaymentAt = &paidAt
		}

		if !applyRemote(sub, remote) && (sub.Status == types.SubscriptionPastDue || sub.Status == types.SubscriptionUnpaid) {
			sub.Status = types.SubscriptionActive
		}

		reset := false
		if period != nil {
			switch {
			case sub.CurrentPeriodStart == nil || period.Start.After(*sub.CurrentPeriodStart):
				start, end := period.Start, period.End
				sub.CurrentPeriodStart = &start
				sub.CurrentPeriodEnd = &end
				reset = true
			case period.Start.Before(*sub.CurrentPeriodStart):
				res.Reason = "stale billing period"
			}
		}

		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		if reset {
			if err := tx.ResetPeriod(ctx); err != nil {
				return fmt.Errorf("reset period: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	switch {
	case res.Outcome == OutcomeDuplicate:
		log.Info("duplicate invoice payment, already recorded")
	case res.Reason != "":
		log.Warn("payment recorded without period reset", zap.String("reason", res.Reason))
	}
	return res, nil
}

// UpdateSubscription applies a provider subscription change. A terminal
// status clears the subscription; otherwise a scheduled cancellation wins
// over whatever status the provider still reports.
func (l *Ledger) UpdateSubscription(ctx context.Context, ev events.SubscriptionUpdated) (Result, error) {
	accountID, err := l.resolveAccount(ctx, ev.AccountID, ev.SubscriptionID)
	if err != nil {
		return Result{}, err
	}
	res := Result{AccountID: accountID}
	log := l.log.With(zap.String("account_id", string(accountID)), zap.String("subscription_id", ev.SubscriptionID))

	err = l.store.WithAccount(ctx, accountID, func(tx types.AccountTx) error {
		current := tx.Account().Subscription
		if current == nil {
			res.Outcome = OutcomeSkipped
			res.Reason = "no subscription"
			return nil
		}
		if current.ProviderSubscriptionID != ev.SubscriptionID {
			res.Outcome = OutcomeSkipped
			res.Reason = "event for different subscription " + current.ProviderSubscriptionID
			return nil
		}

		sub := current.Clone()
		if ev.MonthlyAmount.Valid {
			sub.MonthlyAmount = ev.MonthlyAmount
		}
		if ev.CustomerID != "" {
			sub.ProviderCustomerID = ev.CustomerID
		}

		status, remove, ok := MapStatus(ev.Status)
		switch {
		case remove:
			res.Outcome = OutcomeApplied
			return tx.ClearSubscription(ctx)
		case ev.CancelAtPeriodEnd:
			sub.Status = types.SubscriptionCanceled
		case !ok:
			res.Outcome = OutcomeSkipped
			res.Reason = "unknown provider status " + ev.Status
			return nil
		default:
			sub.Status = status
		}

		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		res.Outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.Outcome == OutcomeSkipped {
		log.Warn("subscription update skipped", zap.String("reason", res.Reason))
	}
	return res, nil
}

// DeleteSubscription clears the subscription. Deleting one that is already
// gone is a no-op.
func (l *Ledger) DeleteSubscription(ctx context.Context, ev events.SubscriptionDeleted) (Result, error) {
	accountID, err := l.resolveAccount(ctx, ev.AccountID, ev.SubscriptionID)
	if errors.Is(err, types.ErrMissingAttribution) && ev.AccountID == "" {
		return Result{Outcome: OutcomeSkipped, Reason: "subscription already cleared"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	res := Result{AccountID: accountID}

	err = l.store.WithAccount(ctx, accountID, func(tx types.AccountTx) error {
		current := tx.Account().Subscription
		switch {
		case current == nil:
			res.Outcome = OutcomeSkipped
			res.Reason = "subscription already cleared"
			return nil
		case current.ProviderSubscriptionID != ev.SubscriptionID:
			res.Outcome = OutcomeSkipped
			res.Reason = "event for different subscription " + current.ProviderSubscriptionID
			return nil
		}
		res.Outcome = OutcomeApplied
		return tx.ClearSubscription(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (l *Ledger) retrieveSubscription(ctx context.Context, log *zap.Logger, subscriptionID string) *types.ProviderSubscription {
	if subscriptionID == "" || l.provider == nil {
		return nil
	}
	remote, err := l.provider.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		log.Warn("retrieve subscription failed, falling back to invoice data", zap.Error(err))
		return nil
	}
	return remote
}

// resolvePeriod tries the provider subscription first, then the invoice
// line carried in the event, then the invoice lines fetched from the
// provider.
func (l *Ledger) resolvePeriod(ctx context.Context, log *zap.Logger, ev events.InvoicePaid, remote *types.ProviderSubscription) *types.Period {
	if remote != nil && remote.Period.Valid() {
		return remote.Period
	}
	if ev.LinePeriod.Valid() {
		return ev.LinePeriod
	}
	if l.provider == nil || ev.InvoiceID == "" {
		return nil
	}
	p, err := l.provider.InvoiceLinePeriod(ctx, ev.InvoiceID)
	if err != nil {
		log.Warn("retrieve invoice line period failed", zap.Error(err))
		return nil
	}
	if !p.Valid() {
		return nil
	}
	return p
}

// endedRemotely reports whether the provider already considers the
// subscription finished.
func endedRemotely(remote *types.ProviderSubscription, subscriptionID string) bool {
	if remote == nil || remote.ID != subscriptionID {
		return false
	}
	_, remove, _ := MapStatus(remote.Status)
	return remove
}

// applyRemote copies provider-side subscription state onto sub and reports
// whether it did.
func applyRemote(sub *types.Subscription, remote *types.ProviderSubscription) bool {
	if remote == nil || remote.ID != sub.ProviderSubscriptionID {
		return false
	}
	if remote.MonthlyAmount.Valid {
		sub.MonthlyAmount = remote.MonthlyAmount
	}
	if remote.CustomerID != "" {
		sub.ProviderCustomerID = remote.CustomerID
	}
	if sub.TierName == "" {
		sub.TierName = remote.Metadata["tier"]
	}
	status, remove, ok := MapStatus(remote.Status)
	switch {
	case remove:
		return false
	case remote.CancelAtPeriodEnd:
		sub.Status = types.SubscriptionCanceled
	case ok:
		sub.Status = status
	}
	return true
}
