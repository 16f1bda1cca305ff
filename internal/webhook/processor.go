package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/events"
	"github.com/BatmanBruc/billing-engine/internal/ledger"
	"github.com/BatmanBruc/billing-engine/internal/observability/logger"
	"github.com/BatmanBruc/billing-engine/types"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

type Result struct {
	EventID   string
	Type      string
	Outcome   Outcome
	AccountID types.AccountID
}

// Notifier is told about events an operator may want to see.
type Notifier interface {
	ContributionReceived(ctx context.Context, c types.Contribution)
	SignatureRejected(ctx context.Context, reason string)
}

// Invalidator drops cached derived state for an account.
type Invalidator interface {
	Invalidate(ctx context.Context, accountID types.AccountID)
}

type Recorder interface {
	IncWebhookEvent(eventType, outcome string)
	IncContribution(kind string)
}

type Processor struct {
	provider    types.PaymentProvider
	ledger      *ledger.Ledger
	events      types.Store
	notifier    Notifier
	invalidator Invalidator
	metrics     Recorder
	log         *zap.Logger
	now         func() time.Time
}

type Option func(*Processor)

func WithNotifier(n Notifier) Option       { return func(p *Processor) { p.notifier = n } }
func WithInvalidator(i Invalidator) Option { return func(p *Processor) { p.invalidator = i } }
func WithMetrics(m Recorder) Option        { return func(p *Processor) { p.metrics = m } }

func NewProcessor(provider types.PaymentProvider, l *ledger.Ledger, store types.Store, log *zap.Logger, opts ...Option) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Processor{
		provider: provider,
		ledger:   l,
		events:   store,
		log:      log.Named("webhook"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle verifies and applies one provider delivery. Errors wrapping
// types.ErrInvalidSignature or types.ErrMalformedEvent mean the request
// itself is bad; any other error is internal and the delivery should be
// retried.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	log := logger.With(p.log, ctx)

	ev, err := p.provider.VerifyEvent(payload, signature)
	if err != nil {
		if errors.Is(err, types.ErrInvalidSignature) {
			log.Warn("webhook signature rejected", logger.Security(), zap.Error(err))
			p.record("unknown", OutcomeRejected)
			if p.notifier != nil {
				p.notifier.SignatureRejected(ctx, err.Error())
			}
			return Result{Outcome: OutcomeRejected}, err
		}
		log.Warn("webhook payload rejected", zap.Error(err))
		p.record("unknown", OutcomeRejected)
		return Result{Outcome: OutcomeRejected}, err
	}

	res := Result{EventID: ev.ID, Type: ev.Type}
	log = log.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	processed, err := p.events.BeginEvent(ctx, ev.ID, ev.Type, p.now().UTC())
	if err != nil {
		p.record(ev.Type, OutcomeFailed)
		return res, fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	if processed {
		log.Debug("event already processed")
		res.Outcome = OutcomeDuplicate
		p.record(ev.Type, res.Outcome)
		return res, nil
	}

	typed, err := events.Parse(ev)
	if err != nil {
		log.Warn("malformed event skipped", zap.Error(err))
		return p.finish(ctx, log, res, OutcomeSkipped)
	}

	lr, err := p.dispatch(ctx, typed)
	res.AccountID = lr.AccountID
	switch {
	case errors.Is(err, errIgnored):
		log.Debug("event type ignored")
		return p.finish(ctx, log, res, OutcomeIgnored)
	case errors.Is(err, types.ErrMissingAttribution):
		log.Warn("event has no account attribution, skipping", zap.Error(err))
		return p.finish(ctx, log, res, OutcomeSkipped)
	case errors.Is(err, types.ErrMalformedEvent), errors.Is(err, types.ErrInvalidAmount):
		log.Warn("malformed event skipped", zap.Error(err))
		return p.finish(ctx, log, res, OutcomeSkipped)
	case err != nil:
		log.Error("event processing failed", zap.Error(err))
		p.record(ev.Type, OutcomeFailed)
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("process event %s: %w", ev.ID, err)
	}

	if lr.Outcome == ledger.OutcomeApplied && p.invalidator != nil {
		p.invalidator.Invalidate(ctx, lr.AccountID)
	}
	if lr.Contribution != nil {
		if p.metrics != nil {
			p.metrics.IncContribution(string(lr.Contribution.Kind))
		}
		if p.notifier != nil {
			p.notifier.ContributionReceived(ctx, *lr.Contribution)
		}
	}

	outcome := OutcomeProcessed
	if lr.Outcome != ledger.OutcomeApplied {
		outcome = OutcomeSkipped
	}
	return p.finish(ctx, log.With(zap.String("account_id", string(lr.AccountID))), res, outcome)
}

var errIgnored = errors.New("ignored event")

func (p *Processor) dispatch(ctx context.Context, ev events.Event) (ledger.Result, error) {
	switch e := ev.(type) {
	case events.CheckoutCompleted:
		if e.Mode == events.ModeSubscription {
			return p.ledger.ActivateSubscription(ctx, e)
		}
		return p.ledger.RecordOneTime(ctx, e)
	case events.InvoicePaid:
		return p.ledger.RecordInvoicePayment(ctx, e)
	case events.SubscriptionUpdated:
		return p.ledger.UpdateSubscription(ctx, e)
	case events.SubscriptionDeleted:
		return p.ledger.DeleteSubscription(ctx, e)
	default:
		return ledger.Result{}, errIgnored
	}
}

// finish marks the event processed. Its effects are already committed and
// idempotent, so a failure here is logged rather than retried.
func (p *Processor) finish(ctx context.Context, log *zap.Logger, res Result, outcome Outcome) (Result, error) {
	res.Outcome = outcome
	if err := p.events.MarkEventProcessed(ctx, res.EventID, p.now().UTC()); err != nil {
		log.Error("mark event processed failed", zap.Error(err))
	}
	p.record(res.Type, outcome)
	log.Info("webhook event handled", zap.String("outcome", string(outcome)))
	return res, nil
}

func (p *Processor) record(eventType string, outcome Outcome) {
	if p.metrics != nil {
		p.metrics.IncWebhookEvent(eventType, string(outcome))
	}
}
