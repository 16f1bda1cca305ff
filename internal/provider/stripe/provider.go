// Package stripe adapts the Stripe API to types.PaymentProvider.
package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"github.com/zeebo/errs"

	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/types"
)

// Error is the error class of this package.
var Error = errs.Class("stripe provider")

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
	ProductName   string
	// Tolerance bounds the age of a signed webhook payload.
	Tolerance time.Duration
}

type Provider struct {
	api *client.API
	cfg Config
}

var _ types.PaymentProvider = (*Provider)(nil)

func New(cfg Config) *Provider {
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "Contribution"
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Provider{api: api, cfg: cfg}
}

func (p *Provider) VerifyEvent(payload []byte, signature string) (*types.ProviderEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.cfg.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return nil, Error.Wrap(errors.Join(types.ErrInvalidSignature, err))
		default:
			return nil, Error.Wrap(errors.Join(types.ErrMalformedEvent, err))
		}
	}
	if ev.ID == "" || ev.Type == "" || ev.Data == nil {
		return nil, Error.Wrap(errors.Join(types.ErrMalformedEvent, errs.New("event without id, type or data")))
	}
	return &types.ProviderEvent{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
		Object:  []byte(ev.Data.Raw),
	}, nil
}

func (p *Provider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	sub, err := p.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, Error.Wrap(errors.Join(types.ErrSubscriptionNotFound, err))
		}
		return nil, Error.Wrap(err)
	}
	return subscriptionFromStripe(sub), nil
}

func (p *Provider) InvoiceLinePeriod(ctx context.Context, invoiceID string) (*types.Period, error) {
	params := &stripe.InvoiceListLinesParams{Invoice: stripe.String(invoiceID)}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	iter := p.api.Invoices.ListLines(params)
	for iter.Next() {
		if period := linePeriod(iter.InvoiceLineItem()); period != nil {
			return period, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	return nil, nil
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (string, error) {
	params, err := p.checkoutParams(req)
	if err != nil {
		return "", err
	}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", checkoutError(err)
	}
	return session.URL, nil
}

// checkoutError keeps the provider's own message reachable through
// types.ProviderError.
func checkoutError(err error) error {
	stripeErr := &stripe.Error{}
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return Error.Wrap(&types.ProviderError{Message: stripeErr.Msg})
	}
	return Error.Wrap(err)
}

func (p *Provider) checkoutParams(req types.CheckoutRequest) (*stripe.CheckoutSessionParams, error) {
	if req.AccountID == "" {
		return nil, Error.New("checkout without account")
	}
	if !req.Amount.IsPositive() {
		return nil, Error.Wrap(errors.Join(types.ErrInvalidAmount, errs.New("checkout amount %s", req.Amount)))
	}

	metadata := map[string]string{"accountId": string(req.AccountID)}
	if req.TierLabel != "" {
		metadata["tier"] = req.TierLabel
	}
	name := p.cfg.ProductName
	if req.TierLabel != "" {
		name = name + ": " + req.TierLabel
	}

	price := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:    stripe.String(p.cfg.Currency),
		UnitAmount:  stripe.Int64(pricing.ToMinorUnits(req.Amount)),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(name)},
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		ClientReferenceID: stripe.String(string(req.AccountID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: price,
			Quantity:  stripe.Int64(1),
		}},
	}

	switch req.Frequency {
	case types.FrequencyMonthly:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		price.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		}
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata}
	case types.FrequencyOneTime, "":
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}
	default:
		return nil, Error.New("unsupported frequency %q", req.Frequency)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return params, nil
}

func subscriptionFromStripe(sub *stripe.Subscription) *types.ProviderSubscription {
	out := &types.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd || sub.CancelAt > 0,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 && sub.CurrentPeriodEnd > 0 {
		period := &types.Period{
			Start: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
			End:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		}
		if period.Valid() {
			out.Period = period
		}
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		switch {
		case item.Price != nil:
			out.MonthlyAmount = decimal.NewNullDecimal(pricing.FromMinorUnits(item.Price.UnitAmount * qty))
		case item.Plan != nil:
			out.MonthlyAmount = decimal.NewNullDecimal(pricing.FromMinorUnits(item.Plan.Amount * qty))
		}
	}
	return out
}

func linePeriod(line *stripe.InvoiceLineItem) *types.Period {
	if line == nil || line.Period == nil || line.Period.Start <= 0 || line.Period.End <= 0 {
		return nil
	}
	period := &types.Period{
		Start: time.Unix(line.Period.Start, 0).UTC(),
		End:   time.Unix(line.Period.End, 0).UTC(),
	}
	if !period.Valid() {
		return nil
	}
	return period
}

func isNotFound(err error) bool {
	stripeErr := &stripe.Error{}
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusNotFound ||
		strings.EqualFold(string(stripeErr.Code), string(stripe.ErrorCodeResourceMissing))
}
