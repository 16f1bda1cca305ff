// Package fake is an in-memory payment provider for tests.
package fake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/BatmanBruc/billing-engine/types"
)

type Provider struct {
	Secret string

	mu             sync.Mutex
	subscriptions  map[string]*types.ProviderSubscription
	invoicePeriods map[string]*types.Period
	checkouts      []types.CheckoutRequest

	RetrieveErr error
	InvoiceErr  error
	CheckoutErr error
	CheckoutURL string

	RetrieveCalls int
	InvoiceCalls  int
}

var _ types.PaymentProvider = (*Provider)(nil)

func New(secret string) *Provider {
	return &Provider{
		Secret:         secret,
		subscriptions:  make(map[string]*types.ProviderSubscription),
		invoicePeriods: make(map[string]*types.Period),
		CheckoutURL:    "https://checkout.test/session",
	}
}

// Sign returns the signature header VerifyEvent accepts for payload.
func (p *Provider) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(p.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event builds a signed event envelope around object.
func (p *Provider) Event(id, eventType, object string) (payload []byte, signature string) {
	payload = []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,"data":{"object":%s}}`,
		id, eventType, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), object))
	return payload, p.Sign(payload)
}

func (p *Provider) VerifyEvent(payload []byte, signature string) (*types.ProviderEvent, error) {
	if !hmac.Equal([]byte(signature), []byte(p.Sign(payload))) {
		return nil, types.ErrInvalidSignature
	}
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: invalid envelope", types.ErrMalformedEvent)
	}
	env := gjson.ParseBytes(payload)
	if env.Get("id").String() == "" || env.Get("type").String() == "" {
		return nil, fmt.Errorf("%w: missing id or type", types.ErrMalformedEvent)
	}
	return &types.ProviderEvent{
		ID:      env.Get("id").String(),
		Type:    env.Get("type").String(),
		Created: time.Unix(env.Get("created").Int(), 0).UTC(),
		Object:  []byte(env.Get("data.object").Raw),
	}, nil
}

func (p *Provider) PutSubscription(sub *types.ProviderSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[sub.ID] = sub
}

func (p *Provider) PutInvoicePeriod(invoiceID string, period *types.Period) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoicePeriods[invoiceID] = period
}

func (p *Provider) RetrieveSubscription(_ context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RetrieveCalls++
	if p.RetrieveErr != nil {
		return nil, p.RetrieveErr
	}
	sub, ok := p.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrSubscriptionNotFound, subscriptionID)
	}
	c := *sub
	return &c, nil
}

func (p *Provider) InvoiceLinePeriod(_ context.Context, invoiceID string) (*types.Period, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InvoiceCalls++
	if p.InvoiceErr != nil {
		return nil, p.InvoiceErr
	}
	return p.invoicePeriods[invoiceID], nil
}

func (p *Provider) CreateCheckoutSession(_ context.Context, req types.CheckoutRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CheckoutErr != nil {
		return "", p.CheckoutErr
	}
	p.checkouts = append(p.checkouts, req)
	return p.CheckoutURL, nil
}

func (p *Provider) Checkouts() []types.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.CheckoutRequest(nil), p.checkouts...)
}
