package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/estimates"
	"github.com/BatmanBruc/billing-engine/internal/ledger"
	"github.com/BatmanBruc/billing-engine/internal/middleware"
	"github.com/BatmanBruc/billing-engine/internal/observability/metrics"
	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/internal/provider/fake"
	"github.com/BatmanBruc/billing-engine/internal/webhook"
	"github.com/BatmanBruc/billing-engine/store"
	"github.com/BatmanBruc/billing-engine/types"
)

type usage struct {
	mu       sync.Mutex
	requests []types.AccountID
	storage  []int64
}

func (u *usage) RecordRequest(id types.AccountID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, id)
}

func (u *usage) RecordStorageDelta(_ types.AccountID, delta int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.storage = append(u.storage, delta)
}

type failingEstimates struct{}

func (failingEstimates) Get(context.Context, types.AccountID) (pricing.CostEstimate, error) {
	return pricing.CostEstimate{}, errors.New("database is down")
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type env struct {
	router   *gin.Engine
	store    *store.MemoryStore
	provider *fake.Provider
	usage    *usage
}

func newEnv(t *testing.T, override func(*Deps)) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	p := fake.New("whsec_test")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	est := estimates.NewService(s, pricing.NewEstimator(pricing.DefaultCosts()), estimates.NewMemoryCache(), 0, m, nil)
	l := ledger.New(s, p, pricing.DefaultFeeSchedule(), nil)
	proc := webhook.NewProcessor(p, l, s, nil, webhook.WithInvalidator(est), webhook.WithMetrics(m))
	u := &usage{}

	deps := Deps{
		Webhooks:  proc,
		Estimates: est,
		Ledger:    l,
		Checkout:  p,
		Usage:     u,
		Fees:      pricing.DefaultFeeSchedule(),
		Health:    s,
	}
	if override != nil {
		override(&deps)
	}

	mw := middleware.New(u, zap.NewNop())
	r := gin.New()
	r.Use(mw.RequestID(), mw.ResolveAccount())
	NewHandlers(deps, zap.NewNop()).Register(r, mw, metrics.Handler(reg))
	return &env{router: r, store: s, provider: p, usage: u}
}

func (e *env) do(method, path, account string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if account != "" {
		req.Header.Set(middleware.HeaderAccountID, account)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPaymentWebhook(t *testing.T) {
	e := newEnv(t, nil)
	payload, sig := e.provider.Event("evt_1", "checkout.session.completed", `{
		"id": "cs_1", "mode": "payment", "payment_status": "paid",
		"amount_total": 1000, "payment_intent": "pi_1",
		"metadata": {"accountId": "acct-1"}}`)

	w := e.do(http.MethodPost, "/webhooks/payments", "", payload, map[string]string{SignatureHeader: sig})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", decode(t, w)["outcome"])

	w = e.do(http.MethodPost, "/webhooks/payments", "", payload, map[string]string{SignatureHeader: sig})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decode(t, w)["outcome"])

	w = e.do(http.MethodPost, "/webhooks/payments", "", payload, map[string]string{SignatureHeader: "forged"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	garbage := []byte(`[]`)
	w = e.do(http.MethodPost, "/webhooks/payments", "", garbage, map[string]string{SignatureHeader: e.provider.Sign(garbage)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	a, err := e.store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "9.41", a.TotalContributions.StringFixed(2))

	w = e.do(http.MethodGet, "/metrics", "", nil, nil)
	assert.Contains(t, w.Body.String(), `billing_webhook_events_total{outcome="processed",type="checkout.session.completed"} 1`)
}

func TestContributions(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(http.MethodGet, "/accounts/me/contributions", "acct-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"contributions": []}`, w.Body.String())

	payload, sig := e.provider.Event("evt_1", "checkout.session.completed", `{
		"id": "cs_1", "mode": "payment", "amount_total": 500, "payment_intent": "pi_1",
		"metadata": {"accountId": "acct-1"}}`)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/webhooks/payments", "", payload, map[string]string{SignatureHeader: sig}).Code)

	w = e.do(http.MethodGet, "/accounts/me/contributions?limit=5", "acct-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["contributions"].([]any)
	require.Len(t, list, 1)

	w = e.do(http.MethodGet, "/accounts/me/contributions?limit=zero", "acct-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEstimate(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(http.MethodGet, "/accounts/me/estimate", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/accounts/me/estimate", "acct-new", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"visible": false}, decode(t, w))

	require.NoError(t, e.store.RecordRequest(context.Background(), "acct-1", time.Now()))
	w = e.do(http.MethodGet, "/accounts/me/estimate", "acct-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["visible"])
	est := body["estimate"].(map[string]any)
	assert.Equal(t, true, est["is_estimated_forecast"])
	assert.Equal(t, float64(1), est["lifetime_requests"])

	assert.Contains(t, e.usage.requests, types.AccountID("acct-1"))
}

func TestEstimate_HidesOnFailure(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Estimates = failingEstimates{} })

	w := e.do(http.MethodGet, "/accounts/me/estimate", "acct-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"visible": false}, decode(t, w))
}

func TestCheckout(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(http.MethodPost, "/checkout", "acct-1", []byte(`{"amount": "5.00", "frequency": "monthly", "tier": "supporter"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, e.provider.CheckoutURL, decode(t, w)["url"])

	reqs := e.provider.Checkouts()
	require.Len(t, reqs, 1)
	assert.Equal(t, types.AccountID("acct-1"), reqs[0].AccountID)
	assert.Equal(t, types.FrequencyMonthly, reqs[0].Frequency)
	assert.Equal(t, "5", reqs[0].Amount.String())
	assert.Equal(t, "supporter", reqs[0].TierLabel)

	for _, body := range []string{`{}`, `{"amount": "-1"}`, `{"amount": "0"}`, `{"amount": "5", "frequency": "weekly"}`} {
		w = e.do(http.MethodPost, "/checkout", "acct-1", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestCheckout_ProviderErrorVerbatim(t *testing.T) {
	e := newEnv(t, nil)
	e.provider.CheckoutErr = errors.New("Amount must be at least 50 cents")

	w := e.do(http.MethodPost, "/checkout", "acct-1", []byte(`{"amount": "0.10"}`), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Amount must be at least 50 cents", decode(t, w)["error"])

	e.provider.CheckoutErr = fmt.Errorf("stripe provider: %w", &types.ProviderError{Message: "Amount must be at least 50 cents"})
	w = e.do(http.MethodPost, "/checkout", "acct-1", []byte(`{"amount": "0.10"}`), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Amount must be at least 50 cents", decode(t, w)["error"])
}

func TestFeePreview(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(http.MethodGet, "/fees/preview?amount=10.00", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"gross": "10", "fee": "0.59", "net": "9.41"}`, w.Body.String())

	w = e.do(http.MethodGet, "/fees/preview?amount=ten", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageEndpoints(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(http.MethodPost, "/usage/requests", "acct-1", nil, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = e.do(http.MethodPost, "/usage/storage", "acct-1", []byte(`{"delta_bytes": -2048}`), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = e.do(http.MethodPost, "/usage/storage", "acct-1", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []types.AccountID{"acct-1"}, e.usage.requests)
	assert.Equal(t, []int64{-2048}, e.usage.storage)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "", nil, nil).Code)

	e = newEnv(t, func(d *Deps) { d.Health = downPinger{} })
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodGet, "/healthz", "", nil, nil).Code)
}
