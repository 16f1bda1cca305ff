package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/middleware"
	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/internal/webhook"
	"github.com/BatmanBruc/billing-engine/types"
)

type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (webhook.Result, error)
}

type EstimateSource interface {
	Get(ctx context.Context, accountID types.AccountID) (pricing.CostEstimate, error)
}

type ContributionLister interface {
	Contributions(ctx context.Context, accountID types.AccountID, limit int) ([]types.Contribution, error)
}

type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (string, error)
}

// UsageRecorder is the asynchronous usage meter.
type UsageRecorder interface {
	RecordRequest(accountID types.AccountID)
	RecordStorageDelta(accountID types.AccountID, deltaBytes int64)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	webhooks  WebhookProcessor
	estimates EstimateSource
	ledger    ContributionLister
	checkout  CheckoutCreator
	usage     UsageRecorder
	fees      pricing.FeeSchedule
	health    Pinger
	log       *zap.Logger
}

type Deps struct {
	Webhooks  WebhookProcessor
	Estimates EstimateSource
	Ledger    ContributionLister
	Checkout  CheckoutCreator
	Usage     UsageRecorder
	Fees      pricing.FeeSchedule
	Health    Pinger
}

func NewHandlers(deps Deps, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		webhooks:  deps.Webhooks,
		estimates: deps.Estimates,
		ledger:    deps.Ledger,
		checkout:  deps.Checkout,
		usage:     deps.Usage,
		fees:      deps.Fees,
		health:    deps.Health,
		log:       log.Named("handlers"),
	}
}

// Register mounts every route on r. metrics may be nil.
func (h *Handlers) Register(r gin.IRouter, mw *middleware.Middlewares, metrics http.Handler) {
	r.GET("/healthz", h.Healthz)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	r.POST("/webhooks/payments", h.PaymentWebhook)
	r.GET("/fees/preview", h.FeePreview)

	api := r.Group("/", mw.RequireAccount())
	api.POST("/usage/requests", h.RecordRequest)
	api.POST("/usage/storage", h.RecordStorage)

	metered := api.Group("/", mw.CountRequests())
	metered.GET("/accounts/me/estimate", h.Estimate)
	metered.GET("/accounts/me/contributions", h.Contributions)
	metered.POST("/checkout", h.Checkout)
}
