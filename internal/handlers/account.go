package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/contextkeys"
	"github.com/BatmanBruc/billing-engine/internal/observability/logger"
	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/types"
)

// Estimate never fails: when no estimate can be produced the widget is told
// to hide itself.
func (h *Handlers) Estimate(c *gin.Context) {
	ctx := c.Request.Context()
	accountID, _ := contextkeys.GetAccountID(ctx)

	est, err := h.estimates.Get(ctx, accountID)
	if err != nil {
		log := logger.With(h.log, ctx)
		if errors.Is(err, types.ErrAccountNotFound) {
			log.Debug("no billing record yet")
		} else {
			log.Warn("cost estimate unavailable", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"visible": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"visible": true, "estimate": est})
}

const (
	defaultContributionLimit = 20
	maxContributionLimit     = 100
)

// Contributions lists the caller's contributions, newest first.
func (h *Handlers) Contributions(c *gin.Context) {
	ctx := c.Request.Context()
	accountID, _ := contextkeys.GetAccountID(ctx)

	limit := defaultContributionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxContributionLimit)
	}

	list, err := h.ledger.Contributions(ctx, accountID, limit)
	if err != nil {
		logger.With(h.log, ctx).Error("list contributions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "contributions unavailable"})
		return
	}
	if list == nil {
		list = []types.Contribution{}
	}
	c.JSON(http.StatusOK, gin.H{"contributions": list})
}

type checkoutRequest struct {
	Amount    string                  `json:"amount" binding:"required"`
	Frequency types.CheckoutFrequency `json:"frequency"`
	Tier      string                  `json:"tier"`
}

func (h *Handlers) Checkout(c *gin.Context) {
	ctx := c.Request.Context()
	accountID, _ := contextkeys.GetAccountID(ctx)

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
		return
	}
	amount, err := pricing.ParseAmount(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	switch req.Frequency {
	case "":
		req.Frequency = types.FrequencyOneTime
	case types.FrequencyOneTime, types.FrequencyMonthly:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "frequency must be one_time or monthly"})
		return
	}

	url, err := h.checkout.CreateCheckoutSession(ctx, types.CheckoutRequest{
		AccountID: accountID,
		Amount:    amount,
		Frequency: req.Frequency,
		TierLabel: strings.TrimSpace(req.Tier),
	})
	if err != nil {
		logger.With(h.log, ctx).Warn("checkout session failed", zap.Error(err))
		msg := err.Error()
		var perr *types.ProviderError
		if errors.As(err, &perr) {
			msg = perr.Message
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handlers) FeePreview(c *gin.Context) {
	gross, err := pricing.ParseAmount(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	c.JSON(http.StatusOK, h.fees.Breakdown(gross))
}

func (h *Handlers) RecordRequest(c *gin.Context) {
	accountID, _ := contextkeys.GetAccountID(c.Request.Context())
	h.usage.RecordRequest(accountID)
	c.Status(http.StatusAccepted)
}

type storageRequest struct {
	DeltaBytes *int64 `json:"delta_bytes" binding:"required"`
}

func (h *Handlers) RecordStorage(c *gin.Context) {
	accountID, _ := contextkeys.GetAccountID(c.Request.Context())

	var req storageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "delta_bytes is required"})
		return
	}
	h.usage.RecordStorageDelta(accountID, *req.DeltaBytes)
	c.Status(http.StatusAccepted)
}

func (h *Handlers) Healthz(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			logger.With(h.log, ctx).Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
