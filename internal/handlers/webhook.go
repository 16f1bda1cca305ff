package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/observability/logger"
	"github.com/BatmanBruc/billing-engine/types"
)

const (
	SignatureHeader = "Stripe-Signature"
	maxWebhookBody  = 1 << 20
)

// PaymentWebhook acknowledges with 200 anything that should not be
// redelivered, 400 for requests that can never succeed and 500 when a
// retry may help.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	res, err := h.webhooks.Handle(ctx, payload, c.GetHeader(SignatureHeader))
	switch {
	case errors.Is(err, types.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	case errors.Is(err, types.ErrMalformedEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
	case err != nil:
		logger.With(h.log, ctx).Error("webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
	}
}
