package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/contextkeys"
	"github.com/BatmanBruc/billing-engine/internal/observability/logger"
	"github.com/BatmanBruc/billing-engine/types"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderAccountID = "X-Account-ID"
)

// RequestCounter is the part of the usage meter the middleware needs.
type RequestCounter interface {
	RecordRequest(accountID types.AccountID)
}

type Middlewares struct {
	counter RequestCounter
	log     *zap.Logger
}

func New(counter RequestCounter, log *zap.Logger) *Middlewares {
	if log == nil {
		log = zap.NewNop()
	}
	return &Middlewares{counter: counter, log: log.Named("http")}
}

// RequestID propagates the caller's request id or assigns a new one.
func (m *Middlewares) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(contextkeys.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// ResolveAccount reads the account id set by the session layer in front of
// this service. Requests without one pass through unattributed.
func (m *Middlewares) ResolveAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderAccountID)); id != "" {
			c.Request = c.Request.WithContext(contextkeys.WithAccountID(c.Request.Context(), types.AccountID(id)))
		}
		c.Next()
	}
}

func (m *Middlewares) RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := contextkeys.GetAccountID(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account required"})
			return
		}
		c.Next()
	}
}

// CountRequests meters every attributed request after it has been served.
func (m *Middlewares) CountRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m.counter == nil {
			return
		}
		if id, ok := contextkeys.GetAccountID(c.Request.Context()); ok {
			m.counter.RecordRequest(id)
		}
	}
}

func (m *Middlewares) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		log := logger.With(m.log, c.Request.Context())
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request rejected", fields...)
		default:
			log.Debug("request served", fields...)
		}
	}
}
