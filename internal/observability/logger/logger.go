package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BatmanBruc/billing-engine/internal/contextkeys"
)

type Config struct {
	Level  string
	Format string // json | console
}

// New builds the process logger and installs it as the zap global.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(cfg.Level)))); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	var zc zap.Config
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = level

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

// FromContext returns the global logger annotated with the request and
// account ids carried by ctx.
func FromContext(ctx context.Context) *zap.Logger {
	return With(zap.L(), ctx)
}

func With(l *zap.Logger, ctx context.Context) *zap.Logger {
	if l == nil {
		l = zap.L()
	}
	if ctx == nil {
		return l
	}
	fields := make([]zap.Field, 0, 2)
	if id, ok := contextkeys.GetRequestID(ctx); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := contextkeys.GetAccountID(ctx); ok && id != "" {
		fields = append(fields, zap.String("account_id", string(id)))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Security tags an entry as a security event.
func Security() zap.Field {
	return zap.String("event", "security")
}
