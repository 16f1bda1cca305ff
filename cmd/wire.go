package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/config"
	"github.com/BatmanBruc/billing-engine/internal/estimates"
	"github.com/BatmanBruc/billing-engine/internal/ledger"
	"github.com/BatmanBruc/billing-engine/internal/metering"
	"github.com/BatmanBruc/billing-engine/internal/notify"
	"github.com/BatmanBruc/billing-engine/internal/observability/logger"
	"github.com/BatmanBruc/billing-engine/internal/observability/metrics"
	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/internal/provider/stripe"
	"github.com/BatmanBruc/billing-engine/internal/webhook"
	"github.com/BatmanBruc/billing-engine/store"
	"github.com/BatmanBruc/billing-engine/types"
)

type configLoader func() (config.Config, error)

type notifier interface {
	webhook.Notifier
	Close()
}

type app struct {
	cfg       config.Config
	log       *zap.Logger
	store     types.Store
	redis     *store.RedisClient
	registry  *prometheus.Registry
	metrics   *metrics.BillingMetrics
	provider  types.PaymentProvider
	estimates *estimates.Service
	ledger    *ledger.Ledger
	meter     *metering.Meter
	webhooks  *webhook.Processor
	notifier  notifier
}

func openStore(ctx context.Context, cfg config.Config) (types.Store, error) {
	if cfg.Store == "memory" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return s, nil
}

func wireApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: st}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	var cache estimates.Cache = estimates.NewMemoryCache()
	switch {
	case cfg.EstimateTTL < 0:
		cache = estimates.NewDisabledCache()
	case cfg.Redis.Enabled():
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.redis = rdb
		cache = estimates.NewRedisCache(rdb)
	}
	a.estimates = estimates.NewService(st, pricing.NewEstimator(cfg.Costs), cache, cfg.EstimateTTL, a.metrics, log)

	a.notifier = notify.Nop{}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegramBot(cfg.Telegram.BotToken, cfg.Telegram.OperatorChatID, cfg.Telegram.Lang, log)
		if err != nil {
			log.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			a.notifier = tg
		}
	}

	a.provider = stripe.New(cfg.Stripe)
	a.ledger = ledger.New(st, a.provider, cfg.Fees, log)
	a.webhooks = webhook.NewProcessor(a.provider, a.ledger, st, log,
		webhook.WithNotifier(a.notifier),
		webhook.WithInvalidator(a.estimates),
		webhook.WithMetrics(a.metrics))

	a.meter = metering.NewMeter(st, log, a.metrics, cfg.Meter)
	return a, nil
}

func (a *app) Close() {
	a.notifier.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.store.Close()
	_ = a.log.Sync()
}
