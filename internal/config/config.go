package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/BatmanBruc/billing-engine/internal/i18n"
	"github.com/BatmanBruc/billing-engine/internal/metering"
	"github.com/BatmanBruc/billing-engine/internal/observability/logger"
	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/internal/provider/stripe"
)

const DefaultEnvFile = "config.env"

type Config struct {
	HTTPAddr string
	// Store is "postgres" or "memory".
	Store       string
	PostgresDSN string

	Redis RedisConfig

	Stripe stripe.Config

	Fees  pricing.FeeSchedule
	Costs pricing.Costs

	Meter       metering.Config
	EstimateTTL time.Duration

	Telegram TelegramConfig
	Log      logger.Config
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Prefix   string
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

type TelegramConfig struct {
	BotToken       string
	OperatorChatID int64
	Lang           i18n.Lang
}

func (t TelegramConfig) Enabled() bool { return t.BotToken != "" && t.OperatorChatID != 0 }

func setDefaults(v *viper.Viper) {
	costs := pricing.DefaultCosts()
	fees := pricing.DefaultFeeSchedule()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store", "postgres")
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "billing")

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.success_url", "http://localhost:3000/support/thanks")
	v.SetDefault("stripe.cancel_url", "http://localhost:3000/support")
	v.SetDefault("stripe.product_name", "Contribution")
	v.SetDefault("billing.currency", "usd")

	v.SetDefault("fee.percent", fees.PercentRate.String())
	v.SetDefault("fee.flat", fees.FlatFee.String())

	v.SetDefault("cost.per_request", costs.PerRequest.String())
	v.SetDefault("cost.per_gb_month", costs.PerGBMonth.String())
	v.SetDefault("cost.per_active_day", costs.PerActiveDay.String())
	v.SetDefault("cost.database_monthly", costs.DatabaseMonthly.String())
	v.SetDefault("cost.low_threshold", costs.LowThreshold.String())
	v.SetDefault("cost.high_threshold", costs.HighThreshold.String())

	v.SetDefault("meter.workers", 3)
	v.SetDefault("meter.buffer", 1024)
	v.SetDefault("meter.write_timeout", "5s")
	v.SetDefault("estimate.cache_ttl", "1m")

	v.SetDefault("bot.token", "")
	v.SetDefault("operator.chat_id", 0)
	v.SetDefault("operator.lang", "en")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// New returns a viper instance reading the environment, where the key
// "redis.host" maps to REDIS_HOST.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads envFile into the environment and builds the configuration.
func Load(envFile string) (Config, error) {
	if _, err := LoadEnvFile(envFile); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromViper(New())
}

func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:    v.GetString("http.addr"),
		Store:       strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		PostgresDSN: v.GetString("postgres.dsn"),
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		Stripe: stripe.Config{
			SecretKey:     v.GetString("stripe.secret_key"),
			WebhookSecret: v.GetString("stripe.webhook_secret"),
			SuccessURL:    v.GetString("stripe.success_url"),
			CancelURL:     v.GetString("stripe.cancel_url"),
			Currency:      strings.ToLower(v.GetString("billing.currency")),
			ProductName:   v.GetString("stripe.product_name"),
		},
		Meter: metering.Config{
			Workers:      v.GetInt("meter.workers"),
			BufferSize:   v.GetInt("meter.buffer"),
			WriteTimeout: v.GetDuration("meter.write_timeout"),
		},
		EstimateTTL: v.GetDuration("estimate.cache_ttl"),
		Telegram: TelegramConfig{
			BotToken:       v.GetString("bot.token"),
			OperatorChatID: v.GetInt64("operator.chat_id"),
			Lang:           i18n.Parse(v.GetString("operator.lang")),
		},
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	switch cfg.Store {
	case "postgres", "memory":
	default:
		return Config{}, fmt.Errorf("unknown store %q", cfg.Store)
	}

	var err error
	dec := func(key string) decimal.Decimal {
		if err != nil {
			return decimal.Zero
		}
		var d decimal.Decimal
		d, err = decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			err = fmt.Errorf("%s: %w", key, err)
		}
		return d
	}

	cfg.Fees = pricing.FeeSchedule{
		PercentRate: dec("fee.percent"),
		FlatFee:     dec("fee.flat"),
	}
	cfg.Costs = pricing.DefaultCosts()
	cfg.Costs.PerRequest = dec("cost.per_request")
	cfg.Costs.PerGBMonth = dec("cost.per_gb_month")
	cfg.Costs.PerActiveDay = dec("cost.per_active_day")
	cfg.Costs.DatabaseMonthly = dec("cost.database_monthly")
	cfg.Costs.LowThreshold = dec("cost.low_threshold")
	cfg.Costs.HighThreshold = dec("cost.high_threshold")
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
