package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/billing-engine/internal/i18n"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
export BILLING_TEST_A="quoted value"
BILLING_TEST_B = 'single'
BILLING_TEST_C=preset
not a pair
=novalue
`), 0o600))
	t.Setenv("BILLING_TEST_C", "from env")
	t.Setenv("BILLING_TEST_A", "")
	require.NoError(t, os.Unsetenv("BILLING_TEST_A"))
	t.Setenv("BILLING_TEST_B", "")
	require.NoError(t, os.Unsetenv("BILLING_TEST_B"))

	loaded, err := LoadEnvFile(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"BILLING_TEST_A", "BILLING_TEST_B"}, loaded)
	assert.Equal(t, "quoted value", os.Getenv("BILLING_TEST_A"))
	assert.Equal(t, "single", os.Getenv("BILLING_TEST_B"))
	assert.Equal(t, "from env", os.Getenv("BILLING_TEST_C"))
}

func TestLoadEnvFile_Missing(t *testing.T) {
	loaded, err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := FromViper(New())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "2.9", cfg.Fees.PercentRate.String())
	assert.Equal(t, "0.3", cfg.Fees.FlatFee.String())
	assert.Equal(t, "0.00001", cfg.Costs.PerRequest.String())
	assert.Equal(t, int64(3), cfg.Costs.Profile.MealsPerDay)
	assert.Equal(t, 3, cfg.Meter.Workers)
	assert.Equal(t, time.Minute, cfg.EstimateTTL)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Telegram.Enabled())
}

func TestFromViper_Environment(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("FEE_PERCENT", "3.5")
	t.Setenv("ESTIMATE_CACHE_TTL", "30s")
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("OPERATOR_CHAT_ID", "42")
	t.Setenv("OPERATOR_LANG", "ru")

	cfg, err := FromViper(New())
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
	assert.Equal(t, "3.5", cfg.Fees.PercentRate.String())
	assert.Equal(t, 30*time.Second, cfg.EstimateTTL)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, i18n.RU, cfg.Telegram.Lang)
}

func TestFromViper_Invalid(t *testing.T) {
	t.Setenv("FEE_FLAT", "thirty cents")
	_, err := FromViper(New())
	assert.ErrorContains(t, err, "fee.flat")

	t.Setenv("FEE_FLAT", "0.30")
	t.Setenv("STORE", "sqlite")
	_, err = FromViper(New())
	assert.Error(t, err)
}
