package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/billing-engine/types"
)

var estimateNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEstimator() *Estimator {
	return NewEstimator(DefaultCosts()).WithClock(func() time.Time { return estimateNow })
}

func accountAged(days int) *types.Account {
	return &types.Account{
		ID:        "acct-1",
		CreatedAt: estimateNow.Add(-time.Duration(days) * 24 * time.Hour),
	}
}

func TestEstimate_ForecastModeSwitch(t *testing.T) {
	e := newTestEstimator()

	young := e.Estimate(accountAged(29))
	assert.Equal(t, int64(29), young.ActiveDays)
	assert.True(t, young.IsEstimatedForecast)

	settled := e.Estimate(accountAged(30))
	assert.Equal(t, int64(30), settled.ActiveDays)
	assert.False(t, settled.IsEstimatedForecast)
}

func TestEstimate_HeuristicForecastUsesProfile(t *testing.T) {
	e := newTestEstimator()
	acct := accountAged(3)
	acct.MonthlyRequestCount = 99999

	est := e.Estimate(acct)

	assert.Equal(t, DefaultCosts().Profile.MonthlyRequests(), est.Forecast.Requests)
	assert.Equal(t, int64(600), est.Forecast.Requests)
}

func TestEstimate_ActualForecastUsesRollingWindow(t *testing.T) {
	e := newTestEstimator()
	acct := accountAged(60)
	acct.MonthlyRequestCount = 100000
	acct.MonthlyResetAt = estimateNow.Add(-10 * 24 * time.Hour)
	acct.LifetimeStoredBytes = BytesPerGB

	est := e.Estimate(acct)

	assert.Equal(t, int64(100000), est.Forecast.Requests)
	assert.Equal(t, "1", est.Forecast.RequestCost.String())
	assert.Equal(t, "0.023", est.Forecast.StorageCost.String())
	assert.Equal(t, "0.03", est.Forecast.ActivityCost.String())
	// 1 + 0.023 + 0.03 + 0.05
	assert.Equal(t, "1.103", est.Forecast.Total.String())
}

func TestEstimate_StaleWindowForecastsNoRequests(t *testing.T) {
	e := newTestEstimator()
	acct := accountAged(90)
	acct.MonthlyRequestCount = 100000
	acct.MonthlyResetAt = estimateNow.Add(-45 * 24 * time.Hour)

	est := e.Estimate(acct)

	assert.False(t, est.IsEstimatedForecast)
	assert.Equal(t, int64(0), est.Forecast.Requests)
	assert.True(t, est.Forecast.RequestCost.IsZero())

	acct.MonthlyResetAt = estimateNow.Add(-30 * 24 * time.Hour)
	assert.Equal(t, int64(0), WindowRequests(acct, estimateNow))
	acct.MonthlyResetAt = estimateNow.Add(-29 * 24 * time.Hour)
	assert.Equal(t, int64(100000), WindowRequests(acct, estimateNow))
}

func TestEstimate_LifetimeCostAndOutstanding(t *testing.T) {
	e := newTestEstimator()
	acct := accountAged(60)
	acct.LifetimeRequestCount = 200000
	acct.LifetimeStoredBytes = 2 * BytesPerGB
	acct.TotalContributions = decimal.RequireFromString("1.00")

	est := e.Estimate(acct)

	// 2.00 requests + 2GB*0.023*2 months + 60*0.001
	assert.Equal(t, "2.152", est.LifetimeCost.String())
	assert.Equal(t, "1.152", est.OutstandingBalance.String())
	assert.Equal(t, BalanceOwing, est.BalanceStatus)
	assert.Equal(t, UsageModerate, est.UsageStatus)
}

func TestEstimate_BalanceAheadAndPaid(t *testing.T) {
	e := newTestEstimator()

	acct := accountAged(10)
	acct.TotalContributions = decimal.RequireFromString("9.41")
	est := e.Estimate(acct)
	assert.Equal(t, BalanceAhead, est.BalanceStatus)
	assert.True(t, est.OutstandingBalance.IsZero())
	assert.Equal(t, UsageSustainable, est.UsageStatus)

	acct = accountAged(10)
	acct.TotalContributions = decimal.RequireFromString("0.005")
	est = e.Estimate(acct)
	assert.Equal(t, BalancePaid, est.BalanceStatus)
}

func TestEstimate_HeavyUsage(t *testing.T) {
	e := newTestEstimator()
	acct := accountAged(40)
	acct.LifetimeRequestCount = 1000000

	assert.Equal(t, UsageHeavy, e.Estimate(acct).UsageStatus)
}

func TestCoverage_Sign(t *testing.T) {
	c := Coverage(decimal.NewFromInt(20), decimal.NewFromInt(15), true)
	assert.True(t, c.CoversUsage)
	assert.Equal(t, "5", c.Surplus.String())

	c = Coverage(decimal.NewFromInt(10), decimal.NewFromInt(15), true)
	assert.False(t, c.CoversUsage)
	assert.Equal(t, "-5", c.Surplus.String())

	c = Coverage(decimal.NewFromInt(20), decimal.NewFromInt(15), false)
	assert.False(t, c.CoversUsage)
}

func TestEstimate_PeriodReconciliation(t *testing.T) {
	e := newTestEstimator()
	start := estimateNow.Add(-15 * 24 * time.Hour)
	end := start.Add(30 * 24 * time.Hour)
	acct := accountAged(90)
	acct.PeriodRequestCount = 10000
	acct.Subscription = &types.Subscription{
		ProviderSubscriptionID: "sub_1",
		Status:                 types.SubscriptionCanceled,
		MonthlyAmount:          decimal.NewNullDecimal(decimal.NewFromInt(5)),
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
		LastPaymentAmount:      decimal.NewNullDecimal(decimal.NewFromInt(5)),
	}

	est := e.Estimate(acct)

	require.NotNil(t, est.Period)
	assert.Equal(t, int64(15), est.Period.DaysElapsed)
	// 0.1 requests + 15*0.001 days + 0.05*0.5 database
	assert.Equal(t, "0.14", est.Period.UsageCost.String())
	assert.Equal(t, "4.86", est.Period.Balance.String())

	require.NotNil(t, est.Subscription)
	assert.False(t, est.Subscription.CoversUsage)
}

func TestEstimate_NoPeriodForPastDue(t *testing.T) {
	e := newTestEstimator()
	start := estimateNow.Add(-5 * 24 * time.Hour)
	acct := accountAged(90)
	acct.Subscription = &types.Subscription{
		Status:             types.SubscriptionPastDue,
		CurrentPeriodStart: &start,
	}

	est := e.Estimate(acct)

	assert.Nil(t, est.Period)
	require.NotNil(t, est.Subscription)
	assert.True(t, est.Subscription.MonthlyAmount.IsZero())
}

func TestActiveDays(t *testing.T) {
	assert.Equal(t, int64(1), ActiveDays(estimateNow, estimateNow))
	assert.Equal(t, int64(1), ActiveDays(time.Time{}, estimateNow))
	assert.Equal(t, int64(1), ActiveDays(estimateNow.Add(-36*time.Hour), estimateNow))
	assert.Equal(t, int64(2), ActiveDays(estimateNow.Add(-48*time.Hour), estimateNow))
}
