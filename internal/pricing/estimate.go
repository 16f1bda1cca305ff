package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/BatmanBruc/billing-engine/types"
)

type UsageStatus string

const (
	UsageSustainable UsageStatus = "sustainable"
	UsageModerate    UsageStatus = "moderate"
	UsageHeavy       UsageStatus = "heavy"
)

type BalanceStatus string

const (
	BalanceAhead BalanceStatus = "ahead"
	BalanceOwing BalanceStatus = "owing"
	BalancePaid  BalanceStatus = "paid"
)

var (
	oneCent     = decimal.RequireFromString("0.01")
	daysInMonth = decimal.NewFromInt(DaysPerMonth)
)

type CostEstimate struct {
	AccountID  types.AccountID `json:"account_id"`
	ActiveDays int64           `json:"active_days"`

	LifetimeRequests    int64           `json:"lifetime_requests"`
	LifetimeStoredBytes int64           `json:"lifetime_stored_bytes"`
	LifetimeCost        decimal.Decimal `json:"lifetime_cost"`
	TotalContributions  decimal.Decimal `json:"total_contributions"`
	OutstandingBalance  decimal.Decimal `json:"outstanding_balance"`

	Forecast            MonthlyForecast `json:"forecast"`
	IsEstimatedForecast bool            `json:"is_estimated_forecast"`

	Subscription *SubscriptionCoverage `json:"subscription,omitempty"`
	Period       *PeriodBalance        `json:"period,omitempty"`

	UsageStatus   UsageStatus   `json:"usage_status"`
	BalanceStatus BalanceStatus `json:"balance_status"`
	ComputedAt    time.Time     `json:"computed_at"`
}

type MonthlyForecast struct {
	Requests     int64           `json:"requests"`
	StoredBytes  int64           `json:"stored_bytes"`
	RequestCost  decimal.Decimal `json:"request_cost"`
	StorageCost  decimal.Decimal `json:"storage_cost"`
	ActivityCost decimal.Decimal `json:"activity_cost"`
	DatabaseCost decimal.Decimal `json:"database_cost"`
	Total        decimal.Decimal `json:"total"`
}

type SubscriptionCoverage struct {
	Status        types.SubscriptionStatus `json:"status"`
	TierName      string                   `json:"tier_name,omitempty"`
	MonthlyAmount decimal.Decimal          `json:"monthly_amount"`
	Surplus       decimal.Decimal          `json:"surplus"`
	CoversUsage   bool                     `json:"covers_usage"`
}

type PeriodBalance struct {
	Start             time.Time       `json:"start"`
	End               *time.Time      `json:"end,omitempty"`
	DaysElapsed       int64           `json:"days_elapsed"`
	Requests          int64           `json:"requests"`
	StoredBytes       int64           `json:"stored_bytes"`
	UsageCost         decimal.Decimal `json:"usage_cost"`
	LastPaymentAmount decimal.Decimal `json:"last_payment_amount"`
	Balance           decimal.Decimal `json:"balance"`
}

// Estimator derives cost figures from an account snapshot. It never writes.
type Estimator struct {
	costs Costs
	now   func() time.Time
}

func NewEstimator(costs Costs) *Estimator {
	return &Estimator{costs: costs, now: time.Now}
}

// WithClock replaces the time source, mostly for tests.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	return e
}

func (e *Estimator) Costs() Costs {
	return e.costs
}

func (e *Estimator) Estimate(acct *types.Account) CostEstimate {
	now := e.now().UTC()
	days := ActiveDays(acct.CreatedAt, now)

	est := CostEstimate{
		AccountID:           acct.ID,
		ActiveDays:          days,
		LifetimeRequests:    acct.LifetimeRequestCount,
		LifetimeStoredBytes: acct.LifetimeStoredBytes,
		TotalContributions:  acct.TotalContributions,
		ComputedAt:          now,
	}

	est.LifetimeCost = e.LifetimeCost(acct.LifetimeRequestCount, acct.LifetimeStoredBytes, days)
	est.OutstandingBalance = decimal.Max(decimal.Zero, est.LifetimeCost.Sub(acct.TotalContributions))

	est.IsEstimatedForecast = IsEstimatedForecast(days)
	if est.IsEstimatedForecast {
		est.Forecast = e.forecast(e.costs.Profile.MonthlyRequests(), acct.LifetimeStoredBytes+e.costs.Profile.MonthlyStoredBytes())
	} else {
		est.Forecast = e.forecast(WindowRequests(acct, now), acct.LifetimeStoredBytes)
	}

	if sub := acct.Subscription; sub != nil {
		amount := decimal.Zero
		if sub.MonthlyAmount.Valid {
			amount = sub.MonthlyAmount.Decimal
		}
		c := Coverage(amount, est.Forecast.Total, sub.Status == types.SubscriptionActive)
		c.Status = sub.Status
		c.TierName = sub.TierName
		est.Subscription = &c

		if sub.HasOpenPeriod() {
			est.Period = e.periodBalance(acct, now)
		}
	}

	est.UsageStatus = e.classifyUsage(est.LifetimeCost)
	est.BalanceStatus = classifyBalance(acct.TotalContributions, est.LifetimeCost, est.OutstandingBalance)
	return est
}

// WindowRequests returns the request count of the rolling monthly window,
// or zero when no request has opened a new window for a full month.
func WindowRequests(acct *types.Account, now time.Time) int64 {
	if now.Sub(acct.MonthlyResetAt) >= DaysPerMonth*24*time.Hour {
		return 0
	}
	return acct.MonthlyRequestCount
}

// LifetimeCost charges storage for at least one month even for new accounts.
func (e *Estimator) LifetimeCost(requests, storedBytes, activeDays int64) decimal.Decimal {
	months := decimal.Max(decimal.NewFromInt(1), decimal.NewFromInt(activeDays).Div(daysInMonth))
	return e.usageCost(requests, storedBytes, activeDays, months)
}

func (e *Estimator) usageCost(requests, storedBytes, days int64, months decimal.Decimal) decimal.Decimal {
	reqCost := decimal.NewFromInt(requests).Mul(e.costs.PerRequest)
	storageCost := gigabytes(storedBytes).Mul(e.costs.PerGBMonth).Mul(months)
	dayCost := decimal.NewFromInt(days).Mul(e.costs.PerActiveDay)
	return reqCost.Add(storageCost).Add(dayCost).Round(6)
}

func (e *Estimator) forecast(requests, storedBytes int64) MonthlyForecast {
	f := MonthlyForecast{
		Requests:     requests,
		StoredBytes:  storedBytes,
		RequestCost:  decimal.NewFromInt(requests).Mul(e.costs.PerRequest).Round(6),
		StorageCost:  gigabytes(storedBytes).Mul(e.costs.PerGBMonth).Round(6),
		ActivityCost: daysInMonth.Mul(e.costs.PerActiveDay).Round(6),
		DatabaseCost: e.costs.DatabaseMonthly,
	}
	f.Total = f.RequestCost.Add(f.StorageCost).Add(f.ActivityCost).Add(f.DatabaseCost)
	return f
}

func (e *Estimator) periodBalance(acct *types.Account, now time.Time) *PeriodBalance {
	sub := acct.Subscription
	elapsed := ActiveDays(*sub.CurrentPeriodStart, now)
	months := decimal.NewFromInt(elapsed).Div(daysInMonth)

	cost := e.usageCost(acct.PeriodRequestCount, acct.PeriodStoredBytes, elapsed, months)
	cost = cost.Add(e.costs.DatabaseMonthly.Mul(months)).Round(6)

	paid := decimal.Zero
	if sub.LastPaymentAmount.Valid {
		paid = sub.LastPaymentAmount.Decimal
	}
	return &PeriodBalance{
		Start:             *sub.CurrentPeriodStart,
		End:               sub.CurrentPeriodEnd,
		DaysElapsed:       elapsed,
		Requests:          acct.PeriodRequestCount,
		StoredBytes:       acct.PeriodStoredBytes,
		UsageCost:         cost,
		LastPaymentAmount: paid,
		Balance:           paid.Sub(cost),
	}
}

func (e *Estimator) classifyUsage(lifetime decimal.Decimal) UsageStatus {
	switch {
	case lifetime.LessThanOrEqual(e.costs.LowThreshold):
		return UsageSustainable
	case lifetime.LessThan(e.costs.HighThreshold):
		return UsageModerate
	default:
		return UsageHeavy
	}
}

func classifyBalance(contributions, lifetime, outstanding decimal.Decimal) BalanceStatus {
	switch {
	case contributions.GreaterThan(lifetime):
		return BalanceAhead
	case outstanding.GreaterThan(oneCent):
		return BalanceOwing
	default:
		return BalancePaid
	}
}

// Coverage compares a subscription amount against a monthly forecast.
func Coverage(monthlyAmount, forecastTotal decimal.Decimal, active bool) SubscriptionCoverage {
	surplus := monthlyAmount.Sub(forecastTotal)
	return SubscriptionCoverage{
		MonthlyAmount: monthlyAmount,
		Surplus:       surplus,
		CoversUsage:   active && !surplus.IsNegative(),
	}
}

// IsEstimatedForecast reports whether an account is too young for its own
// rolling window to be used.
func IsEstimatedForecast(activeDays int64) bool {
	return activeDays < ForecastMinDays
}

// ActiveDays counts whole days since since, with a minimum of one.
func ActiveDays(since, now time.Time) int64 {
	if since.IsZero() || !now.After(since) {
		return 1
	}
	days := int64(now.Sub(since) / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}
