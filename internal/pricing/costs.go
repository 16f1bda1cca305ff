package pricing

import "github.com/shopspring/decimal"

const (
	BytesPerGB      = 1024 * 1024 * 1024
	DaysPerMonth    = 30
	ForecastMinDays = 30
)

// UsageProfile is the assumed daily activity of an account too young to
// have a trustworthy history of its own.
type UsageProfile struct {
	MealsPerDay      int64
	WorkoutsPerDay   int64
	ImagesPerDay     int64
	RequestsPerEntry int64
	BytesPerImage    int64
}

func (p UsageProfile) MonthlyRequests() int64 {
	return (p.MealsPerDay + p.WorkoutsPerDay + p.ImagesPerDay) * p.RequestsPerEntry * DaysPerMonth
}

func (p UsageProfile) MonthlyStoredBytes() int64 {
	return p.ImagesPerDay * p.BytesPerImage * DaysPerMonth
}

type Costs struct {
	PerRequest      decimal.Decimal
	PerGBMonth      decimal.Decimal
	PerActiveDay    decimal.Decimal
	DatabaseMonthly decimal.Decimal

	Profile UsageProfile

	// Lifetime cost at or below LowThreshold is sustainable, below
	// HighThreshold moderate, anything else heavy.
	LowThreshold  decimal.Decimal
	HighThreshold decimal.Decimal
}

func DefaultCosts() Costs {
	return Costs{
		PerRequest:      decimal.RequireFromString("0.00001"),
		PerGBMonth:      decimal.RequireFromString("0.023"),
		PerActiveDay:    decimal.RequireFromString("0.001"),
		DatabaseMonthly: decimal.RequireFromString("0.05"),
		Profile: UsageProfile{
			MealsPerDay:      3,
			WorkoutsPerDay:   1,
			ImagesPerDay:     1,
			RequestsPerEntry: 4,
			BytesPerImage:    500 * 1024,
		},
		LowThreshold:  decimal.RequireFromString("1.00"),
		HighThreshold: decimal.RequireFromString("5.00"),
	}
}

func gigabytes(bytes int64) decimal.Decimal {
	return decimal.NewFromInt(bytes).Div(decimal.NewFromInt(BytesPerGB))
}
