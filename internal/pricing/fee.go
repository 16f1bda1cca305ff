package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/BatmanBruc/billing-engine/types"
)

var hundred = decimal.NewFromInt(100)

// FeeSchedule is the payment processor's percentage plus flat fee.
type FeeSchedule struct {
	PercentRate decimal.Decimal
	FlatFee     decimal.Decimal
}

type FeeBreakdown struct {
	Gross decimal.Decimal `json:"gross"`
	Fee   decimal.Decimal `json:"fee"`
	Net   decimal.Decimal `json:"net"`
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		PercentRate: decimal.RequireFromString("2.9"),
		FlatFee:     decimal.RequireFromString("0.30"),
	}
}

// Net returns gross minus processor fees rounded to cents, never below zero.
func (f FeeSchedule) Net(gross decimal.Decimal) decimal.Decimal {
	fee := gross.Mul(f.PercentRate).Div(hundred).Add(f.FlatFee)
	net := gross.Sub(fee).Round(2)
	if net.IsNegative() {
		return decimal.Zero
	}
	if net.GreaterThan(gross) {
		return gross
	}
	return net
}

func (f FeeSchedule) Breakdown(gross decimal.Decimal) FeeBreakdown {
	net := f.Net(gross)
	return FeeBreakdown{
		Gross: gross,
		Fee:   gross.Sub(net),
		Net:   net,
	}
}

// ParseAmount parses a major-unit amount such as "10.00".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", types.ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative amount %s", types.ErrInvalidAmount, s)
	}
	return d, nil
}

// FromMinorUnits converts provider cents into a major-unit decimal.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
