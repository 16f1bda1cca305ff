package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/billing-engine/types"
)

func TestNet_TenDollarPayment(t *testing.T) {
	fees := DefaultFeeSchedule()

	b := fees.Breakdown(decimal.RequireFromString("10.00"))

	assert.Equal(t, "9.41", b.Net.StringFixed(2))
	assert.Equal(t, "0.59", b.Fee.StringFixed(2))
	assert.True(t, b.Gross.Equal(b.Net.Add(b.Fee)))
}

func TestNet_NeverNegativeNorAboveGross(t *testing.T) {
	fees := DefaultFeeSchedule()

	for _, s := range []string{"0", "0.01", "0.30", "0.31", "1", "3.33", "19.99", "1000000"} {
		gross := decimal.RequireFromString(s)
		net := fees.Net(gross)
		assert.False(t, net.IsNegative(), s)
		assert.True(t, net.LessThanOrEqual(gross), s)
		assert.True(t, net.Equal(fees.Net(gross)), s)
		assert.LessOrEqual(t, int(-net.Exponent()), 2, s)
	}
}

func TestNet_SmallPaymentClampsToZero(t *testing.T) {
	fees := DefaultFeeSchedule()

	b := fees.Breakdown(decimal.RequireFromString("0.25"))

	assert.True(t, b.Net.IsZero())
	assert.Equal(t, "0.25", b.Fee.StringFixed(2))
}

func TestNet_RoundsHalfUp(t *testing.T) {
	fees := FeeSchedule{PercentRate: decimal.RequireFromString("5"), FlatFee: decimal.Zero}

	// 0.10 - 0.005 = 0.095
	assert.Equal(t, "0.10", fees.Net(decimal.RequireFromString("0.10")).StringFixed(2))
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("12.50")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.String())

	_, err = ParseAmount("abc")
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	_, err = ParseAmount("-1")
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, "10.99", FromMinorUnits(1099).StringFixed(2))
	assert.Equal(t, int64(1099), ToMinorUnits(decimal.RequireFromString("10.99")))
}
