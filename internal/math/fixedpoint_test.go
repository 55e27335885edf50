package math_test

import (
	"math"
	"math/big"
	"testing"

	fpmath "TaniLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: Fees
// ============================================================================

func TestComputeFee_PlatformFee(t *testing.T) {
	// 30000 * 250 / 10000 = 750
	assert.Equal(t, int64(750), fpmath.ComputeFee(30_000, 250))
}

func TestComputeFee_RoundsDown(t *testing.T) {
	// 999 * 250 / 10000 = 24.975 -> 24
	assert.Equal(t, int64(24), fpmath.ComputeFee(999, 250))
	// 39 * 250 / 10000 = 0.975 -> 0
	assert.Equal(t, int64(0), fpmath.ComputeFee(39, 250))
}

func TestComputeFee_ZeroRate(t *testing.T) {
	assert.Equal(t, int64(0), fpmath.ComputeFee(1_000_000, 0))
}

func TestComputeFee_NoOverflow(t *testing.T) {
	fee := fpmath.ComputeFee(math.MaxInt64, 10_000)
	assert.Equal(t, int64(math.MaxInt64), fee)
}

// ============================================================================
// Test: Interest
// ============================================================================

func TestComputeRequiredRepayment_Truncates(t *testing.T) {
	// 100000 * 1000 * 30 / 3_650_000 = 821.91 -> 821
	required, ok := fpmath.ComputeRequiredRepayment(100_000, 1_000, 30)
	require.True(t, ok)
	assert.Equal(t, int64(100_821), required)
}

func TestComputeSimpleInterest_FullYear(t *testing.T) {
	interest, ok := fpmath.ComputeSimpleInterest(1_000_000, 1_200, 365)
	require.True(t, ok)
	assert.Equal(t, int64(120_000), interest)
}

func TestComputeSimpleInterest_ZeroRate(t *testing.T) {
	interest, ok := fpmath.ComputeSimpleInterest(1_000_000, 0, 90)
	require.True(t, ok)
	assert.Zero(t, interest)
}

func TestComputeRequiredRepayment_Overflow(t *testing.T) {
	_, ok := fpmath.ComputeRequiredRepayment(math.MaxInt64, 10_000, 3650)
	assert.False(t, ok)
}

// ============================================================================
// Test: Checked arithmetic
// ============================================================================

func TestMulChecked(t *testing.T) {
	v, ok := fpmath.MulChecked(670, 12_000)
	require.True(t, ok)
	assert.Equal(t, int64(8_040_000), v)

	_, ok = fpmath.MulChecked(math.MaxInt64, 2)
	assert.False(t, ok)
}

func TestDivideInt128_RoundingModes(t *testing.T) {
	cases := []struct {
		name string
		num  int64
		den  int64
		mode fpmath.RoundingMode
		want int64
	}{
		{"down", 7, 2, fpmath.RoundDown, 3},
		{"up", 7, 2, fpmath.RoundUp, 4},
		{"up exact", 8, 2, fpmath.RoundUp, 4},
		{"half even to even", 5, 2, fpmath.RoundHalfEven, 2},
		{"half even odd", 7, 2, fpmath.RoundHalfEven, 4},
		{"half even above half", 8, 3, fpmath.RoundHalfEven, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := fpmath.DivideInt128(big.NewInt(tc.num), tc.den, tc.mode)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
