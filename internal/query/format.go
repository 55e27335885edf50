package query

import (
	fpmath "TaniLedger/internal/math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// BpsPercent renders basis points as a percentage with two decimals,
// e.g. 1250 -> "12.50".
func BpsPercent(bps int64) string {
	return decimal.NewFromInt(bps).
		Div(decimal.NewFromInt(fpmath.BpsDenominator)).
		Mul(hundred).
		StringFixed(2)
}

// RatioPercent renders part/whole as a percentage with two decimals. A zero
// whole renders as "0.00".
func RatioPercent(part, whole int64) string {
	if whole == 0 {
		return decimal.Zero.StringFixed(2)
	}
	return decimal.NewFromInt(part).
		Div(decimal.NewFromInt(whole)).
		Mul(hundred).
		StringFixed(2)
}
