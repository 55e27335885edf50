// internal/math/fixedpoint.go
package math

import (
	"math/big"
	"sync"
)

const (
	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator int64 = 10_000

	// DaysPerYear is the simple-interest day count.
	DaysPerYear int64 = 365
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncation toward zero (default)
	RoundHalfEven
	RoundUp
)

// MultiplyInt128 performs a * b without overflow.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding. ok is false when
// the quotient does not fit in int64.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (result int64, ok bool) {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(numerator, denom, remainder)

	switch roundingMode {
	case RoundHalfEven:
		// Banker's rounding on non-negative operands
		twice := getInt128()
		twice.Lsh(remainder, 1)
		cmp := twice.Cmp(denom)
		putInt128(twice)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(1))
		}
	case RoundUp:
		if remainder.Sign() > 0 {
			quotient.Add(quotient, big.NewInt(1))
		}
	}

	if !quotient.IsInt64() {
		return 0, false
	}
	return quotient.Int64(), true
}

// MulChecked returns a * b, with ok false on int64 overflow.
func MulChecked(a, b int64) (int64, bool) {
	product := MultiplyInt128(a, b)
	defer putInt128(product)
	if !product.IsInt64() {
		return 0, false
	}
	return product.Int64(), true
}

// ComputeFee returns payment * feeBps / 10000, rounded down.
func ComputeFee(payment, feeBps int64) int64 {
	if payment <= 0 || feeBps <= 0 {
		return 0
	}
	numerator := MultiplyInt128(payment, feeBps)
	defer putInt128(numerator)

	// fee <= payment whenever feeBps <= 10000, so the quotient always fits
	fee, _ := DivideInt128(numerator, BpsDenominator, RoundDown)
	return fee
}

// ComputeSimpleInterest returns principal * rateBps * durationDays / (10000 * 365)
// with a single truncating division at the end.
func ComputeSimpleInterest(principal, rateBps, durationDays int64) (int64, bool) {
	if principal <= 0 || rateBps <= 0 || durationDays <= 0 {
		return 0, true
	}
	numerator := MultiplyInt128(principal, rateBps)
	defer putInt128(numerator)
	numerator.Mul(numerator, big.NewInt(durationDays))

	return DivideInt128(numerator, BpsDenominator*DaysPerYear, RoundDown)
}

// ComputeRequiredRepayment returns principal plus simple interest.
func ComputeRequiredRepayment(principal, rateBps, durationDays int64) (int64, bool) {
	interest, ok := ComputeSimpleInterest(principal, rateBps, durationDays)
	if !ok {
		return 0, false
	}
	total := principal + interest
	if total < principal {
		return 0, false
	}
	return total, true
}
