// Package fixmath provides the engine's int64 fixed-point arithmetic.
// Intermediate products go through pooled big.Ints so amount*price never
// overflows, and division rounding is explicit at every call site.
package fixmath

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs. Prices, amounts, quote values, and health ratios
	// all carry 6 decimal places; basis points are dimensionless.
	PriceConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	QuoteConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	RatioConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

// BpsScale converts basis points: 10_000 bps == 100%.
const BpsScale int64 = 10_000

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

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundDown:
		// DivMod already floors for non-negative operands.
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// ValueInQuote converts an asset amount to its quote-denominated value at
// the given price: amount * price / PriceScale.
func ValueInQuote(amount, price int64) int64 {
	raw := MultiplyInt128(amount, price)
	result := DivideInt128(raw, PriceConfig.Scale, RoundHalfEven)
	putInt128(raw)
	return result
}

// AmountForValue converts a quote value back to an asset amount at the given
// price, rounding down so conversions never mint value.
func AmountForValue(value, price int64) int64 {
	if price <= 0 {
		return 0
	}
	raw := MultiplyInt128(value, PriceConfig.Scale)
	result := DivideInt128(raw, price, RoundDown)
	putInt128(raw)
	return result
}

// BpsOf returns amount * bps / 10_000, rounded down.
func BpsOf(amount, bps int64) int64 {
	raw := MultiplyInt128(amount, bps)
	result := DivideInt128(raw, BpsScale, RoundDown)
	putInt128(raw)
	return result
}

// HealthRatio returns collateralValue / debtValue at ratio scale. A position
// with no debt has no meaningful ratio; callers treat zero debt separately.
func HealthRatio(collateralValue, debtValue int64) int64 {
	if debtValue <= 0 {
		return 0
	}
	raw := MultiplyInt128(collateralValue, RatioConfig.Scale)
	result := DivideInt128(raw, debtValue, RoundDown)
	putInt128(raw)
	return result
}
