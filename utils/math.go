// utils/math.go
package utils

import (
	"github.com/shopspring/decimal"
)

// RoundDownToStep floors value to a multiple of step. Exchange lot sizes are
// steps, and rounding up could exceed the sized margin.
func RoundDownToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// RoundUpToStep ceils value to a multiple of step.
func RoundUpToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Ceil().Mul(step)
}

// AdjustPriceToTickSize rounds a price to the nearest tick.
func AdjustPriceToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if !tickSize.IsPositive() {
		return price
	}
	return price.Div(tickSize).Round(0).Mul(tickSize)
}

// PercentChange is (to - from) / from.
func PercentChange(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from)
}
