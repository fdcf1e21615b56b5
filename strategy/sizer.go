// strategy/sizer.go
package strategy

import (
	"fmt"

	"grid_hedge_bot/risk"

	"github.com/shopspring/decimal"
)

// SizingResult holds the per-level quantities of one cycle. It is computed at
// cycle start and not touched again until the next cycle.
type SizingResult struct {
	Balance        decimal.Decimal
	Available      decimal.Decimal
	InitialMargin  decimal.Decimal
	ReferencePrice decimal.Decimal
	Margins        []decimal.Decimal
	Quantities     []decimal.Decimal
}

// Levels is the number of sized levels (the profile's max levels).
func (s SizingResult) Levels() int { return len(s.Quantities) }

// QuantityAt returns the quantity for a level, false when out of range.
func (s SizingResult) QuantityAt(level int) (decimal.Decimal, bool) {
	if level < 0 || level >= len(s.Quantities) {
		return decimal.Zero, false
	}
	return s.Quantities[level], true
}

// TotalMargin sums the margin of every level.
func (s SizingResult) TotalMargin() decimal.Decimal {
	total := decimal.Zero
	for _, m := range s.Margins {
		total = total.Add(m)
	}
	return total
}

// ComputeSizing splits the usable balance into a doubling margin ladder:
// level L gets initialMargin * 2^L, so that filling every level consumes
// the whole available balance. minQty is the exchange's minimum tradable size.
func ComputeSizing(balance decimal.Decimal, profile risk.Profile, referencePrice, minQty decimal.Decimal) (SizingResult, error) {
	if err := profile.Validate(); err != nil {
		return SizingResult{}, err
	}
	if !balance.IsPositive() {
		return SizingResult{}, fmt.Errorf("%w: balance must be positive, got %s", risk.ErrInvalidConfiguration, balance)
	}
	if !referencePrice.IsPositive() {
		return SizingResult{}, fmt.Errorf("%w: reference price must be positive, got %s", risk.ErrInvalidConfiguration, referencePrice)
	}

	one := decimal.NewFromInt(1)
	two := decimal.NewFromInt(2)

	available := balance.Mul(one.Sub(profile.BalanceBufferFraction))
	pow := one
	for i := 0; i < profile.MaxLevels; i++ {
		pow = pow.Mul(two)
	}
	initialMargin := available.Div(pow.Sub(one))

	res := SizingResult{
		Balance:        balance,
		Available:      available,
		InitialMargin:  initialMargin,
		ReferencePrice: referencePrice,
		Margins:        make([]decimal.Decimal, profile.MaxLevels),
		Quantities:     make([]decimal.Decimal, profile.MaxLevels),
	}
	margin := initialMargin
	for level := 0; level < profile.MaxLevels; level++ {
		res.Margins[level] = margin
		res.Quantities[level] = margin.Div(referencePrice)
		margin = margin.Mul(two)
	}

	if res.Quantities[0].LessThan(minQty) {
		return SizingResult{}, fmt.Errorf("%w: level 0 quantity %s is below the minimum tradable size %s (balance %s, tier %s)",
			risk.ErrInsufficientBalance, res.Quantities[0].StringFixed(8), minQty, balance, profile.Tier)
	}
	return res, nil
}
