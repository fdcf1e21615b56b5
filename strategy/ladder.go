// strategy/ladder.go
package strategy

import (
	"fmt"
	"time"

	"grid_hedge_bot/risk"

	"github.com/shopspring/decimal"
)

// Exposure is the open quantity per side.
type Exposure struct {
	Long  decimal.Decimal
	Short decimal.Decimal
}

// Net is long minus short.
func (e Exposure) Net() decimal.Decimal { return e.Long.Sub(e.Short) }

// Ladder holds the open legs of the current cycle for one symbol, in the
// order they were filled. Level indices are shared by both sides: the
// initial leg is level 0, the first hedge level 1, and so on.
//
// A Ladder is not safe for concurrent use; the engine loop is its only writer.
type Ladder struct {
	Symbol          string
	InitialSide     Side
	CycleStartPrice decimal.Decimal
	LastActionAt    time.Time

	legs []PositionLeg
}

func NewLadder(symbol string) *Ladder {
	return &Ladder{Symbol: symbol}
}

// AddLeg appends a confirmed leg. The first leg of a cycle fixes the
// initial side and the cycle start price.
func (l *Ladder) AddLeg(leg PositionLeg) error {
	if !leg.Side.valid() {
		return fmt.Errorf("invalid leg side %q", leg.Side)
	}
	if !leg.EntryPrice.IsPositive() || !leg.Quantity.IsPositive() || leg.LevelIndex < 0 {
		return fmt.Errorf("invalid leg %s", leg)
	}
	for _, existing := range l.legs {
		if existing.Side != leg.Side {
			continue
		}
		if existing.LevelIndex == leg.LevelIndex {
			return fmt.Errorf("%w: %s level %d is already open", risk.ErrDuplicateLevel, leg.Side, leg.LevelIndex)
		}
		if existing.LevelIndex > leg.LevelIndex {
			return fmt.Errorf("%w: %s level %d is below the open level %d", risk.ErrDuplicateLevel, leg.Side, leg.LevelIndex, existing.LevelIndex)
		}
	}

	if len(l.legs) == 0 {
		l.InitialSide = leg.Side
		l.CycleStartPrice = leg.EntryPrice
	}
	l.legs = append(l.legs, leg)
	l.LastActionAt = leg.OpenedAt
	return nil
}

// CurrentExposure sums quantities per side.
func (l *Ladder) CurrentExposure() Exposure {
	exp := Exposure{Long: decimal.Zero, Short: decimal.Zero}
	for _, leg := range l.legs {
		if leg.Side == Long {
			exp.Long = exp.Long.Add(leg.Quantity)
		} else {
			exp.Short = exp.Short.Add(leg.Quantity)
		}
	}
	return exp
}

// NextLevelIndex is the level the next entry would take. Levels are shared
// by both sides, so the side does not change the answer: it is one past the
// highest level open on either side.
func (l *Ladder) NextLevelIndex(_ Side) int {
	next := 0
	for _, leg := range l.legs {
		if leg.LevelIndex >= next {
			next = leg.LevelIndex + 1
		}
	}
	return next
}

// Reset clears the ladder. Only the controller calls it, after a confirmed close-all.
func (l *Ladder) Reset() {
	l.legs = nil
	l.InitialSide = ""
	l.CycleStartPrice = decimal.Zero
	l.LastActionAt = time.Time{}
}

// Legs returns a copy of the open legs in fill order.
func (l *Ladder) Legs() []PositionLeg {
	out := make([]PositionLeg, len(l.legs))
	copy(out, l.legs)
	return out
}

func (l *Ladder) Len() int      { return len(l.legs) }
func (l *Ladder) IsEmpty() bool { return len(l.legs) == 0 }

// LastLeg is the most recently opened leg.
func (l *Ladder) LastLeg() (PositionLeg, bool) {
	if len(l.legs) == 0 {
		return PositionLeg{}, false
	}
	return l.legs[len(l.legs)-1], true
}

// LastLegOn is the most recently opened leg on side.
func (l *Ladder) LastLegOn(side Side) (PositionLeg, bool) {
	for i := len(l.legs) - 1; i >= 0; i-- {
		if l.legs[i].Side == side {
			return l.legs[i], true
		}
	}
	return PositionLeg{}, false
}

// IsHedged reports whether both sides hold at least one leg.
func (l *Ladder) IsHedged() bool {
	exp := l.CurrentExposure()
	return exp.Long.IsPositive() && exp.Short.IsPositive()
}

// UnrealizedPnL is the sum over legs of (price - entry) * qty * sign.
func (l *Ladder) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	pnl := decimal.Zero
	for _, leg := range l.legs {
		pnl = pnl.Add(price.Sub(leg.EntryPrice).Mul(leg.Quantity).Mul(leg.Side.Sign()))
	}
	return pnl
}

// ReferenceNotional is the level-0 notional at the cycle start price; the
// take-profit target is expressed as a fraction of it.
func (l *Ladder) ReferenceNotional() decimal.Decimal {
	if len(l.legs) == 0 {
		return decimal.Zero
	}
	return l.legs[0].Quantity.Mul(l.CycleStartPrice)
}
