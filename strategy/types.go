// strategy/types.go
package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTick is returned for ticks with a non-positive price or a foreign symbol.
var ErrInvalidTick = errors.New("invalid price tick")

// Side is the direction of a leg. Values match the exchange positionSide.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ParseSide accepts "long"/"short" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Long:
		return Long, nil
	case Short:
		return Short, nil
	}
	return "", fmt.Errorf("unknown side %q (expected long or short)", s)
}

// Opposite returns the hedge side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Sign is +1 for long and -1 for short.
func (s Side) Sign() decimal.Decimal {
	if s == Long {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

func (s Side) valid() bool { return s == Long || s == Short }

// PriceTick is one observation from the market-data stream.
type PriceTick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// PositionLeg is a confirmed, open position at one grid level.
type PositionLeg struct {
	Side       Side
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	LevelIndex int
	OpenedAt   time.Time
	OrderID    string
}

func (l PositionLeg) String() string {
	return fmt.Sprintf("L%d %s %s @ %s", l.LevelIndex, l.Side, l.Quantity, l.EntryPrice)
}
