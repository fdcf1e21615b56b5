package strategy

import (
	"testing"
	"time"

	"grid_hedge_bot/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leg(side Side, level int, price, qty string) PositionLeg {
	return PositionLeg{
		Side:       side,
		EntryPrice: d(price),
		Quantity:   d(qty),
		LevelIndex: level,
		OpenedAt:   time.Date(2024, 5, 1, 12, 0, level, 0, time.UTC),
	}
}

func TestLadder_FirstLegStartsCycle(t *testing.T) {
	l := NewLadder("BTCUSDT")
	assert.True(t, l.IsEmpty())
	assert.Equal(t, 0, l.NextLevelIndex(Long))

	require.NoError(t, l.AddLeg(leg(Short, 0, "50000", "0.01")))
	assert.Equal(t, Short, l.InitialSide)
	assert.True(t, l.CycleStartPrice.Equal(d("50000")))
	assert.Equal(t, 1, l.NextLevelIndex(Long))
	assert.Equal(t, 1, l.NextLevelIndex(Short))

	require.NoError(t, l.AddLeg(leg(Long, 1, "50200", "0.02")))
	assert.Equal(t, Short, l.InitialSide, "initial side is fixed by the first leg")
	assert.True(t, l.CycleStartPrice.Equal(d("50000")))
	assert.Equal(t, 2, l.NextLevelIndex(Short))
	assert.Equal(t, l.Legs()[1].OpenedAt, l.LastActionAt)
}

func TestLadder_RejectsDuplicateLevel(t *testing.T) {
	l := NewLadder("BTCUSDT")
	require.NoError(t, l.AddLeg(leg(Long, 0, "50000", "0.01")))
	require.NoError(t, l.AddLeg(leg(Short, 1, "49800", "0.02")))
	require.NoError(t, l.AddLeg(leg(Long, 2, "50000", "0.04")))

	err := l.AddLeg(leg(Long, 2, "49000", "0.04"))
	require.ErrorIs(t, err, risk.ErrDuplicateLevel)

	err = l.AddLeg(leg(Long, 1, "49000", "0.04"))
	require.ErrorIs(t, err, risk.ErrDuplicateLevel, "levels on one side must increase")

	assert.Equal(t, 3, l.Len())
}

func TestLadder_RejectsInvalidLeg(t *testing.T) {
	l := NewLadder("BTCUSDT")
	assert.Error(t, l.AddLeg(leg(Long, 0, "0", "0.01")))
	assert.Error(t, l.AddLeg(leg(Long, 0, "50000", "0")))
	assert.Error(t, l.AddLeg(leg(Long, -1, "50000", "0.01")))
	assert.Error(t, l.AddLeg(PositionLeg{Side: "BOTH", EntryPrice: d("1"), Quantity: d("1")}))
	assert.True(t, l.IsEmpty())
}

func TestLadder_ExposureAndPnL(t *testing.T) {
	l := NewLadder("BTCUSDT")
	require.NoError(t, l.AddLeg(leg(Long, 0, "50000", "0.01")))
	require.NoError(t, l.AddLeg(leg(Short, 1, "49800", "0.02")))

	exp := l.CurrentExposure()
	assert.True(t, exp.Long.Equal(d("0.01")))
	assert.True(t, exp.Short.Equal(d("0.02")))
	assert.True(t, exp.Net().Equal(d("-0.01")))
	assert.True(t, l.IsHedged())

	// long: (49000-50000)*0.01 = -10, short: (49800-49000)*0.02 = 16
	assert.True(t, l.UnrealizedPnL(d("49000")).Equal(d("6")))
	assert.True(t, l.ReferenceNotional().Equal(d("500")))

	last, ok := l.LastLegOn(Long)
	require.True(t, ok)
	assert.Equal(t, 0, last.LevelIndex)
}

func TestLadder_LegsReturnsCopy(t *testing.T) {
	l := NewLadder("BTCUSDT")
	require.NoError(t, l.AddLeg(leg(Long, 0, "50000", "0.01")))
	legs := l.Legs()
	legs[0].LevelIndex = 7
	assert.Equal(t, 0, l.Legs()[0].LevelIndex)
}

func TestLadder_Reset(t *testing.T) {
	l := NewLadder("BTCUSDT")
	require.NoError(t, l.AddLeg(leg(Long, 0, "50000", "0.01")))
	l.Reset()

	assert.True(t, l.IsEmpty())
	assert.Equal(t, Side(""), l.InitialSide)
	assert.True(t, l.CycleStartPrice.IsZero())
	_, ok := l.LastLeg()
	assert.False(t, ok)
	require.NoError(t, l.AddLeg(leg(Short, 0, "51000", "0.01")), "level 0 is free again after reset")
}
