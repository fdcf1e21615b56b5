package profit

import (
	"testing"
	"time"

	"grid_hedge_bot/exchange"
	"grid_hedge_bot/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSettleCycleTakeProfit(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	legs := []strategy.PositionLeg{
		{Side: strategy.Long, EntryPrice: d("50000"), Quantity: d("0.01"), LevelIndex: 0, OpenedAt: start},
		{Side: strategy.Short, EntryPrice: d("49800"), Quantity: d("0.02"), LevelIndex: 1, OpenedAt: start.Add(time.Minute)},
	}
	report := &exchange.CloseReport{Fills: []exchange.Fill{
		{PositionSide: exchange.Long, Quantity: d("0.01"), Price: d("50400")},
		{PositionSide: exchange.Short, Quantity: d("0.02"), Price: d("50400")},
	}}

	acc := NewAccountant()
	res := acc.SettleCycle("c1", strategy.ReasonTakeProfit, legs, report, decimal.Zero, start.Add(time.Hour))

	assert.True(t, res.LongPnL.Equal(d("4")), res.LongPnL.String())
	assert.True(t, res.ShortPnL.Equal(d("-12")), res.ShortPnL.String())
	assert.True(t, res.RealizedPnL.Equal(d("-8")))
	assert.Equal(t, start, res.StartedAt)
	require.Len(t, res.CloseFills, 2)

	s := acc.Summary()
	assert.Equal(t, 1, s.Cycles)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 1, s.ByReason[strategy.ReasonTakeProfit])
	assert.True(t, acc.GetRealizedPNL().Equal(d("-8")))
}

func TestSettleCycleUsesMarkPriceWithoutFill(t *testing.T) {
	legs := []strategy.PositionLeg{
		{Side: strategy.Short, EntryPrice: d("100"), Quantity: d("2")},
	}
	acc := NewAccountant()
	res := acc.SettleCycle("c1", strategy.ReasonShutdown, legs, &exchange.CloseReport{}, d("90"), time.Now())
	assert.True(t, res.RealizedPnL.Equal(d("20")))

	res = acc.SettleCycle("c2", strategy.ReasonGridExhausted, legs, nil, d("110"), time.Now())
	assert.True(t, res.RealizedPnL.Equal(d("-20")))

	s := acc.Summary()
	assert.Equal(t, 2, s.Cycles)
	assert.Equal(t, 1, s.Wins)
	assert.True(t, s.BestCycle.Equal(d("20")))
	assert.True(t, s.WorstCycle.Equal(d("-20")))
	assert.True(t, s.RealizedPnL.IsZero())
	assert.Len(t, acc.History(), 2)

	acc.PrintFinalSummary("BTCUSDT")
}

func TestSummaryIsCopy(t *testing.T) {
	acc := NewAccountant()
	acc.SettleCycle("c1", strategy.ReasonTakeProfit, nil, nil, decimal.Zero, time.Now())
	s := acc.Summary()
	s.ByReason[strategy.ReasonTakeProfit] = 99
	assert.Equal(t, 1, acc.Summary().ByReason[strategy.ReasonTakeProfit])
}
