package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"grid_hedge_bot/profit"
	"grid_hedge_bot/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	j, err := NewJournal(dir, "BTCUSDT", start)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cycles_BTCUSDT_20240301T120000.json"), j.Path())

	data, err := os.ReadFile(j.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	res := profit.CycleResult{
		CycleID: "c-1",
		Reason:  strategy.ReasonTakeProfit,
		Legs: []strategy.PositionLeg{
			{Side: strategy.Long, LevelIndex: 0, EntryPrice: decimal.NewFromInt(50000), Quantity: decimal.RequireFromString("0.01"), OrderID: "o1", OpenedAt: start},
		},
		LongPnL:     decimal.NewFromInt(4),
		ShortPnL:    decimal.Zero,
		RealizedPnL: decimal.NewFromInt(4),
		StartedAt:   start,
		ClosedAt:    start.Add(time.Hour),
	}
	require.NoError(t, j.Append("BTCUSDT", res))
	require.NoError(t, j.Append("BTCUSDT", res))
	assert.Equal(t, 2, j.Len())

	data, err = os.ReadFile(j.Path())
	require.NoError(t, err)
	var records []CycleRecord
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "take_profit", records[0].Reason)
	assert.Equal(t, "BTCUSDT", records[0].Symbol)
	require.Len(t, records[0].Legs, 1)
	assert.Equal(t, strategy.Long, records[0].Legs[0].Side)
	assert.True(t, records[0].RealizedPnL.Equal(decimal.NewFromInt(4)))

	_, err = os.Stat(j.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
