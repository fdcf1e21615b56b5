package utils

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundDownToStep(t *testing.T) {
	tests := []struct {
		value, step, want string
	}{
		{"0.0028571428", "0.001", "0.002"},
		{"0.0057142857", "0.001", "0.005"},
		{"12.99", "0.1", "12.9"},
		{"13", "1", "13"},
		{"0.5", "0", "0.5"},
	}
	for _, tt := range tests {
		got := RoundDownToStep(d(tt.value), d(tt.step))
		assert.True(t, got.Equal(d(tt.want)), "RoundDownToStep(%s, %s) = %s, want %s", tt.value, tt.step, got, tt.want)
	}
}

func TestRoundUpToStep(t *testing.T) {
	assert.True(t, RoundUpToStep(d("0.0021"), d("0.001")).Equal(d("0.003")))
	assert.True(t, RoundUpToStep(d("0.002"), d("0.001")).Equal(d("0.002")))
}

func TestAdjustPriceToTickSize(t *testing.T) {
	assert.True(t, AdjustPriceToTickSize(d("50000.04"), d("0.1")).Equal(d("50000")))
	assert.True(t, AdjustPriceToTickSize(d("50000.06"), d("0.1")).Equal(d("50000.1")))
}

func TestPercentChange(t *testing.T) {
	assert.True(t, PercentChange(d("50000"), d("49800")).Equal(d("-0.004")))
	assert.True(t, PercentChange(decimal.Zero, d("1")).IsZero())
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 5 * time.Second},
		{100, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(100*time.Millisecond, 5*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))
}
