package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"grid_hedge_bot/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simYAML = `
symbol: "BTCUSDT"
use_simulation: true
hedge:
  leverage: 10
  initial_side: "long"
  risk_tier: "high"
  entry_distance: 0.004
  take_profit: 0.008
simulation:
  initial_balance: 10000
  initial_price: 50000
  mode: "sine"
  amplitude: 500
  interval_millis: 10
  min_qty: 0.001
  step_size: 0.001
  tick_size: 0.1
normal_config:
  http_timeout_seconds: 10
  recv_window_seconds: 5
  heartbeat_interval_minutes: 5
  time_sync_interval_minutes: 30
  log_directory: "logs"
  state_directory: %q
logs:
  log_level: "warn"
  max_size_mb: 10
  max_backups: 3
  max_age_days: 7
`

func TestOrchestrator_SimulationRunFlattensOnStop(t *testing.T) {
	cfg, err := config.Parse([]byte(fmt.Sprintf(simYAML, t.TempDir())))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	o, err := NewOrchestrator(context.Background(), cfg, &config.EnvConfig{})
	require.NoError(t, err)
	assert.Equal(t, 10, o.mock.Leverage())

	require.NoError(t, o.Run(ctx))

	positions, err := o.gateway.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.GreaterOrEqual(t, o.engine.Cycles(), 1)
	assert.Equal(t, o.engine.Cycles(), o.journal.Len())
	assert.Equal(t, o.engine.Cycles(), o.accountant.Summary().Cycles)
}

func TestOrchestrator_LiveModeRequiresCredentials(t *testing.T) {
	cfg, err := config.Parse([]byte(fmt.Sprintf(simYAML, t.TempDir())))
	require.NoError(t, err)
	cfg.UseSimulation = false

	_, err = NewOrchestrator(context.Background(), cfg, &config.EnvConfig{BaseURL: "http://127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
}
