package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreRegistered(t *testing.T) {
	Orders.WithLabelValues("open", "filled").Inc()
	Cycles.WithLabelValues("take_profit").Add(2)
	Exposure.WithLabelValues("LONG").Set(0.01)
	OrderRetries.WithLabelValues("place_order").Inc()
	EngineState.Set(2)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["hedge_orders_total"])
	assert.Equal(t, 2.0, values["hedge_cycles_total"])
	assert.Equal(t, 2.0, values["hedge_engine_state"])
	assert.Equal(t, 1.0, values["hedge_order_retries_total"])
	assert.Contains(t, values, "hedge_ticks_coalesced_total")
}
