// Package metrics holds the Prometheus collectors of the hedge engine.
//
//   - hedge_engine_state                 controller state (0 idle, 1 directional, 2 hedged, 3 closing)
//   - hedge_open_legs                    legs in the current ladder
//   - hedge_exposure_qty{side}           open quantity per side
//   - hedge_orders_total{kind,result}    orders sent through the gateway
//   - hedge_order_retries_total{op}      transient failures that were retried
//   - hedge_cycles_total{reason}         finished cycles by close reason
//   - hedge_realized_pnl_quote           realized PnL since start, quote currency
//   - hedge_ticks_processed_total        ticks evaluated by the engine
//   - hedge_ticks_coalesced_total        ticks replaced before the engine read them
//   - hedge_last_price                   last evaluated price
//
// Collectors are registered in init() and served at /metrics by main.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EngineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hedge_engine_state",
			Help: "Hedge controller state (0 idle, 1 directional, 2 hedged, 3 closing)",
		},
	)

	OpenLegs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hedge_open_legs",
			Help: "Number of open legs in the ladder",
		},
	)

	Exposure = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedge_exposure_qty",
			Help: "Open quantity per side",
		},
		[]string{"side"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_orders_total",
			Help: "Orders sent through the gateway",
		},
		[]string{"kind", "result"}, // kind: open|close, result: filled|partial|rejected
	)

	OrderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_order_retries_total",
			Help: "Transient gateway failures that were retried",
		},
		[]string{"op"},
	)

	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_cycles_total",
			Help: "Finished cycles by close reason",
		},
		[]string{"reason"},
	)

	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hedge_realized_pnl_quote",
			Help: "Realized PnL since start in the quote currency",
		},
	)

	TicksProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hedge_ticks_processed_total",
			Help: "Price ticks evaluated by the engine",
		},
	)

	TicksCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hedge_ticks_coalesced_total",
			Help: "Price ticks replaced by a newer tick before the engine read them",
		},
	)

	LastPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hedge_last_price",
			Help: "Last price evaluated by the engine",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EngineState,
		OpenLegs,
		Exposure,
		Orders,
		OrderRetries,
		Cycles,
		RealizedPnL,
		TicksProcessed,
		TicksCoalesced,
		LastPrice,
	)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
