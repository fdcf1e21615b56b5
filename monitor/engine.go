// monitor/engine.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grid_hedge_bot/exchange"
	"grid_hedge_bot/logs"
	"grid_hedge_bot/marketdata"
	"grid_hedge_bot/metrics"
	"grid_hedge_bot/profit"
	"grid_hedge_bot/risk"
	"grid_hedge_bot/state"
	"grid_hedge_bot/strategy"
	"grid_hedge_bot/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrFeedEnded is returned by Run when the tick stream closes on its own.
var ErrFeedEnded = errors.New("market data stream ended")

// errMaxCycles stops Run cleanly once the configured cycle count is reached.
var errMaxCycles = errors.New("max cycles reached")

// EngineConfig holds the loop settings. Zero durations disable the heartbeat
// and time sync.
type EngineConfig struct {
	Symbol             string
	MaxCycles          int // 0 = unlimited
	MaxOpenFailures    int
	HeartbeatInterval  time.Duration
	TimeSyncInterval   time.Duration
	CloseRetryInterval time.Duration
	StopCloseTimeout   time.Duration
}

// Engine is the single writer of the ladder and controller. It reads ticks
// from the mailbox and carries out the controller's actions through the
// gateway, one at a time.
type Engine struct {
	cfg        EngineConfig
	gateway    exchange.Gateway
	controller *strategy.HedgeController
	ladder     *strategy.Ladder
	profile    risk.Profile
	mailbox    *marketdata.Mailbox
	accountant *profit.Accountant
	journal    *state.Journal // optional
	timeSync   func(ctx context.Context) error

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	sizing       strategy.SizingResult
	sized        bool
	cycleID      string
	cycles       int
	openFailures int
	pendingOpen  *strategy.OpenLegAction // failed open not yet checked against the exchange
	lastPrice    decimal.Decimal
}

func NewEngine(
	cfg EngineConfig,
	gateway exchange.Gateway,
	controller *strategy.HedgeController,
	profile risk.Profile,
	mailbox *marketdata.Mailbox,
	accountant *profit.Accountant,
	journal *state.Journal,
) *Engine {
	if cfg.MaxOpenFailures <= 0 {
		cfg.MaxOpenFailures = 3
	}
	if cfg.CloseRetryInterval <= 0 {
		cfg.CloseRetryInterval = time.Second
	}
	if cfg.StopCloseTimeout <= 0 {
		cfg.StopCloseTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		gateway:    gateway,
		controller: controller,
		ladder:     strategy.NewLadder(cfg.Symbol),
		profile:    profile,
		mailbox:    mailbox,
		accountant: accountant,
		journal:    journal,
		sleep:      utils.SleepContext,
		now:        time.Now,
	}
}

// SetTimeSync installs the periodic exchange clock sync.
func (e *Engine) SetTimeSync(fn func(ctx context.Context) error) { e.timeSync = fn }

// Ladder exposes the live ladder for reporting. Only read it from the engine
// goroutine or after Run returns.
func (e *Engine) Ladder() *strategy.Ladder { return e.ladder }

// Cycles is the number of completed cycles.
func (e *Engine) Cycles() int { return e.cycles }

// Run processes ticks until ctx is cancelled, the feed ends, max cycles is
// reached or a fatal error occurs. Open legs are flattened before returning.
func (e *Engine) Run(ctx context.Context) error {
	heartbeat := newTicker(e.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	timeSync := newTicker(e.cfg.TimeSyncInterval)
	defer timeSync.Stop()

	logs.Infof("[Engine] Started on %s, tier %s, %d levels, initial side %s",
		e.cfg.Symbol, e.profile.Tier, e.controller.Config().MaxLevels, e.controller.CycleSide())
	e.publishState()

	for {
		select {
		case <-ctx.Done():
			logs.Info("[Engine] Received stop signal, flattening open legs.")
			return e.shutdown()

		case tick, ok := <-e.mailbox.C():
			if !ok {
				if ctx.Err() != nil {
					return e.shutdown()
				}
				logs.Warn("[Engine] Market data stream closed, flattening open legs.")
				return errors.Join(ErrFeedEnded, e.shutdown())
			}
			err := e.handleTick(ctx, tick)
			if err == nil {
				continue
			}
			if errors.Is(err, errMaxCycles) {
				logs.Infof("[Engine] Completed %d cycles, stopping.", e.cycles)
				return nil
			}
			logs.Errorf("[Engine] Fatal: %v", err)
			if !errors.Is(err, exchange.ErrCloseFailed) {
				if ferr := e.shutdown(); ferr != nil {
					err = errors.Join(err, ferr)
				}
			}
			return err

		case <-heartbeat.C():
			e.logHeartbeat()

		case <-timeSync.C():
			if e.timeSync != nil {
				logs.Info("[Engine] Executing regular time synchronization...")
				if err := e.timeSync(ctx); err != nil {
					logs.Errorf("[Engine] Regular time synchronization failed: %v", err)
				}
			}
		}
	}
}

// handleTick evaluates one tick and executes the resulting action. A non-nil
// error is fatal for the engine.
func (e *Engine) handleTick(ctx context.Context, tick strategy.PriceTick) error {
	if ctx.Err() != nil {
		return nil
	}
	metrics.TicksProcessed.Inc()
	if tick.Price.IsPositive() {
		e.lastPrice = tick.Price
		metrics.LastPrice.Set(tick.Price.InexactFloat64())
	}

	if e.pendingOpen != nil {
		if _, err := e.reconcile(ctx); err != nil {
			if exchange.IsTransient(err) || ctx.Err() != nil {
				logs.Warnf("[Engine] Skipping tick until positions can be read: %v", err)
				return nil
			}
			return err
		}
	}

	if e.controller.State() == strategy.StateIdle && !e.sized {
		if err := e.startCycle(ctx, tick.Price); err != nil {
			if exchange.IsTransient(err) || ctx.Err() != nil {
				logs.Warnf("[Engine] Cannot size cycle yet: %v", err)
				return nil
			}
			return err
		}
	}

	action, err := e.controller.Evaluate(e.ladder, e.sizing, tick)
	if err != nil {
		switch {
		case errors.Is(err, strategy.ErrInvalidTick):
			logs.Warnf("[Engine] Skipping tick: %v", err)
			return nil
		case errors.Is(err, risk.ErrGridExhausted):
			logs.Warnf("[Engine] %v, forcing close-all", err)
		default:
			return err
		}
	}

	switch act := action.(type) {
	case *strategy.OpenLegAction:
		logs.Infof("[Engine] %s", act.Description())
		return e.openLeg(ctx, act)
	case *strategy.CloseAllAction:
		logs.Infof("[Engine] %s", act.Description())
		e.publishState()
		err := e.closeAll(ctx, act)
		if err != nil && ctx.Err() != nil {
			// Run flattens on the way out
			return nil
		}
		return err
	}
	return nil
}

// startCycle sizes a new ladder from the current balance.
func (e *Engine) startCycle(ctx context.Context, price decimal.Decimal) error {
	if !price.IsPositive() {
		return nil
	}
	balance, err := e.gateway.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	minQty, err := e.gateway.MinTradableQuantity(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("read minimum quantity: %w", err)
	}
	sizing, err := strategy.ComputeSizing(balance, e.profile, price, minQty)
	if err != nil {
		return err
	}
	e.sizing = sizing
	e.sized = true
	e.cycleID = uuid.NewString()

	qtys := make([]string, len(sizing.Quantities))
	for i, q := range sizing.Quantities {
		qtys[i] = q.StringFixed(6)
	}
	logs.Infof("[Engine] Cycle %s starting on %s at %s: balance %s, available %s, initial margin %s, quantities [%s]",
		e.cycleID, e.controller.CycleSide(), price, balance.StringFixed(2), sizing.Available.StringFixed(2),
		sizing.InitialMargin.StringFixed(4), strings.Join(qtys, " "))
	return nil
}

func (e *Engine) openLeg(ctx context.Context, act *strategy.OpenLegAction) error {
	fill, err := e.gateway.PlaceOrder(ctx, exchange.PositionSide(act.Side), act.Quantity, false)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		e.openFailures++
		logs.Errorf("[Engine] Open %s L%d failed (%d/%d): %v", act.Side, act.LevelIndex, e.openFailures, e.cfg.MaxOpenFailures, err)

		// the order may have filled before the error, so check before retrying
		e.pendingOpen = act
		adopted, rerr := e.reconcile(ctx)
		if rerr != nil && e.pendingOpen == nil {
			// positions were read but the extra quantity could not be adopted
			return rerr
		}
		if rerr != nil {
			logs.Warnf("[Engine] Cannot check %s L%d against the exchange yet: %v", act.Side, act.LevelIndex, rerr)
		}
		if adopted {
			return nil
		}
		if e.openFailures >= e.cfg.MaxOpenFailures {
			return fmt.Errorf("%d consecutive open failures: %w", e.openFailures, err)
		}
		return nil
	}
	e.openFailures = 0
	if fill.Partial() {
		logs.Warnf("[Engine] Order %s filled %s of %s requested", fill.OrderID, fill.Quantity, fill.Requested)
	}

	leg := strategy.PositionLeg{
		Side:       act.Side,
		EntryPrice: fill.Price,
		Quantity:   fill.Quantity,
		LevelIndex: act.LevelIndex,
		OpenedAt:   fill.Time,
		OrderID:    fill.OrderID,
	}
	if err := e.controller.ConfirmOpen(e.ladder, leg); err != nil {
		return fmt.Errorf("confirm %s: %w", leg, err)
	}
	e.reportTrade(leg)
	e.publishState()
	return nil
}

// reconcile checks the side of the pending failed open against the exchange.
// Quantity held there beyond what the ladder tracks was filled by that order
// and is adopted as its leg.
func (e *Engine) reconcile(ctx context.Context) (bool, error) {
	act := e.pendingOpen
	positions, err := e.gateway.OpenPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("read positions: %w", err)
	}
	e.pendingOpen = nil

	side := exchange.PositionSide(act.Side)
	held, entry := decimal.Zero, decimal.Zero
	for _, p := range positions {
		if p.PositionSide == side {
			held = p.PositionAmt.Abs()
			entry = p.EntryPrice
		}
	}
	tracked, trackedCost := decimal.Zero, decimal.Zero
	for _, leg := range e.ladder.Legs() {
		if leg.Side == act.Side {
			tracked = tracked.Add(leg.Quantity)
			trackedCost = trackedCost.Add(leg.Quantity.Mul(leg.EntryPrice))
		}
	}
	extra := held.Sub(tracked)
	if !extra.IsPositive() {
		return false, nil
	}

	price := act.TriggerPrice
	if entry.IsPositive() {
		if p := held.Mul(entry).Sub(trackedCost).Div(extra); p.IsPositive() {
			price = p
		}
	}
	leg := strategy.PositionLeg{
		Side:       act.Side,
		EntryPrice: price,
		Quantity:   extra,
		LevelIndex: act.LevelIndex,
		OpenedAt:   e.now(),
		OrderID:    "reconciled",
	}
	if err := e.controller.ConfirmOpen(e.ladder, leg); err != nil {
		return false, fmt.Errorf("adopt %s: %w", leg, err)
	}
	e.openFailures = 0
	logs.Warnf("[Engine] Exchange holds %s %s the ladder did not track, adopted as %s", extra, side, leg)
	e.reportTrade(leg)
	e.publishState()
	return true, nil
}

// closeAll flattens the symbol and settles the cycle.
func (e *Engine) closeAll(ctx context.Context, act *strategy.CloseAllAction) error {
	report, err := e.flatten(ctx)
	if err != nil {
		return err
	}
	return e.finishCycle(act, report)
}

// flatten retries transient failures until the symbol is flat or ctx ends.
func (e *Engine) flatten(ctx context.Context) (*exchange.CloseReport, error) {
	for attempt := 0; ; attempt++ {
		report, err := e.gateway.CloseAllPositions(ctx)
		if err == nil {
			return report, nil
		}
		if !exchange.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		delay := utils.Backoff(e.cfg.CloseRetryInterval, 30*time.Second, attempt)
		logs.Warnf("[Engine] Close-all failed (attempt %d), retrying in %s: %v", attempt+1, delay, err)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return nil, errors.Join(err, sleepErr)
		}
	}
}

func (e *Engine) finishCycle(act *strategy.CloseAllAction, report *exchange.CloseReport) error {
	res := e.accountant.SettleCycle(e.cycleID, act.Reason, e.ladder.Legs(), report, act.TriggerPrice, e.now())
	if e.journal != nil {
		if err := e.journal.Append(e.cfg.Symbol, res); err != nil {
			logs.Errorf("[Engine] Failed to write cycle journal: %v", err)
		}
	}
	next := e.controller.ConfirmClosed(e.ladder)
	e.sized = false
	e.cycles++
	e.publishState()

	logs.Infof("[Engine] Cycle %s closed (%s): %d legs, realized %s USDT, total %s USDT, next side %s",
		res.CycleID, res.Reason, len(res.Legs), res.RealizedPnL.StringFixed(4),
		e.accountant.GetRealizedPNL().StringFixed(4), next)

	if e.cfg.MaxCycles > 0 && e.cycles >= e.cfg.MaxCycles {
		return errMaxCycles
	}
	return nil
}

// shutdown flattens whatever is open within StopCloseTimeout. The exchange
// is flattened even with an empty ladder, since an open that failed after
// filling leaves a position the ladder never saw.
func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StopCloseTimeout)
	defer cancel()

	if e.ladder.IsEmpty() {
		report, err := e.flatten(ctx)
		if err != nil {
			return fmt.Errorf("%w: shutdown close-all: %w", exchange.ErrCloseFailed, err)
		}
		if len(report.Fills) > 0 {
			logs.Warnf("[Engine] Closed %d untracked position sides on shutdown.", len(report.Fills))
		} else {
			logs.Info("[Engine] No open legs, exchange already flat.")
		}
		return nil
	}

	act := e.controller.BeginClose(strategy.ReasonShutdown, e.ladder, e.lastPrice)
	logs.Infof("[Engine] %s", act.Description())
	err := e.closeAll(ctx, act)
	if err != nil && !errors.Is(err, errMaxCycles) {
		return fmt.Errorf("%w: shutdown close-all: %w", exchange.ErrCloseFailed, err)
	}
	return nil
}

func (e *Engine) reportTrade(leg strategy.PositionLeg) {
	msg := fmt.Sprintf("[Trade] %s | order %s", leg, leg.OrderID)
	if p, ok := e.controller.NextHedgePrice(e.ladder); ok {
		msg += " | next hedge " + p.StringFixed(2)
	}
	if p, ok := e.controller.TakeProfitPrice(e.ladder); ok {
		msg += " | take profit " + p.StringFixed(2)
	}
	logs.Info(msg)
}

func (e *Engine) logHeartbeat() {
	exp := e.ladder.CurrentExposure()
	logs.WithFields(map[string]interface{}{
		"state":     e.controller.State().String(),
		"price":     e.lastPrice.String(),
		"legs":      e.ladder.Len(),
		"long":      exp.Long.String(),
		"short":     exp.Short.String(),
		"upnl":      e.ladder.UnrealizedPnL(e.lastPrice).StringFixed(4),
		"cycles":    e.cycles,
		"coalesced": e.mailbox.Dropped(),
	}).Info("[Heartbeat] Engine still running...")
}

func (e *Engine) publishState() {
	exp := e.ladder.CurrentExposure()
	metrics.EngineState.Set(float64(e.controller.State()))
	metrics.OpenLegs.Set(float64(e.ladder.Len()))
	metrics.Exposure.WithLabelValues(string(strategy.Long)).Set(exp.Long.InexactFloat64())
	metrics.Exposure.WithLabelValues(string(strategy.Short)).Set(exp.Short.InexactFloat64())
}

// ticker wraps time.Ticker so a zero interval yields a channel that never fires.
type ticker struct{ t *time.Ticker }

func newTicker(d time.Duration) ticker {
	if d <= 0 {
		return ticker{}
	}
	return ticker{t: time.NewTicker(d)}
}

func (t ticker) C() <-chan time.Time {
	if t.t == nil {
		return nil
	}
	return t.t.C
}

func (t ticker) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
