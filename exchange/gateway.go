// exchange/gateway.go
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grid_hedge_bot/logs"
	"grid_hedge_bot/metrics"
	"grid_hedge_bot/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway is the boundary between the hedge engine and the exchange.
type Gateway interface {
	// GetBalance returns the free quote-currency balance.
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	// PlaceOrder sends a market order on a position side. reduceOnly closes
	// instead of opening. Errors wrap ErrOrderRejected.
	PlaceOrder(ctx context.Context, side PositionSide, qty decimal.Decimal, reduceOnly bool) (*Fill, error)
	// CloseAllPositions flattens the symbol. Errors wrap ErrCloseFailed.
	CloseAllPositions(ctx context.Context) (*CloseReport, error)
	// MinTradableQuantity is the smallest order quantity accepted for symbol.
	MinTradableQuantity(ctx context.Context, symbol string) (decimal.Decimal, error)
	// OpenPositions lists the non-flat position sides of the symbol.
	OpenPositions(ctx context.Context) ([]PositionInfo, error)
}

// Fill is a confirmed execution. Quantity may be below the requested
// quantity when the order filled partially.
type Fill struct {
	OrderID      string
	PositionSide PositionSide
	Side         OrderSide
	Requested    decimal.Decimal
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Status       OrderStatus
	Time         time.Time
}

// Partial reports whether less than the requested quantity executed.
func (f *Fill) Partial() bool { return f.Quantity.LessThan(f.Requested) }

// CloseReport lists the orders that flattened each side.
type CloseReport struct {
	Fills []Fill
}

// Closed returns the quantity closed on side.
func (r *CloseReport) Closed(side PositionSide) decimal.Decimal {
	total := decimal.Zero
	if r == nil {
		return total
	}
	for _, f := range r.Fills {
		if f.PositionSide == side {
			total = total.Add(f.Quantity)
		}
	}
	return total
}

// AvgPrice is the quantity-weighted close price on side.
func (r *CloseReport) AvgPrice(side PositionSide) decimal.Decimal {
	qty, quote := decimal.Zero, decimal.Zero
	if r == nil {
		return qty
	}
	for _, f := range r.Fills {
		if f.PositionSide == side {
			qty = qty.Add(f.Quantity)
			quote = quote.Add(f.Quantity.Mul(f.Price))
		}
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return quote.Div(qty)
}

// GatewayConfig bounds retries and fill polling.
type GatewayConfig struct {
	Symbol           string
	QuoteAsset       string
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	FillPollInterval time.Duration
	FillTimeout      time.Duration
}

// SetupOptions are applied once before the first cycle.
type SetupOptions struct {
	Leverage   int
	MarginType string // empty leaves the account setting untouched
}

// ClientGateway implements Gateway on top of a Client.
type ClientGateway struct {
	client Client
	cfg    GatewayConfig
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

var _ Gateway = (*ClientGateway)(nil)

func NewClientGateway(client Client, cfg GatewayConfig) *ClientGateway {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = 500 * time.Millisecond
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 15 * time.Second
	}
	return &ClientGateway{
		client: client,
		cfg:    cfg,
		sleep:  utils.SleepContext,
		now:    time.Now,
	}
}

// Setup applies leverage and margin type and switches the account to hedge mode.
func (g *ClientGateway) Setup(ctx context.Context, opts SetupOptions) error {
	if err := g.retry(ctx, "set_leverage", func() error {
		return g.client.SetLeverage(ctx, g.cfg.Symbol, opts.Leverage)
	}); err != nil {
		return fmt.Errorf("set leverage %dx on %s: %w", opts.Leverage, g.cfg.Symbol, err)
	}
	logs.Infof("[Gateway] Leverage for %s set to %dx", g.cfg.Symbol, opts.Leverage)

	if opts.MarginType != "" {
		if err := g.retry(ctx, "set_margin_type", func() error {
			return g.client.SetMarginType(ctx, g.cfg.Symbol, opts.MarginType)
		}); err != nil {
			return fmt.Errorf("set margin type %s on %s: %w", opts.MarginType, g.cfg.Symbol, err)
		}
		logs.Infof("[Gateway] Margin type for %s set to %s", g.cfg.Symbol, strings.ToUpper(opts.MarginType))
	}

	var dual bool
	if err := g.retry(ctx, "get_position_mode", func() error {
		var err error
		dual, err = g.client.GetPositionMode(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("query position mode: %w", err)
	}
	if !dual {
		if err := g.retry(ctx, "set_position_mode", func() error {
			return g.client.SetPositionMode(ctx, true)
		}); err != nil {
			return fmt.Errorf("enable hedge mode: %w", err)
		}
		logs.Infof("[Gateway] Dual-side position mode enabled")
	}
	return nil
}

func (g *ClientGateway) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := g.retry(ctx, "get_balance", func() error {
		var err error
		bal, err = g.client.GetBalance(ctx, g.cfg.QuoteAsset)
		return err
	})
	return bal, err
}

// MinTradableQuantity is the larger of the lot-size minimum and the
// quantity needed to reach the minimum notional at the current price.
func (g *ClientGateway) MinTradableQuantity(ctx context.Context, symbol string) (decimal.Decimal, error) {
	info, ok := g.client.GetSymbolInfo(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("no trading rules cached for %s", symbol)
	}
	minQty, step, ok := info.LotSize()
	if !ok {
		return decimal.Zero, fmt.Errorf("no LOT_SIZE filter for %s", symbol)
	}
	notional, ok := info.MinNotional()
	if !ok || !notional.IsPositive() {
		return minQty, nil
	}
	price, err := g.LastPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return minQty, nil
	}
	return decimal.Max(minQty, utils.RoundUpToStep(notional.Div(price), step)), nil
}

// LastPrice returns the exchange's latest price for the gateway symbol.
func (g *ClientGateway) LastPrice(ctx context.Context) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := g.retry(ctx, "get_price", func() error {
		var err error
		price, err = g.client.GetPrice(ctx, g.cfg.Symbol)
		return err
	})
	return price, err
}

// OpenPositions lists the non-flat position sides of the symbol.
func (g *ClientGateway) OpenPositions(ctx context.Context) ([]PositionInfo, error) {
	var all []PositionInfo
	err := g.retry(ctx, "get_positions", func() error {
		var err error
		all, err = g.client.GetPositions(ctx, g.cfg.Symbol)
		return err
	})
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, p := range all {
		if !p.PositionAmt.IsZero() {
			open = append(open, p)
		}
	}
	return open, nil
}

// PlaceOrder sends a market order and waits for it to reach a final state.
func (g *ClientGateway) PlaceOrder(ctx context.Context, side PositionSide, qty decimal.Decimal, reduceOnly bool) (*Fill, error) {
	kind := "open"
	if reduceOnly {
		kind = "close"
	}
	fill, err := g.placeMarket(ctx, side, qty, reduceOnly)
	switch {
	case err != nil:
		metrics.Orders.WithLabelValues(kind, "rejected").Inc()
	case fill.Partial():
		metrics.Orders.WithLabelValues(kind, "partial").Inc()
	default:
		metrics.Orders.WithLabelValues(kind, "filled").Inc()
	}
	return fill, err
}

func (g *ClientGateway) placeMarket(ctx context.Context, side PositionSide, qty decimal.Decimal, reduceOnly bool) (*Fill, error) {
	rounded := qty
	if info, ok := g.client.GetSymbolInfo(g.cfg.Symbol); ok {
		if minQty, step, ok := info.LotSize(); ok {
			rounded = utils.RoundDownToStep(qty, step)
			if rounded.LessThan(minQty) {
				return nil, fmt.Errorf("%w: quantity %s rounds to %s, below minimum %s", ErrOrderRejected, qty, rounded, minQty)
			}
		}
	}
	if !rounded.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive quantity %s", ErrOrderRejected, qty)
	}

	orderSide := side.OpenSide()
	if reduceOnly {
		orderSide = side.CloseSide()
	}
	order := &Order{
		Symbol:        g.cfg.Symbol,
		ClientOrderID: newClientOrderID(),
		Side:          orderSide,
		PositionSide:  side,
		Type:          Market,
		OrigQty:       rounded,
		ReduceOnly:    reduceOnly,
	}

	var placed *Order
	err := g.retry(ctx, "place_order", func() error {
		resp, err := g.client.PlaceOrder(ctx, order)
		if err == nil {
			placed = resp
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		// the request may have reached the exchange before failing
		if existing, lookupErr := g.client.GetOrder(ctx, order.Symbol, order.ClientOrderID); lookupErr == nil {
			placed = existing
			return nil
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s %s: %w", ErrOrderRejected, orderSide, side, rounded, err)
	}

	final, err := g.awaitFinal(ctx, placed)
	if err != nil {
		return nil, err
	}
	if !final.ExecutedQty.IsPositive() {
		return nil, fmt.Errorf("%w: order %s ended %s without fills", ErrOrderRejected, final.ClientOrderID, final.Status)
	}

	price := final.FillPrice()
	if !price.IsPositive() {
		if p, perr := g.LastPrice(ctx); perr == nil {
			price = p
		}
	}
	return &Fill{
		OrderID:      final.ClientOrderID,
		PositionSide: side,
		Side:         orderSide,
		Requested:    rounded,
		Quantity:     final.ExecutedQty,
		Price:        price,
		Status:       final.Status,
		Time:         g.now(),
	}, nil
}

// awaitFinal polls the order until it is final. An order still working when
// the fill timeout passes is cancelled and read back, so the executed
// quantity reported is the one that stays on the exchange.
func (g *ClientGateway) awaitFinal(ctx context.Context, o *Order) (*Order, error) {
	deadline := g.now().Add(g.cfg.FillTimeout)
	current := o
	for !current.Status.Final() {
		if g.now().After(deadline) {
			logs.Warnf("[Gateway] Order %s still %s after %s with %s executed, cancelling the rest",
				current.ClientOrderID, current.Status, g.cfg.FillTimeout, current.ExecutedQty)
			return g.cancelAndRead(ctx, current)
		}
		if err := g.sleep(ctx, g.cfg.FillPollInterval); err != nil {
			return nil, err
		}
		next, err := g.client.GetOrder(ctx, current.Symbol, current.ClientOrderID)
		if err != nil {
			if IsTransient(err) {
				continue
			}
			return nil, fmt.Errorf("%w: query order %s: %w", ErrOrderRejected, current.ClientOrderID, err)
		}
		current = next
	}
	return current, nil
}

func (g *ClientGateway) cancelAndRead(ctx context.Context, o *Order) (*Order, error) {
	var cancelled *Order
	err := g.retry(ctx, "cancel_order", func() error {
		resp, err := g.client.CancelOrder(ctx, o.Symbol, o.ClientOrderID)
		if err != nil {
			return err
		}
		cancelled = resp
		return nil
	})
	if err != nil && !hasCode(err, codeUnknownOrder) {
		return nil, fmt.Errorf("%w: cancel order %s: %w", ErrOrderRejected, o.ClientOrderID, err)
	}
	if cancelled != nil && cancelled.Status.Final() {
		return cancelled, nil
	}

	// filled in the meantime, or the cancel response carried no final state
	var final *Order
	if err := g.retry(ctx, "get_order", func() error {
		resp, err := g.client.GetOrder(ctx, o.Symbol, o.ClientOrderID)
		if err != nil {
			return err
		}
		final = resp
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: query order %s after cancel: %w", ErrOrderRejected, o.ClientOrderID, err)
	}
	if !final.Status.Final() {
		return nil, fmt.Errorf("%w: order %s still %s after cancel", ErrOrderRejected, o.ClientOrderID, final.Status)
	}
	return final, nil
}

// CloseAllPositions cancels open orders, then closes every non-flat side with
// a reduce-only market order and checks that the symbol ended flat.
func (g *ClientGateway) CloseAllPositions(ctx context.Context) (*CloseReport, error) {
	report := &CloseReport{}

	if err := g.retry(ctx, "cancel_open_orders", func() error {
		return g.client.CancelAllOpenOrders(ctx, g.cfg.Symbol)
	}); err != nil {
		return report, fmt.Errorf("%w: cancel open orders: %w", ErrCloseFailed, err)
	}

	open, err := g.OpenPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: list positions: %w", ErrCloseFailed, err)
	}
	for _, pos := range open {
		side := pos.PositionSide
		if side == Both {
			side = Long
			if pos.PositionAmt.IsNegative() {
				side = Short
			}
		}
		fill, err := g.placeMarket(ctx, side, pos.PositionAmt.Abs(), true)
		if err != nil {
			metrics.Orders.WithLabelValues("close", "rejected").Inc()
			return report, fmt.Errorf("%w: close %s %s: %w", ErrCloseFailed, pos.PositionSide, pos.PositionAmt.Abs(), err)
		}
		metrics.Orders.WithLabelValues("close", "filled").Inc()
		report.Fills = append(report.Fills, *fill)
		logs.Infof("[Gateway] Closed %s %s on %s at %s (order %s)", fill.Quantity, side, g.cfg.Symbol, fill.Price, fill.OrderID)
	}

	remaining, err := g.OpenPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: verify positions: %w", ErrCloseFailed, err)
	}
	if len(remaining) > 0 {
		return report, fmt.Errorf("%w: %w: %d position sides still open after close", ErrCloseFailed, ErrTransient, len(remaining))
	}
	return report, nil
}

// retry runs fn up to MaxRetries extra times while it fails transiently.
func (g *ClientGateway) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) || attempt >= g.cfg.MaxRetries {
			return err
		}
		delay := utils.Backoff(g.cfg.RetryBaseDelay, g.cfg.RetryMaxDelay, attempt)
		metrics.OrderRetries.WithLabelValues(op).Inc()
		logs.Warnf("[Gateway] %s failed (attempt %d/%d), retrying in %s: %v", op, attempt+1, g.cfg.MaxRetries+1, delay, err)
		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
}

// newClientOrderID fits Binance's 36 character limit.
func newClientOrderID() string {
	return "gh" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
