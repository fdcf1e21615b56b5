package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"grid_hedge_bot/logs"

	"github.com/shopspring/decimal"
)

//
// Paper-trading exchange: hedge-mode positions, market fills at the simulated price
//

// Ensure MockClient implements Client interface
var _ Client = (*MockClient)(nil)

// Simulation modes of the mock price path.
const (
	SimSine       = "sine"
	SimRandomWalk = "random_walk"
	SimStatic     = "static"
)

// MockConfig configures the paper exchange.
type MockConfig struct {
	Symbol         string
	InitialBalance decimal.Decimal
	InitialPrice   decimal.Decimal
	MinQty         decimal.Decimal
	StepSize       decimal.Decimal
	TickSize       decimal.Decimal
	Mode           string
	Amplitude      float64 // sine: absolute price amplitude
	Volatility     float64 // random walk: max fractional move per step
	Interval       time.Duration
	Seed           int64
}

// MockClient is an in-memory implementation of Client for paper trading and tests.
type MockClient struct {
	mu          sync.RWMutex
	cfg         MockConfig
	wallet      decimal.Decimal
	price       decimal.Decimal
	positions   map[PositionSide]*PositionInfo
	orders      map[string]*Order // by client order ID
	nextOrderID int64
	dualSide    bool
	leverage    int
	marginType  string
	subscribers map[chan decimal.Decimal]struct{}
	stopChan    chan struct{}
	stopOnce    sync.Once
	simTime     float64
	rng         *rand.Rand

	// test hooks
	failNext  []error
	fillRatio decimal.Decimal
	resting   bool
}

// NewMockClient creates a paper exchange. Zero values in cfg get sensible defaults.
func NewMockClient(cfg MockConfig) *MockClient {
	if cfg.Mode == "" {
		cfg.Mode = SimSine
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if !cfg.StepSize.IsPositive() {
		cfg.StepSize = decimal.RequireFromString("0.001")
	}
	if !cfg.MinQty.IsPositive() {
		cfg.MinQty = cfg.StepSize
	}
	if !cfg.TickSize.IsPositive() {
		cfg.TickSize = decimal.RequireFromString("0.1")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockClient{
		cfg:         cfg,
		wallet:      cfg.InitialBalance,
		price:       cfg.InitialPrice,
		positions:   make(map[PositionSide]*PositionInfo),
		orders:      make(map[string]*Order),
		leverage:    1,
		subscribers: make(map[chan decimal.Decimal]struct{}),
		stopChan:    make(chan struct{}),
		rng:         rand.New(rand.NewSource(seed)),
		fillRatio:   decimal.NewFromInt(1),
	}
}

// Start runs the price simulator until Stop is called.
func (c *MockClient) Start() {
	if c.cfg.Mode == SimStatic {
		return
	}
	go c.runPriceSimulator()
}

// Stop gracefully stops the simulator and closes subscriber channels.
func (c *MockClient) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.mu.Lock()
		for sub := range c.subscribers {
			close(sub)
			delete(c.subscribers, sub)
		}
		c.mu.Unlock()
	})
}

// Subscribe returns a channel receiving every simulated price. Slow
// subscribers miss updates instead of blocking the simulator.
func (c *MockClient) Subscribe() <-chan decimal.Decimal {
	ch := make(chan decimal.Decimal, 16)
	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()
	return ch
}

func (c *MockClient) runPriceSimulator() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.stepPrice_noLock()
			c.broadcastPriceUpdate_noLock(c.price)
			c.mu.Unlock()
		}
	}
}

func (c *MockClient) stepPrice_noLock() {
	switch c.cfg.Mode {
	case SimRandomWalk:
		move := (c.rng.Float64()*2 - 1) * c.cfg.Volatility
		next := c.price.Mul(decimal.NewFromFloat(1 + move))
		c.price = c.roundPrice(next)
	default:
		c.simTime += 0.1
		base, _ := c.cfg.InitialPrice.Float64()
		c.price = c.roundPrice(decimal.NewFromFloat(base + c.cfg.Amplitude*math.Sin(c.simTime)))
	}
}

func (c *MockClient) roundPrice(p decimal.Decimal) decimal.Decimal {
	rounded := p.Div(c.cfg.TickSize).Round(0).Mul(c.cfg.TickSize)
	if !rounded.IsPositive() {
		return c.cfg.TickSize
	}
	return rounded
}

// broadcastPriceUpdate_noLock broadcasts price updates to all subscribers. Must be called while holding the lock.
func (c *MockClient) broadcastPriceUpdate_noLock(price decimal.Decimal) {
	for sub := range c.subscribers {
		select {
		case sub <- price:
		default:
		}
	}
}

// SetPrice moves the market and notifies subscribers.
func (c *MockClient) SetPrice(price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = price
	c.broadcastPriceUpdate_noLock(price)
}

// SetInitialPosition seeds an open position, e.g. to test the flat-start check.
func (c *MockClient) SetInitialPosition(side PositionSide, amount, entryPrice decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[side] = &PositionInfo{
		Symbol:       c.cfg.Symbol,
		PositionSide: side,
		PositionAmt:  amount,
		EntryPrice:   entryPrice,
	}
	logs.Debugf("[Mock] Setting initial position for %s %s: %s", c.cfg.Symbol, side, amount)
}

// FailNextOrders makes the next PlaceOrder calls return errs in order.
func (c *MockClient) FailNextOrders(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = append(c.failNext, errs...)
}

// SetFillRatio makes market orders fill only ratio of their quantity.
func (c *MockClient) SetFillRatio(ratio decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillRatio = ratio
}

// SetRestingOrders leaves market orders open after their first fill, as a
// thin book would. They stay NEW or PARTIALLY_FILLED until cancelled.
func (c *MockClient) SetRestingOrders(resting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resting = resting
}

// Leverage and MarginType expose what setup configured.
func (c *MockClient) Leverage() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leverage
}

func (c *MockClient) MarginType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marginType
}

// SyncTime is a no-op for the paper exchange.
func (c *MockClient) SyncTime(ctx context.Context) error {
	logs.Debug("[Mock Client] Skipping time synchronization.")
	return nil
}

func (c *MockClient) SetMarginType(ctx context.Context, symbol, marginType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marginType = marginType
	return nil
}

func (c *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return &APIError{HTTPStatus: 400, Code: -4028, Msg: "Leverage is not valid"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leverage = leverage
	return nil
}

func (c *MockClient) GetPositionMode(ctx context.Context) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dualSide, nil
}

func (c *MockClient) SetPositionMode(ctx context.Context, dualSide bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dualSide = dualSide
	return nil
}

// GetBalance returns the wallet balance minus the margin held by open positions.
func (c *MockClient) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	used := decimal.Zero
	lev := decimal.NewFromInt(int64(c.leverage))
	for _, p := range c.positions {
		used = used.Add(p.PositionAmt.Abs().Mul(p.EntryPrice).Div(lev))
	}
	return c.wallet.Sub(used), nil
}

// Wallet is the balance including realized PnL, ignoring open margin.
func (c *MockClient) Wallet() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wallet
}

// GetSymbolInfo returns LOT_SIZE and PRICE_FILTER rules built from the config.
func (c *MockClient) GetSymbolInfo(symbol string) (SymbolInfo, bool) {
	if symbol != c.cfg.Symbol {
		return SymbolInfo{}, false
	}
	return SymbolInfo{
		Symbol: symbol,
		Status: "TRADING",
		Filters: []Filter{
			{"filterType": "LOT_SIZE", "minQty": c.cfg.MinQty.String(), "stepSize": c.cfg.StepSize.String()},
			{"filterType": "PRICE_FILTER", "tickSize": c.cfg.TickSize.String()},
		},
	}, true
}

// PlaceOrder fills market orders immediately at the current price.
func (c *MockClient) PlaceOrder(ctx context.Context, order *Order) (*Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.failNext) > 0 {
		err := c.failNext[0]
		c.failNext = c.failNext[1:]
		return nil, err
	}
	if order.Symbol != c.cfg.Symbol {
		return nil, &APIError{HTTPStatus: 400, Code: -1121, Msg: "Invalid symbol."}
	}
	if order.Type != Market {
		return nil, &APIError{HTTPStatus: 400, Code: -1116, Msg: "Invalid orderType."}
	}
	if !c.dualSide && order.PositionSide != Both {
		return nil, &APIError{HTTPStatus: 400, Code: -4061, Msg: "Order's position side does not match user's setting."}
	}
	if order.OrigQty.LessThan(c.cfg.MinQty) {
		return nil, &APIError{HTTPStatus: 400, Code: -4003, Msg: "Quantity less than or equal to zero."}
	}
	if order.ClientOrderID != "" {
		if _, dup := c.orders[order.ClientOrderID]; dup {
			return nil, &APIError{HTTPStatus: 400, Code: -4116, Msg: "ClientOrderId is duplicated."}
		}
	}

	executed := order.OrigQty.Mul(c.fillRatio).Div(c.cfg.StepSize).Floor().Mul(c.cfg.StepSize)
	if order.ReduceOnly || isClosingOrder(order) {
		held := decimal.Zero
		if pos := c.positions[order.PositionSide]; pos != nil {
			held = pos.PositionAmt.Abs()
		}
		if held.IsZero() {
			return nil, &APIError{HTTPStatus: 400, Code: -2022, Msg: "ReduceOnly Order is rejected."}
		}
		executed = decimal.Min(executed, held)
	}

	c.nextOrderID++
	filled := *order
	filled.OrderID = c.nextOrderID
	if filled.ClientOrderID == "" {
		filled.ClientOrderID = "mock-" + strconv.FormatInt(c.nextOrderID, 10)
	}
	filled.ExecutedQty = executed
	filled.AvgPrice = c.price
	filled.CumQuote = executed.Mul(c.price)
	filled.UpdateTime = time.Now().UnixMilli()
	switch {
	case executed.Equal(order.OrigQty):
		filled.Status = Filled
	case c.resting && executed.IsPositive():
		filled.Status = PartiallyFilled
	case c.resting:
		filled.Status = New
	default:
		filled.Status = Expired
	}
	c.orders[filled.ClientOrderID] = &filled

	if executed.IsPositive() {
		c.applyFill_noLock(&filled)
	}
	logs.Debugf("[Mock] Market order %s: %s %s %s, executed %s/%s at %s",
		filled.Status, filled.Side, filled.PositionSide, filled.Symbol, executed, order.OrigQty, c.price)

	out := filled
	return &out, nil
}

func isClosingOrder(o *Order) bool {
	return (o.PositionSide == Long && o.Side == Sell) || (o.PositionSide == Short && o.Side == Buy)
}

// applyFill_noLock updates the position and books realized PnL on reductions.
func (c *MockClient) applyFill_noLock(o *Order) {
	side := o.PositionSide
	if side == Both {
		if o.Side == Buy {
			side = Long
		} else {
			side = Short
		}
	}
	pos := c.positions[side]
	if pos == nil {
		pos = &PositionInfo{Symbol: o.Symbol, PositionSide: side}
		c.positions[side] = pos
	}

	qty := o.ExecutedQty
	price := o.AvgPrice
	signed := qty
	if o.Side == Sell {
		signed = qty.Neg()
	}

	opening := (side == Long && o.Side == Buy) || (side == Short && o.Side == Sell)
	if opening {
		total := pos.PositionAmt.Abs().Add(qty)
		pos.EntryPrice = pos.PositionAmt.Abs().Mul(pos.EntryPrice).Add(qty.Mul(price)).Div(total)
		pos.PositionAmt = pos.PositionAmt.Add(signed)
	} else {
		direction := decimal.NewFromInt(1)
		if side == Short {
			direction = decimal.NewFromInt(-1)
		}
		realized := price.Sub(pos.EntryPrice).Mul(qty).Mul(direction)
		c.wallet = c.wallet.Add(realized)
		pos.PositionAmt = pos.PositionAmt.Add(signed)
		if pos.PositionAmt.IsZero() {
			pos.EntryPrice = decimal.Zero
		}
	}
	c.updateUnrealized_noLock(pos)
}

func (c *MockClient) updateUnrealized_noLock(pos *PositionInfo) {
	pos.Notional = pos.PositionAmt.Mul(c.price)
	pos.UnrealizedProfit = c.price.Sub(pos.EntryPrice).Mul(pos.PositionAmt)
}

// GetOrder looks up an order by client order ID.
func (c *MockClient) GetOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[clientOrderID]
	if !ok {
		return nil, &APIError{HTTPStatus: 400, Code: -2013, Msg: "Order does not exist."}
	}
	out := *o
	return &out, nil
}

// CancelOrder cancels a resting order. Final orders answer -2011 like Binance.
func (c *MockClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[clientOrderID]
	if !ok || o.Status.Final() {
		return nil, &APIError{HTTPStatus: 400, Code: codeUnknownOrder, Msg: "Unknown order sent."}
	}
	o.Status = Canceled
	o.UpdateTime = time.Now().UnixMilli()
	out := *o
	return &out, nil
}

// CancelAllOpenOrders cancels every resting order of symbol.
func (c *MockClient) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.orders {
		if o.Symbol == symbol && !o.Status.Final() {
			o.Status = Canceled
		}
	}
	return nil
}

func (c *MockClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if symbol != c.cfg.Symbol {
		return decimal.Zero, fmt.Errorf("mock price not found for %s", symbol)
	}
	return c.price, nil
}

// GetPositions returns both hedge sides, flat ones included.
func (c *MockClient) GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PositionInfo, 0, 2)
	for _, side := range []PositionSide{Long, Short} {
		pos := c.positions[side]
		if pos == nil {
			out = append(out, PositionInfo{Symbol: symbol, PositionSide: side})
			continue
		}
		c.updateUnrealized_noLock(pos)
		out = append(out, *pos)
	}
	return out, nil
}
