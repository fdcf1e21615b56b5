package exchange

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// SymbolInfo holds information for a single symbol.
type SymbolInfo struct {
	Symbol            string   `json:"symbol"`
	Status            string   `json:"status"`
	PricePrecision    int      `json:"pricePrecision"`
	QuantityPrecision int      `json:"quantityPrecision"`
	Filters           []Filter `json:"filters"`
}

// Filter holds filter data, we use a map to be flexible.
type Filter map[string]interface{}

func (f Filter) decimal(key string) (decimal.Decimal, bool) {
	raw, ok := f[key].(string)
	if !ok {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func (s SymbolInfo) filter(filterType string) (Filter, bool) {
	for _, f := range s.Filters {
		if t, _ := f["filterType"].(string); strings.EqualFold(t, filterType) {
			return f, true
		}
	}
	return nil, false
}

// LotSize returns the minimum quantity and step for market orders,
// preferring MARKET_LOT_SIZE over LOT_SIZE.
func (s SymbolInfo) LotSize() (minQty, stepSize decimal.Decimal, ok bool) {
	for _, name := range []string{"MARKET_LOT_SIZE", "LOT_SIZE"} {
		f, found := s.filter(name)
		if !found {
			continue
		}
		minQty, okMin := f.decimal("minQty")
		stepSize, okStep := f.decimal("stepSize")
		if okMin && okStep && stepSize.IsPositive() {
			return minQty, stepSize, true
		}
	}
	return decimal.Zero, decimal.Zero, false
}

// MinNotional is the smallest order value the exchange accepts, if any.
func (s SymbolInfo) MinNotional() (decimal.Decimal, bool) {
	f, ok := s.filter("MIN_NOTIONAL")
	if !ok {
		return decimal.Zero, false
	}
	return f.decimal("notional")
}

// OrderSide defines the order direction (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType defines the order type.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// PositionSide defines the position direction.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
	Both  PositionSide = "BOTH"
)

// OpenSide is the order side that increases a position.
func (p PositionSide) OpenSide() OrderSide {
	if p == Short {
		return Sell
	}
	return Buy
}

// CloseSide is the order side that reduces a position.
func (p PositionSide) CloseSide() OrderSide {
	if p == Short {
		return Buy
	}
	return Sell
}

// OrderStatus defines the order status.
type OrderStatus string

const (
	New             OrderStatus = "NEW"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Canceled        OrderStatus = "CANCELED"
	Rejected        OrderStatus = "REJECTED"
	Expired         OrderStatus = "EXPIRED"
)

// Final reports whether the order can no longer change.
func (s OrderStatus) Final() bool {
	switch s {
	case Filled, Canceled, Rejected, Expired:
		return true
	}
	return false
}

// Order represents complete information of an order.
type Order struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	CumQuote      decimal.Decimal `json:"cumQuote"` // Executed quote amount
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	Status        OrderStatus     `json:"status"`
	Type          OrderType       `json:"type"`
	Side          OrderSide       `json:"side"`
	PositionSide  PositionSide    `json:"positionSide"`
	ReduceOnly    bool            `json:"reduceOnly"`
	UpdateTime    int64           `json:"updateTime"`
}

// FillPrice is the average execution price, derived from the executed
// quote amount when the exchange leaves avgPrice empty.
func (o *Order) FillPrice() decimal.Decimal {
	if o.AvgPrice.IsPositive() {
		return o.AvgPrice
	}
	if o.ExecutedQty.IsPositive() && o.CumQuote.IsPositive() {
		return o.CumQuote.Div(o.ExecutedQty)
	}
	return decimal.Zero
}

// PositionInfo contains key position information for one side of a trading pair.
type PositionInfo struct {
	Symbol           string
	PositionSide     PositionSide
	PositionAmt      decimal.Decimal // negative for short in one-way mode
	EntryPrice       decimal.Decimal
	UnrealizedProfit decimal.Decimal
	Notional         decimal.Decimal
}

// Client defines the low-level exchange calls the gateway is built on.
type Client interface {
	// SyncTime synchronizes time with the server. This method should be called before making any signed requests.
	SyncTime(ctx context.Context) error

	// SetMarginType sets the margin mode for the specified trading pair, e.g. "ISOLATED" or "CROSSED".
	SetMarginType(ctx context.Context, symbol, marginType string) error

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetPositionMode reports whether hedge (dual-side) mode is enabled.
	GetPositionMode(ctx context.Context) (bool, error)
	SetPositionMode(ctx context.Context, dualSide bool) error

	// GetBalance returns the available balance of asset.
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// PlaceOrder submits a new order to the exchange.
	PlaceOrder(ctx context.Context, order *Order) (*Order, error)

	// GetOrder looks an order up by its client order ID.
	GetOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error)

	// GetPrice gets the latest price for a trading pair.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetPositions lists every position side of symbol, flat ones included.
	GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error)

	// CancelOrder cancels one order by client order ID and returns its final state.
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error)

	// CancelAllOpenOrders cancels all pending orders for the specified trading pair.
	CancelAllOpenOrders(ctx context.Context, symbol string) error

	// GetSymbolInfo gets trading pair rule information from cache.
	GetSymbolInfo(symbol string) (SymbolInfo, bool)
}
