// exchange/client.go
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"grid_hedge_bot/logs"

	"github.com/shopspring/decimal"
)

// Ensure APIClient struct implements Client interface
var _ Client = (*APIClient)(nil)

// ExchangeInfo holds the full exchange information response.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// APIClient is the client for the Binance USDT-M futures REST API.
type APIClient struct {
	ApiKey          string
	ApiSecret       string
	BaseURL         string
	Http            *http.Client
	timeOffset      int64 // Difference between server time and local time
	recvWindow      int64 // milliseconds
	symbolInfoCache map[string]SymbolInfo
	symbolInfoMutex sync.RWMutex
	mu              sync.Mutex
}

// positionRisk is used to parse the position risk API response
type positionRisk struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	PositionSide     PositionSide    `json:"positionSide"`
	Notional         decimal.Decimal `json:"notional"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
}

type accountBalance struct {
	Asset            string          `json:"asset"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

// NewAPIClient creates a new API client instance
func NewAPIClient(apiKey, apiSecret, baseURL string, timeoutSeconds int, recvWindowSeconds int) *APIClient {
	return &APIClient{
		ApiKey:          apiKey,
		ApiSecret:       apiSecret,
		BaseURL:         strings.TrimRight(baseURL, "/"),
		Http:            &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		recvWindow:      int64(recvWindowSeconds * 1000),
		symbolInfoCache: make(map[string]SymbolInfo),
	}
}

// SyncTime synchronizes time with the Binance server and refreshes the symbol rules cache.
func (c *APIClient) SyncTime(ctx context.Context) error {
	var timeResp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.sendPublic(ctx, "/fapi/v1/time", nil, &timeResp); err != nil {
		return fmt.Errorf("unable to get Binance server time: %w", err)
	}

	offset := timeResp.ServerTime - time.Now().UnixMilli()
	c.mu.Lock()
	c.timeOffset = offset
	c.mu.Unlock()
	logs.Infof("[API Client] Time synchronization completed, local time vs server time difference: %d ms", offset)

	if err := c.fetchExchangeInfo(ctx); err != nil {
		// prices and balances still work without the rules cache
		logs.Warnf("[API Client] Failed to fetch and cache exchange trading rules: %v", err)
	}
	return nil
}

// sendPublic performs an unsigned GET.
func (c *APIClient) sendPublic(ctx context.Context, endpoint string, params url.Values, target interface{}) error {
	fullURL := c.BaseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, target)
}

// sendRequest signs params and sends them in the query string for every method.
func (c *APIClient) sendRequest(ctx context.Context, method, endpoint string, params url.Values, target interface{}) error {
	c.mu.Lock()
	offset := c.timeOffset
	c.mu.Unlock()

	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli()+offset, 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))

	queryString := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.ApiSecret))
	_, _ = mac.Write([]byte(queryString))
	signature := hex.EncodeToString(mac.Sum(nil))

	fullURL := fmt.Sprintf("%s%s?%s&signature=%s", c.BaseURL, endpoint, queryString, signature)
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if method == http.MethodPost || method == http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-MBX-APIKEY", c.ApiKey)
	return c.do(req, target)
}

func (c *APIClient) do(req *http.Request, target interface{}) error {
	resp, err := c.Http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to decode JSON: %w, body: %s", err, string(body))
		}
	}
	return nil
}

// SetMarginType sets margin type for a specified trading pair
func (c *APIClient) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", strings.ToUpper(marginType))
	err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/marginType", params, nil)
	if hasCode(err, codeNoNeedToChangeMargin) {
		return nil
	}
	return err
}

// SetLeverage changes the initial leverage of symbol.
func (c *APIClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.sendRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, nil)
}

func (c *APIClient) GetPositionMode(ctx context.Context) (bool, error) {
	var resp struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/positionSide/dual", url.Values{}, &resp); err != nil {
		return false, err
	}
	return resp.DualSidePosition, nil
}

func (c *APIClient) SetPositionMode(ctx context.Context, dualSide bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(dualSide))
	err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", params, nil)
	if hasCode(err, codeNoNeedToChangePosition) {
		return nil
	}
	return err
}

// GetBalance returns the available futures balance of asset.
func (c *APIClient) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var balances []accountBalance
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, &balances); err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if strings.EqualFold(b.Asset, asset) {
			return b.AvailableBalance, nil
		}
	}
	return decimal.Zero, nil
}

// PlaceOrder submits a new order to the exchange
func (c *APIClient) PlaceOrder(ctx context.Context, order *Order) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("positionSide", string(order.PositionSide))
	params.Set("type", string(order.Type))
	params.Set("quantity", order.OrigQty.String())
	params.Set("newOrderRespType", "RESULT")
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}
	if order.Type == Limit {
		params.Set("timeInForce", "GTC")
		params.Set("price", order.Price.String())
	}

	// In hedge mode a close is already implied by side + positionSide, and
	// Binance rejects the reduceOnly flag there.
	isUnambiguousClose := (order.Side == Buy && order.PositionSide == Short) || (order.Side == Sell && order.PositionSide == Long)
	if order.ReduceOnly && !isUnambiguousClose {
		params.Set("reduceOnly", "true")
	}

	var newOrder Order
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &newOrder); err != nil {
		return nil, err
	}
	return &newOrder, nil
}

// GetOrder retrieves order details by client order ID.
func (c *APIClient) GetOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var order Order
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/order", params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetPrice retrieves the latest price for a trading pair
func (c *APIClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var data struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := c.sendPublic(ctx, "/fapi/v1/ticker/price", params, &data); err != nil {
		return decimal.Zero, err
	}
	return data.Price, nil
}

// GetPositions queries every position side of symbol.
func (c *APIClient) GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var risks []positionRisk
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &risks); err != nil {
		return nil, err
	}

	positions := make([]PositionInfo, 0, len(risks))
	for _, p := range risks {
		positions = append(positions, PositionInfo{
			Symbol:           p.Symbol,
			PositionSide:     p.PositionSide,
			PositionAmt:      p.PositionAmt,
			EntryPrice:       p.EntryPrice,
			UnrealizedProfit: p.UnrealizedProfit,
			Notional:         p.Notional,
		})
	}
	return positions, nil
}

// CancelOrder cancels an order by client order ID.
func (c *APIClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var order Order
	if err := c.sendRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelAllOpenOrders cancels all open orders for a specified trading pair
func (c *APIClient) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	return c.sendRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, nil)
}

// GetSymbolInfo safely retrieves symbol information from the cache.
func (c *APIClient) GetSymbolInfo(symbol string) (SymbolInfo, bool) {
	c.symbolInfoMutex.RLock()
	defer c.symbolInfoMutex.RUnlock()
	info, ok := c.symbolInfoCache[symbol]
	return info, ok
}

// fetchExchangeInfo retrieves and caches exchange information.
func (c *APIClient) fetchExchangeInfo(ctx context.Context) error {
	var exchangeInfo ExchangeInfo
	if err := c.sendPublic(ctx, "/fapi/v1/exchangeInfo", nil, &exchangeInfo); err != nil {
		return err
	}

	c.symbolInfoMutex.Lock()
	defer c.symbolInfoMutex.Unlock()
	for _, symbolInfo := range exchangeInfo.Symbols {
		c.symbolInfoCache[symbolInfo.Symbol] = symbolInfo
	}
	logs.Infof("[API Client] Binance exchange info cache updated, cached %d symbol info.", len(c.symbolInfoCache))
	return nil
}
