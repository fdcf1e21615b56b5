package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"grid_hedge_bot/logs"
	"grid_hedge_bot/strategy"
	"grid_hedge_bot/utils"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// klineEvent is the futures <symbol>@kline_<interval> payload.
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		Close  decimal.Decimal `json:"c"`
		Closed bool            `json:"x"`
	} `json:"k"`
}

// BinanceFeed streams kline close prices from the Binance futures websocket
// and reconnects with exponential backoff until ctx is cancelled.
type BinanceFeed struct {
	BaseURL      string // e.g. wss://fstream.binance.com
	Symbol       string
	Interval     string // kline interval, e.g. 1m
	ReadTimeout  time.Duration
	ReconnectMax time.Duration
	Dialer       *websocket.Dialer
}

func (f *BinanceFeed) streamURL() string {
	return fmt.Sprintf("%s/ws/%s@kline_%s", strings.TrimRight(f.BaseURL, "/"), strings.ToLower(f.Symbol), f.Interval)
}

func (f *BinanceFeed) Stream(ctx context.Context, box *Mailbox) error {
	dialer := f.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	readTimeout := f.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	reconnectMax := f.ReconnectMax
	if reconnectMax <= 0 {
		reconnectMax = 30 * time.Second
	}

	url := f.streamURL()
	for attempt := 0; ; {
		received, err := f.session(ctx, dialer, url, readTimeout, box)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			attempt = 0
		}
		delay := utils.Backoff(time.Second, reconnectMax, attempt)
		attempt++
		logs.Warnf("[MarketData] Stream %s dropped: %v, reconnecting in %s", url, err, delay)
		if err := utils.SleepContext(ctx, delay); err != nil {
			return err
		}
	}
}

// session runs one websocket connection. received reports whether any tick
// was delivered, which resets the reconnect backoff.
func (f *BinanceFeed) session(ctx context.Context, dialer *websocket.Dialer, url string, readTimeout time.Duration, box *Mailbox) (received bool, err error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	logs.Infof("[MarketData] Connected to %s", url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		tick, ok := parseKline(data)
		if !ok {
			logs.Debugf("[MarketData] Ignoring message: %s", string(data))
			continue
		}
		box.Put(tick)
		received = true
	}
}

func parseKline(data []byte) (strategy.PriceTick, bool) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.EventType != "kline" {
		return strategy.PriceTick{}, false
	}
	if !ev.Kline.Close.IsPositive() {
		return strategy.PriceTick{}, false
	}
	return strategy.PriceTick{
		Symbol:    ev.Symbol,
		Price:     ev.Kline.Close,
		Timestamp: time.UnixMilli(ev.EventTime),
	}, true
}
