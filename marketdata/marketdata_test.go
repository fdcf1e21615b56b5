package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"grid_hedge_bot/strategy"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tickAt(price string) strategy.PriceTick {
	return strategy.PriceTick{Symbol: "BTCUSDT", Price: decimal.RequireFromString(price), Timestamp: time.Now()}
}

func TestMailboxKeepsLatest(t *testing.T) {
	box := NewMailbox()
	box.Put(tickAt("100"))
	box.Put(tickAt("101"))
	box.Put(tickAt("102"))

	got := <-box.C()
	assert.True(t, got.Price.Equal(decimal.RequireFromString("102")))
	assert.Equal(t, uint64(2), box.Dropped())

	select {
	case extra := <-box.C():
		t.Fatalf("unexpected extra tick %s", extra.Price)
	default:
	}
}

func TestMailboxClose(t *testing.T) {
	box := NewMailbox()
	box.Put(tickAt("100"))
	box.Close()
	box.Close()
	box.Put(tickAt("200"))

	got, ok := <-box.C()
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("100")))

	_, ok = <-box.C()
	assert.False(t, ok)
}

func TestParseKline(t *testing.T) {
	tick, ok := parseKline([]byte(`{"e":"kline","E":1700000000000,"s":"BTCUSDT","k":{"c":"50123.40","x":false}}`))
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.True(t, tick.Price.Equal(decimal.RequireFromString("50123.4")))
	assert.Equal(t, int64(1700000000000), tick.Timestamp.UnixMilli())

	for _, raw := range []string{
		`not json`,
		`{"result":null,"id":1}`,
		`{"e":"kline","E":1,"s":"BTCUSDT","k":{"c":"0"}}`,
	} {
		_, ok := parseKline([]byte(raw))
		assert.False(t, ok, raw)
	}
}

func TestBinanceFeedStreamsAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	var paths []string
	sessions := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		paths = append(paths, r.URL.Path)
		sessions++
		n := sessions
		mu.Unlock()
		price := 50000 + n
		msgs := []string{
			`{"result":null,"id":1}`,
			fmt.Sprintf(`{"e":"kline","E":1700000000000,"s":"BTCUSDT","k":{"c":"%d","x":false}}`, price),
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// first session drops right away to force a reconnect
		if n > 1 {
			time.Sleep(2 * time.Second)
		}
	}))
	defer srv.Close()

	feed := &BinanceFeed{
		BaseURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbol:       "BTCUSDT",
		Interval:     "1m",
		ReadTimeout:  5 * time.Second,
		ReconnectMax: time.Second,
	}
	box := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Stream(ctx, box) }()

	first := <-box.C()
	assert.True(t, first.Price.Equal(decimal.NewFromInt(50001)))

	select {
	case second := <-box.C():
		assert.True(t, second.Price.Equal(decimal.NewFromInt(50002)))
	case <-time.After(5 * time.Second):
		t.Fatal("no tick after reconnect")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, paths)
	assert.Equal(t, "/ws/btcusdt@kline_1m", paths[0])
}

func TestSimulatedFeed(t *testing.T) {
	prices := make(chan decimal.Decimal, 2)
	stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feed := &SimulatedFeed{Symbol: "BTCUSDT", Prices: prices, Now: func() time.Time { return stamp }}
	box := NewMailbox()

	prices <- decimal.NewFromInt(49800)
	close(prices)

	err := feed.Stream(context.Background(), box)
	assert.True(t, errors.Is(err, ErrFeedClosed))

	got := <-box.C()
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(49800)))
	assert.Equal(t, stamp, got.Timestamp)
}

func TestSimulatedFeedStopsOnCancel(t *testing.T) {
	feed := &SimulatedFeed{Symbol: "BTCUSDT", Prices: make(chan decimal.Decimal)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, feed.Stream(ctx, NewMailbox()), context.Canceled)
}
