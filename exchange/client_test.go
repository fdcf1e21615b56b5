package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAPIClient("key", "secret", srv.URL, 5, 5)
}

func TestAPIClient_SignsRequests(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		query := r.URL.RawQuery
		idx := strings.LastIndex(query, "&signature=")
		if !assert.Greater(t, idx, 0) {
			return
		}

		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(query[:idx]))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), query[idx+len("&signature="):])

		w.Write([]byte(`[{"asset":"BNB","availableBalance":"1.5"},{"asset":"USDT","balance":"120.5","availableBalance":"100.25"}]`))
	})

	bal, err := client.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("100.25")))
}

func TestAPIClient_PlaceOrderParams(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "LONG", q.Get("positionSide"))
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, "0.002", q.Get("quantity"))
		assert.Equal(t, "RESULT", q.Get("newOrderRespType"))
		assert.Equal(t, "abc", q.Get("newClientOrderId"))
		assert.Empty(t, q.Get("reduceOnly"), "hedge-mode closes must not carry reduceOnly")

		w.Write([]byte(`{"orderId":42,"clientOrderId":"abc","status":"FILLED","executedQty":"0.002","avgPrice":"50100.5","cumQuote":"100.201","side":"SELL","positionSide":"LONG"}`))
	})

	order, err := client.PlaceOrder(context.Background(), &Order{
		Symbol:        "BTCUSDT",
		ClientOrderID: "abc",
		Side:          Sell,
		PositionSide:  Long,
		Type:          Market,
		OrigQty:       d("0.002"),
		ReduceOnly:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.OrderID)
	assert.Equal(t, Filled, order.Status)
	assert.True(t, order.FillPrice().Equal(d("50100.5")))
}

func TestAPIClient_CancelOrder(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "abc", q.Get("origClientOrderId"))

		w.Write([]byte(`{"orderId":42,"clientOrderId":"abc","status":"CANCELED","executedQty":"0.001","avgPrice":"50000","cumQuote":"50","side":"BUY","positionSide":"LONG"}`))
	})

	order, err := client.CancelOrder(context.Background(), "BTCUSDT", "abc")
	require.NoError(t, err)
	assert.Equal(t, Canceled, order.Status)
	assert.True(t, order.ExecutedQty.Equal(d("0.001")))
}

func TestAPIClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"server error", 503, `{"code":-1001,"msg":"Internal error"}`, true},
		{"rate limited", 429, `{"code":-1003,"msg":"Too many requests"}`, true},
		{"timestamp drift", 400, `{"code":-1021,"msg":"Timestamp outside recvWindow"}`, true},
		{"margin insufficient", 400, `{"code":-2019,"msg":"Margin is insufficient."}`, false},
		{"plain text body", 502, `bad gateway`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := client.GetBalance(context.Background(), "USDT")
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
		})
	}
}

func TestAPIClient_NoNeedToChangeIsSuccess(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		switch r.URL.Path {
		case "/fapi/v1/marginType":
			w.Write([]byte(`{"code":-4046,"msg":"No need to change margin type."}`))
		case "/fapi/v1/positionSide/dual":
			w.Write([]byte(`{"code":-4059,"msg":"No need to change position side."}`))
		}
	})
	require.NoError(t, client.SetMarginType(context.Background(), "BTCUSDT", "crossed"))
	require.NoError(t, client.SetPositionMode(context.Background(), true))
}

func TestAPIClient_GetPositions(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/positionRisk", r.URL.Path)
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0.004","entryPrice":"49800.0","unRealizedProfit":"1.2","positionSide":"LONG","notional":"200"},
			{"symbol":"BTCUSDT","positionAmt":"-0.002","entryPrice":"50000.0","unRealizedProfit":"-0.3","positionSide":"SHORT","notional":"-100"}
		]`))
	})

	positions, err := client.GetPositions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, Short, positions[1].PositionSide)
	assert.True(t, positions[1].PositionAmt.Equal(d("-0.002")))
	assert.True(t, positions[0].EntryPrice.Equal(d("49800")))
}

func TestAPIClient_SyncTimeCachesSymbols(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/time":
			w.Write([]byte(`{"serverTime":1700000000000}`))
		case "/fapi/v1/exchangeInfo":
			w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","filters":[
				{"filterType":"LOT_SIZE","minQty":"0.001","stepSize":"0.001","maxQty":"1000"},
				{"filterType":"MARKET_LOT_SIZE","minQty":"0.002","stepSize":"0.001","maxQty":"120"},
				{"filterType":"MIN_NOTIONAL","notional":"100"}]}]}`))
		}
	})

	require.NoError(t, client.SyncTime(context.Background()))
	info, ok := client.GetSymbolInfo("BTCUSDT")
	require.True(t, ok)
	minQty, step, ok := info.LotSize()
	require.True(t, ok)
	assert.True(t, minQty.Equal(d("0.002")), "market lot size wins")
	assert.True(t, step.Equal(d("0.001")))
	notional, ok := info.MinNotional()
	require.True(t, ok)
	assert.True(t, notional.Equal(d("100")))
}
