package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trader/internal/exchange"
)

const (
	testAPIKey    = "test-key"
	testAPISecret = "test-secret"
)

func ok(result string) string {
	return `{"retCode":0,"retMsg":"OK","result":` + result + `}`
}

// testServer routes the endpoints the client touches and records order
// create requests.
type testServer struct {
	*httptest.Server

	basePrecision string
	lastPrice     string
	kline         string
	orderHistory  string

	orderRequests []createOrderRequest
	orderResponse func(w http.ResponseWriter)
	tickerCalls   atomic.Int64
	orderCalls    atomic.Int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := &testServer{
		basePrecision: "0.000001",
		lastPrice:     "50000",
		kline:         `{"list":[]}`,
		orderHistory:  `{"list":[]}`,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/market/instruments-info":
			io.WriteString(w, ok(`{"list":[{"lotSizeFilter":{"basePrecision":"`+s.basePrecision+`"}}]}`))
		case "/v5/market/tickers":
			s.tickerCalls.Add(1)
			io.WriteString(w, ok(`{"list":[{"lastPrice":"`+s.lastPrice+`"}]}`))
		case "/v5/market/kline":
			io.WriteString(w, ok(s.kline))
		case "/v5/order/history":
			io.WriteString(w, ok(s.orderHistory))
		case "/v5/order/create":
			s.orderCalls.Add(1)
			var req createOrderRequest
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("bad order request body: %v", err)
			}
			s.orderRequests = append(s.orderRequests, req)
			if s.orderResponse != nil {
				s.orderResponse(w)
				return
			}
			io.WriteString(w, ok(`{"orderId":"1234567890"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestClient(s *testServer) *Client {
	return NewClient(testAPIKey, testAPISecret,
		WithBaseURL(s.URL),
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)
}

func TestClient_SignsRequests(t *testing.T) {
	var gotKey, gotSign, gotTimestamp, gotRecv, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-BAPI-API-KEY")
		gotSign = r.Header.Get("X-BAPI-SIGN")
		gotTimestamp = r.Header.Get("X-BAPI-TIMESTAMP")
		gotRecv = r.Header.Get("X-BAPI-RECV-WINDOW")
		gotQuery = r.URL.RawQuery
		io.WriteString(w, ok(`{"list":[{"lastPrice":"50000"}]}`))
	}))
	defer server.Close()

	client := NewClient(testAPIKey, testAPISecret, WithBaseURL(server.URL))
	_, err := client.TickerPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, testAPIKey, gotKey)
	assert.Equal(t, recvWindow, gotRecv)
	require.NotEmpty(t, gotTimestamp)

	mac := hmac.New(sha256.New, []byte(testAPISecret))
	mac.Write([]byte(gotTimestamp + testAPIKey + recvWindow + gotQuery))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSign)
}

func TestClient_PlaceBuy(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(server)

	res, err := client.PlaceBuy(context.Background(), "BTCUSDT",
		decimal.NewFromInt(100), decimal.NewFromInt(49000), decimal.NewFromInt(51500))
	require.NoError(t, err)

	assert.Equal(t, "1234567890", res.OrderID)
	assert.True(t, decimal.RequireFromString("0.002").Equal(res.FilledQuantity), "got %s", res.FilledQuantity)
	assert.True(t, decimal.NewFromInt(50000).Equal(res.FillPrice))

	require.Len(t, server.orderRequests, 1)
	req := server.orderRequests[0]
	assert.Equal(t, "spot", req.Category)
	assert.Equal(t, "Buy", req.Side)
	assert.Equal(t, "Limit", req.OrderType)
	assert.Equal(t, "0.002", req.Qty)
	assert.Equal(t, "50000", req.Price)
	assert.Equal(t, "GTC", req.TimeInForce)
	assert.Equal(t, "49000", req.StopLoss)
	assert.Equal(t, "LastPrice", req.SlTriggerBy)
	assert.Equal(t, "Market", req.SlOrderType)
	assert.Equal(t, "51500", req.TakeProfit)
	assert.Equal(t, "LastPrice", req.TpTriggerBy)
	assert.Equal(t, "Market", req.TpOrderType)
}

func TestClient_PlaceBuyFloorsQuantity(t *testing.T) {
	server := newTestServer(t)
	server.basePrecision = "0.01"
	server.lastPrice = "300"
	client := newTestClient(server)

	res, err := client.PlaceBuy(context.Background(), "SOLUSDT",
		decimal.NewFromInt(1000), decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	// 1000/300 = 3.333..., floored to the 0.01 lot step.
	assert.Equal(t, "3.33", server.orderRequests[0].Qty)
	assert.True(t, decimal.RequireFromString("3.33").Equal(res.FilledQuantity))
	// Zero levels must not be sent.
	assert.Empty(t, server.orderRequests[0].StopLoss)
	assert.Empty(t, server.orderRequests[0].TakeProfit)
}

func TestClient_PlaceBuyBelowLotSize(t *testing.T) {
	server := newTestServer(t)
	server.basePrecision = "0.01"
	server.lastPrice = "50000"
	client := newTestClient(server)

	// 100/50000 rounds down to zero at a 0.01 lot step.
	_, err := client.PlaceBuy(context.Background(), "BTCUSDT",
		decimal.NewFromInt(100), decimal.Zero, decimal.Zero)
	assert.True(t, exchange.IsRejected(err), "got %v", err)
	assert.Zero(t, server.orderCalls.Load())
}

func TestClient_PlaceSell(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(server)

	res, err := client.PlaceSell(context.Background(), "BTCUSDT", decimal.RequireFromString("0.002"))
	require.NoError(t, err)

	assert.Equal(t, "1234567890", res.OrderID)
	assert.True(t, decimal.NewFromInt(50000).Equal(res.FillPrice))

	require.Len(t, server.orderRequests, 1)
	req := server.orderRequests[0]
	assert.Equal(t, "Sell", req.Side)
	assert.Equal(t, "Market", req.OrderType)
	assert.Equal(t, "0.002", req.Qty)
	assert.Equal(t, "baseCoin", req.MarketUnit)
	assert.Empty(t, req.Price)
}

func TestClient_PlaceSellNonPositiveQuantity(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(server)

	_, err := client.PlaceSell(context.Background(), "BTCUSDT", decimal.Zero)
	assert.True(t, exchange.IsRejected(err))
	assert.Zero(t, server.orderCalls.Load())
}

func TestClient_TransientRetCode(t *testing.T) {
	server := newTestServer(t)
	server.orderResponse = func(w http.ResponseWriter) {
		io.WriteString(w, `{"retCode":10006,"retMsg":"rate limit exceeded","result":{}}`)
	}
	client := newTestClient(server)

	_, err := client.PlaceSell(context.Background(), "BTCUSDT", decimal.NewFromInt(1))
	assert.True(t, exchange.IsTransient(err), "got %v", err)
	// Order submissions are never replayed internally.
	assert.Equal(t, int64(1), server.orderCalls.Load())
}

func TestClient_RejectedRetCode(t *testing.T) {
	server := newTestServer(t)
	server.orderResponse = func(w http.ResponseWriter) {
		io.WriteString(w, `{"retCode":170131,"retMsg":"insufficient balance","result":{}}`)
	}
	client := newTestClient(server)

	_, err := client.PlaceSell(context.Background(), "BTCUSDT", decimal.NewFromInt(1))
	assert.True(t, exchange.IsRejected(err), "got %v", err)
}

func TestClient_GetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, ok(`{"list":[{"lastPrice":"50000"}]}`))
	}))
	defer server.Close()

	client := NewClient(testAPIKey, testAPISecret,
		WithBaseURL(server.URL), WithMaxRetries(2), WithRetryDelay(time.Millisecond))

	price, err := client.TickerPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50000).Equal(price))
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_PostDoesNotRetryServerErrors(t *testing.T) {
	server := newTestServer(t)
	server.orderResponse = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	client := newTestClient(server)

	_, err := client.PlaceSell(context.Background(), "BTCUSDT", decimal.NewFromInt(1))
	assert.True(t, exchange.IsTransient(err), "got %v", err)
	assert.Equal(t, int64(1), server.orderCalls.Load())
}

func TestClient_Candles(t *testing.T) {
	server := newTestServer(t)
	server.kline = `{"list":[
		["1700000900000","50100","50200","50000","50150","12.5","626875"],
		["1700000000000","50000","50120","49900","50100","10.1","506010"]
	]}`
	client := newTestClient(server)

	candles, err := client.Candles(context.Background(), "BTCUSDT", "15", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	// Newest first, as delivered.
	assert.Equal(t, int64(1700000900000), candles[0].Timestamp)
	assert.True(t, decimal.NewFromInt(50200).Equal(candles[0].High))
	assert.True(t, decimal.NewFromInt(50000).Equal(candles[0].Low))
	assert.True(t, decimal.NewFromInt(50150).Equal(candles[0].Close))
	assert.True(t, decimal.NewFromInt(50100).Equal(candles[1].Close))
}

func TestClient_CandlesShortRow(t *testing.T) {
	server := newTestServer(t)
	server.kline = `{"list":[["1700000000000","50000"]]}`
	client := newTestClient(server)

	_, err := client.Candles(context.Background(), "BTCUSDT", "15", 1)
	assert.Error(t, err)
}

func TestClient_OrderHistory(t *testing.T) {
	server := newTestServer(t)
	server.orderHistory = `{"list":[{
		"orderId":"1234567890",
		"symbol":"BTCUSDT",
		"side":"Buy",
		"orderStatus":"Filled",
		"cumExecQty":"0.002",
		"avgPrice":"50000",
		"createdTime":"1700000000000"
	}]}`
	client := newTestClient(server)

	orders, err := client.OrderHistory(context.Background(), "BTCUSDT", "")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	order := orders[0]
	assert.Equal(t, "1234567890", order.OrderID)
	assert.Equal(t, "Filled", order.Status)
	assert.Equal(t, "Buy", order.Side)
	assert.True(t, decimal.RequireFromString("0.002").Equal(order.Quantity))
	assert.True(t, decimal.NewFromInt(50000).Equal(order.AvgPrice))
	assert.Equal(t, int64(1700000000000), order.CreatedAt)
}

func TestClient_OrderHistoryEmptyExecutionFields(t *testing.T) {
	server := newTestServer(t)
	server.orderHistory = `{"list":[{
		"orderId":"1234567890",
		"symbol":"BTCUSDT",
		"side":"Buy",
		"orderStatus":"Cancelled",
		"cumExecQty":"",
		"avgPrice":"",
		"createdTime":""
	}]}`
	client := newTestClient(server)

	orders, err := client.OrderHistory(context.Background(), "BTCUSDT", "")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	assert.True(t, orders[0].Quantity.IsZero())
	assert.True(t, orders[0].AvgPrice.IsZero())
	assert.Equal(t, int64(0), orders[0].CreatedAt)
}

func TestClient_OrderHistoryMalformedRow(t *testing.T) {
	server := newTestServer(t)
	server.orderHistory = `{"list":[{
		"orderId":"1234567890",
		"symbol":"BTCUSDT",
		"side":"Buy",
		"orderStatus":"Filled",
		"cumExecQty":"lots",
		"avgPrice":"50000",
		"createdTime":"1700000000000"
	}]}`
	client := newTestClient(server)

	_, err := client.OrderHistory(context.Background(), "BTCUSDT", "")
	require.Error(t, err)
	assert.True(t, exchange.IsTransient(err))
	assert.Contains(t, err.Error(), "cumExecQty")
}

func TestClient_LotPrecisionCached(t *testing.T) {
	var infoCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/market/instruments-info":
			infoCalls.Add(1)
			io.WriteString(w, ok(`{"list":[{"lotSizeFilter":{"basePrecision":"0.000001"}}]}`))
		case "/v5/market/tickers":
			io.WriteString(w, ok(`{"list":[{"lastPrice":"50000"}]}`))
		case "/v5/order/create":
			io.WriteString(w, ok(`{"orderId":"1"}`))
		}
	}))
	defer server.Close()

	client := NewClient(testAPIKey, testAPISecret, WithBaseURL(server.URL))

	for range 3 {
		_, err := client.PlaceBuy(context.Background(), "BTCUSDT",
			decimal.NewFromInt(100), decimal.Zero, decimal.Zero)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), infoCalls.Load())
}
