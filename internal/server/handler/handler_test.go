package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/engine"
	"github.com/dkoval/gotrader/internal/orders"
)

type fakeLoop struct{ running bool }

func (f fakeLoop) IsRunning() bool { return f.running }

type fakePerf struct{ snap engine.Snapshot }

func (f fakePerf) Snapshot() engine.Snapshot { return f.snap }

func TestStatusHandlerReportsRunningAndPerf(t *testing.T) {
	h := NewStatusHandler("paper", []string{"spread_capture"},
		fakeLoop{running: true},
		fakePerf{snap: engine.Snapshot{Events: 42, Executed: 3, Uptime: 90 * time.Second}},
	)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Mode       string   `json:"mode"`
		Running    bool     `json:"running"`
		Strategies []string `json:"strategies"`
		Perf       struct {
			Events   int64 `json:"events"`
			Executed int64 `json:"executed"`
		} `json:"perf"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "paper", body.Mode)
	assert.True(t, body.Running)
	assert.Equal(t, []string{"spread_capture"}, body.Strategies)
	assert.Equal(t, int64(42), body.Perf.Events)
	assert.Equal(t, int64(3), body.Perf.Executed)
}

type fakeOrders struct {
	open    []orders.Order
	history []orders.Order
}

func (f fakeOrders) GetOrder(id string) (orders.Order, bool) {
	for _, o := range append(f.open, f.history...) {
		if o.OrderID == id {
			return o, true
		}
	}
	return orders.Order{}, false
}
func (f fakeOrders) GetOpenOrders() []orders.Order { return f.open }

func (f fakeOrders) GetOrderHistory(symbol domain.Symbol, limit int) []orders.Order {
	var out []orders.Order
	for _, o := range f.history {
		if symbol != "" && o.Request.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func testOrder(id string, status domain.OrderStatus) orders.Order {
	price := domain.MustPrice("100.5")
	return orders.Order{
		Request: domain.NewOrder{
			Symbol:   "BTC-USDT",
			Exchange: "paper",
			Side:     domain.SideBuy,
			Price:    &price,
			Size:     domain.MustSize("0.5"),
			ClientID: "c-" + id,
		},
		OrderID:       id,
		Status:        status,
		FilledSize:    domain.MustSize("0"),
		RemainingSize: domain.MustSize("0.5"),
		SubmittedAt:   time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func TestOrderHandlerListOpen(t *testing.T) {
	h := NewOrderHandler(fakeOrders{open: []orders.Order{testOrder("o-1", domain.OrderStatusNew)}})

	rec := httptest.NewRecorder()
	h.ListOpen(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body listOrdersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "o-1", body.Orders[0].OrderID)
	assert.Equal(t, "100.5", body.Orders[0].Price)
	assert.Equal(t, "buy", body.Orders[0].Side)
}

func TestOrderHandlerHistoryFiltersBySymbol(t *testing.T) {
	eth := testOrder("o-2", domain.OrderStatusFilled)
	eth.Request.Symbol = "ETH-USDT"
	h := NewOrderHandler(fakeOrders{history: []orders.Order{
		testOrder("o-1", domain.OrderStatusFilled),
		eth,
	}})

	rec := httptest.NewRecorder()
	h.ListHistory(rec, httptest.NewRequest(http.MethodGet, "/api/orders/history?symbol=ETH-USDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body listOrdersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "o-2", body.Orders[0].OrderID)
}

func TestOrderHandlerGetOrderNotFound(t *testing.T) {
	h := NewOrderHandler(fakeOrders{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeLedger struct {
	positions []domain.PositionRecord
	trades    []domain.TradeRecord
}

func (f fakeLedger) Positions() []domain.PositionRecord { return f.positions }
func (f fakeLedger) Trades() []domain.TradeRecord       { return f.trades }

func TestPositionHandlerListsPositions(t *testing.T) {
	h := NewPositionHandler(fakeLedger{positions: []domain.PositionRecord{{
		Symbol:      "BTC-USDT",
		Exchange:    "paper",
		Size:        decimal.RequireFromString("1.5"),
		AvgCost:     decimal.RequireFromString("100"),
		RealizedPnL: decimal.RequireFromString("12.5"),
	}}})

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Positions []positionResponse `json:"positions"`
		Count     int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "1.5", body.Positions[0].Size)
	assert.Equal(t, "12.5", body.Positions[0].RealizedPnL)
}

func TestPositionHandlerTradesNewestFirstWithLimit(t *testing.T) {
	trades := []domain.TradeRecord{
		{ID: "t-1", Symbol: "BTC-USDT", Timestamp: time.Now().Add(-2 * time.Minute)},
		{ID: "t-2", Symbol: "BTC-USDT", Timestamp: time.Now().Add(-time.Minute)},
		{ID: "t-3", Symbol: "BTC-USDT", Timestamp: time.Now()},
	}
	h := NewPositionHandler(fakeLedger{trades: trades})

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Trades []tradeResponse `json:"trades"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "t-3", body.Trades[0].ID)
	assert.Equal(t, "t-2", body.Trades[1].ID)
}
