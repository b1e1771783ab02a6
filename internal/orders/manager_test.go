package orders_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/orders"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func request(clientID string) domain.NewOrder {
	p := domain.MustPrice("100")
	return domain.NewOrder{
		Symbol:      "BTC-USDT",
		Exchange:    "paper",
		Side:        domain.SideBuy,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TIFGoodTillCancelled,
		Price:       &p,
		Size:        domain.MustSize("1"),
		ClientID:    clientID,
	}
}

func report(orderID string, status domain.OrderStatus, filled string, ts time.Time) domain.ExecutionReport {
	p := domain.MustPrice("100")
	return domain.ExecutionReport{
		OrderID:    orderID,
		Symbol:     "BTC-USDT",
		Exchange:   "paper",
		Side:       domain.SideBuy,
		Status:     status,
		FilledSize: domain.MustSize(filled),
		AvgPrice:   &p,
		Timestamp:  ts,
	}
}

func TestTrackThenReportLifecycle(t *testing.T) {
	m := orders.NewManager(nil, discard())
	now := time.Now()
	m.Track("v-1", request("c-1"), now)

	o, ok := m.GetOrder("v-1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusNew, o.Status)
	assert.True(t, o.IsOpen())

	m.HandleExecutionReport(context.Background(), report("v-1", domain.OrderStatusPartiallyFilled, "0.4", now.Add(time.Second)))
	o, _ = m.GetOrder("v-1")
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)
	assert.True(t, o.FilledSize.Equal(domain.MustSize("0.4")))

	m.HandleExecutionReport(context.Background(), report("v-1", domain.OrderStatusFilled, "1", now.Add(2*time.Second)))
	o, _ = m.GetOrder("v-1")
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.False(t, o.IsOpen())
}

func TestTerminalStateIsSticky(t *testing.T) {
	m := orders.NewManager(nil, discard())
	now := time.Now()
	m.Track("v-1", request("c-1"), now)

	m.HandleExecutionReport(context.Background(), report("v-1", domain.OrderStatusFilled, "1", now))
	// A late, out-of-order partial must not resurrect the order.
	m.HandleExecutionReport(context.Background(), report("v-1", domain.OrderStatusPartiallyFilled, "0.4", now.Add(time.Second)))

	o, _ := m.GetOrder("v-1")
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, o.FilledSize.Equal(domain.MustSize("1")), "filled size never decreases")
}

func TestFilledSizeNeverDecreases(t *testing.T) {
	m := orders.NewManager(nil, discard())
	now := time.Now()
	m.Track("v-1", request("c-1"), now)

	m.HandleExecutionReport(context.Background(), report("v-1", domain.OrderStatusPartiallyFilled, "0.7", now))
	m.HandleExecutionReport(context.Background(), report("v-1", domain.OrderStatusPartiallyFilled, "0.4", now.Add(time.Second)))

	o, _ := m.GetOrder("v-1")
	assert.True(t, o.FilledSize.Equal(domain.MustSize("0.7")))
}

func TestUnknownOrderIsTrackedFromReport(t *testing.T) {
	m := orders.NewManager(nil, discard())

	rep := report("v-9", domain.OrderStatusPartiallyFilled, "0.5", time.Now())
	rep.ClientID = "c-9"
	m.HandleExecutionReport(context.Background(), rep)

	o, ok := m.GetOrder("v-9")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)

	byClient, ok := m.GetOrderByClientID("c-9")
	require.True(t, ok)
	assert.Equal(t, "v-9", byClient.OrderID)
}

func TestOpenOrdersAndHistoryOrdering(t *testing.T) {
	m := orders.NewManager(nil, discard())
	base := time.Now()

	m.Track("v-1", request("c-1"), base)
	m.Track("v-2", request("c-2"), base.Add(time.Second))
	m.Track("v-3", request("c-3"), base.Add(2*time.Second))

	m.HandleExecutionReport(context.Background(), report("v-1", domain.OrderStatusFilled, "1", base.Add(3*time.Second)))
	m.HandleExecutionReport(context.Background(), report("v-2", domain.OrderStatusCancelled, "0", base.Add(4*time.Second)))

	open := m.GetOpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, "v-3", open[0].OrderID)
	assert.Equal(t, 1, m.OpenOrderCount())

	history := m.GetOrderHistory("", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "v-2", history[0].OrderID, "history is newest-first")
	assert.Equal(t, "v-1", history[1].OrderID)

	assert.Len(t, m.GetOrderHistory("", 1), 1)
}

func TestOrderHistorySymbolFilterAppliesBeforeLimit(t *testing.T) {
	m := orders.NewManager(nil, discard())
	base := time.Now()

	btc := request("c-1")
	eth := request("c-2")
	eth.Symbol = "ETH-USDT"

	m.Track("v-1", btc, base)
	m.Track("v-2", eth, base.Add(time.Second))

	m.HandleExecutionReport(context.Background(), report("v-1", domain.OrderStatusFilled, "1", base.Add(2*time.Second)))
	ethReport := report("v-2", domain.OrderStatusFilled, "1", base.Add(3*time.Second))
	ethReport.Symbol = "ETH-USDT"
	m.HandleExecutionReport(context.Background(), ethReport)

	// Without the filter the newest terminal order is the ETH fill; the
	// filter must not just truncate that list.
	history := m.GetOrderHistory("BTC-USDT", 1)
	require.Len(t, history, 1)
	assert.Equal(t, "v-1", history[0].OrderID)

	assert.Empty(t, m.GetOrderHistory("SOL-USDT", 0))
	assert.Len(t, m.GetOrderHistory("", 0), 2)
}

func TestReadsReturnCopies(t *testing.T) {
	m := orders.NewManager(nil, discard())
	m.Track("v-1", request("c-1"), time.Now())

	o, _ := m.GetOrder("v-1")
	o.Status = domain.OrderStatusFilled

	fresh, _ := m.GetOrder("v-1")
	assert.Equal(t, domain.OrderStatusNew, fresh.Status, "mutating a returned order must not affect the manager")
}
