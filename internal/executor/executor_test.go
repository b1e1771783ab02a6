package executor_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/executor"
	"github.com/dkoval/gotrader/internal/ledger"
	"github.com/dkoval/gotrader/internal/orders"
	"github.com/dkoval/gotrader/internal/risk"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeVenue is an in-memory VenueClient that records calls and lets tests
// script placement failures and order statuses.
type fakeVenue struct {
	mu        sync.Mutex
	placed    []domain.NewOrder
	cancelled []string
	placeErr  error
	statuses  map[string]domain.ExecutionReport
	nextID    int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{statuses: make(map[string]domain.ExecutionReport)}
}

func (v *fakeVenue) PlaceOrder(_ context.Context, order domain.NewOrder) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.placeErr != nil {
		return "", v.placeErr
	}
	v.nextID++
	id := fmt.Sprintf("v-%d", v.nextID)
	v.placed = append(v.placed, order)
	v.statuses[id] = domain.ExecutionReport{
		OrderID:  id,
		ClientID: order.ClientID,
		Symbol:   order.Symbol,
		Exchange: order.Exchange,
		Side:     order.Side,
		Status:   domain.OrderStatusNew,
	}
	return id, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func (v *fakeVenue) GetOrderStatus(_ context.Context, orderID string) (domain.ExecutionReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rep, ok := v.statuses[orderID]
	if !ok {
		return domain.ExecutionReport{}, domain.ErrNotFound
	}
	return rep, nil
}

func (v *fakeVenue) GetBalances(context.Context) ([]domain.Balance, error) { return nil, nil }

func (v *fakeVenue) GetOpenOrders(context.Context, *domain.Symbol) ([]domain.ExecutionReport, error) {
	return nil, nil
}

func (v *fakeVenue) GetTradingFees(context.Context, domain.Symbol) (domain.TradingFees, error) {
	return domain.TradingFees{}, nil
}

func (v *fakeVenue) placedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.placed)
}

func (v *fakeVenue) setStatus(rep domain.ExecutionReport) {
	v.mu.Lock()
	v.statuses[rep.OrderID] = rep
	v.mu.Unlock()
}

// countingLimiter admits everything and counts slots handed out.
type countingLimiter struct {
	mu        sync.Mutex
	waits     int
	throttles int
}

func (l *countingLimiter) Allow() bool { return true }

func (l *countingLimiter) Wait(context.Context) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return nil
}

func (l *countingLimiter) OnThrottled() {
	l.mu.Lock()
	l.throttles++
	l.mu.Unlock()
}

type fixture struct {
	venue   *fakeVenue
	manager *orders.Manager
	ledger  *ledger.Ledger
	risk    *risk.Engine
	limiter *countingLimiter
	exec    *executor.Executor
}

func newFixture(t *testing.T, limits risk.Limits, cfg executor.Config) *fixture {
	t.Helper()
	f := &fixture{
		venue:   newFakeVenue(),
		manager: orders.NewManager(nil, discard()),
		ledger:  ledger.New(discard()),
		risk:    risk.NewEngine(limits, discard()),
		limiter: &countingLimiter{},
	}
	f.exec = executor.New(f.venue, f.manager, f.ledger, f.risk, f.limiter, cfg, discard())
	return f
}

func limitBuy(size string) domain.NewOrder {
	p := domain.MustPrice("100")
	return domain.NewOrder{
		Symbol:      "BTC-USDT",
		Exchange:    "paper",
		Side:        domain.SideBuy,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TIFGoodTillCancelled,
		Price:       &p,
		Size:        domain.MustSize(size),
		ClientID:    "parent",
	}
}

func TestSubmitOrderPlacesAndTracks(t *testing.T) {
	f := newFixture(t, risk.Limits{}, executor.Config{})

	ids, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	o, ok := f.manager.GetOrder(ids[0])
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusNew, o.Status)
	assert.Equal(t, 1, f.risk.OpenOrders())
	assert.Equal(t, 1, f.exec.PendingCount())
	assert.Equal(t, 1, f.limiter.waits, "one rate-limit slot per submission")
}

func TestRiskViolationBlocksVenueCall(t *testing.T) {
	limits := risk.Limits{
		MaxOrderSize: map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("0.5")},
	}
	f := newFixture(t, limits, executor.Config{})

	_, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))

	var v *domain.RiskViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, domain.ViolationMaxOrderSize, v.Kind)
	assert.Equal(t, 0, f.venue.placedCount(), "a rejected order must never reach the venue")
	assert.Equal(t, 0, f.risk.OpenOrders())
}

func TestOversizedOrderIsSplit(t *testing.T) {
	cfg := executor.Config{
		SplitThreshold: map[domain.Symbol]domain.Size{"BTC-USDT": domain.MustSize("2")},
	}
	f := newFixture(t, risk.Limits{}, cfg)

	ids, err := f.exec.SubmitOrder(context.Background(), limitBuy("5"))
	require.NoError(t, err)
	assert.Len(t, ids, 3, "ceil(5/2) children")

	total := decimal.Decimal{}
	for i, placed := range f.venue.placed {
		assert.True(t, placed.Size.Decimal().LessThanOrEqual(dec("2")), "child %d within threshold", i)
		assert.Equal(t, fmt.Sprintf("parent-%d", i+1), placed.ClientID)
		total = total.Add(placed.Size.Decimal())
	}
	assert.True(t, total.Equal(dec("5")), "children must sum exactly to the parent, got %s", total)
	assert.Equal(t, 3, f.limiter.waits, "one slot per child")
	assert.Equal(t, 3, f.risk.OpenOrders())
}

func TestOrderWithinThresholdNotSplit(t *testing.T) {
	cfg := executor.Config{
		SplitThreshold: map[domain.Symbol]domain.Size{"BTC-USDT": domain.MustSize("2")},
	}
	f := newFixture(t, risk.Limits{}, cfg)

	ids, err := f.exec.SubmitOrder(context.Background(), limitBuy("2"))
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, "parent", f.venue.placed[0].ClientID, "unsplit order keeps its client id")
}

func TestThrottledPlacementRetriesAreBounded(t *testing.T) {
	cfg := executor.Config{MaxRetries: 2, RetryDelay: time.Millisecond}
	f := newFixture(t, risk.Limits{}, cfg)
	f.venue.placeErr = fmt.Errorf("venue says slow down: %w", domain.ErrVenueRateLimited)

	_, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVenueRateLimited)
	assert.Equal(t, 3, f.limiter.throttles, "initial attempt plus two retries")
	assert.Equal(t, 0, f.risk.OpenOrders(), "nothing tracked after a failed placement")
}

func TestThrottledPlacementEventuallySucceeds(t *testing.T) {
	cfg := executor.Config{MaxRetries: 50, RetryDelay: time.Millisecond}
	f := newFixture(t, risk.Limits{}, cfg)
	f.venue.placeErr = fmt.Errorf("busy: %w", domain.ErrVenueRateLimited)

	done := make(chan struct{})
	go func() {
		// Release the venue after the first retry delay has passed.
		time.Sleep(2 * time.Millisecond)
		f.venue.mu.Lock()
		f.venue.placeErr = nil
		f.venue.mu.Unlock()
		close(done)
	}()

	ids, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	<-done
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestNonThrottleErrorIsNotRetried(t *testing.T) {
	cfg := executor.Config{MaxRetries: 5, RetryDelay: time.Millisecond}
	f := newFixture(t, risk.Limits{}, cfg)
	f.venue.placeErr = fmt.Errorf("insufficient margin")

	_, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))

	require.Error(t, err)
	assert.Equal(t, 0, f.limiter.throttles)
}

func TestProcessExecutionReportFansOut(t *testing.T) {
	f := newFixture(t, risk.Limits{}, executor.Config{})

	ids, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	require.NoError(t, err)

	p := domain.MustPrice("100")
	f.exec.ProcessExecutionReport(context.Background(), domain.ExecutionReport{
		OrderID:    ids[0],
		ClientID:   "parent",
		Symbol:     "BTC-USDT",
		Exchange:   "paper",
		Side:       domain.SideBuy,
		Status:     domain.OrderStatusFilled,
		FilledSize: domain.MustSize("1"),
		AvgPrice:   &p,
		Timestamp:  time.Now(),
	})

	o, _ := f.manager.GetOrder(ids[0])
	assert.Equal(t, domain.OrderStatusFilled, o.Status)

	pos, ok := f.risk.Position("BTC-USDT")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(dec("1")))

	lpos, ok := f.ledger.Position("BTC-USDT")
	require.True(t, ok)
	assert.True(t, lpos.Size.Equal(dec("1")), "ledger and risk views must agree")

	assert.Equal(t, 0, f.risk.OpenOrders(), "terminal report releases the slot")
	assert.Equal(t, 0, f.exec.PendingCount())
}

func TestLosingFillFeedsDailyLoss(t *testing.T) {
	f := newFixture(t, risk.Limits{}, executor.Config{})
	now := time.Now()

	buy := domain.MustPrice("100")
	f.exec.ProcessExecutionReport(context.Background(), domain.ExecutionReport{
		OrderID: "o1", Symbol: "BTC-USDT", Exchange: "paper", Side: domain.SideBuy,
		Status: domain.OrderStatusFilled, FilledSize: domain.MustSize("1"), AvgPrice: &buy, Timestamp: now,
	})
	sell := domain.MustPrice("90")
	f.exec.ProcessExecutionReport(context.Background(), domain.ExecutionReport{
		OrderID: "o2", Symbol: "BTC-USDT", Exchange: "paper", Side: domain.SideSell,
		Status: domain.OrderStatusFilled, FilledSize: domain.MustSize("1"), AvgPrice: &sell, Timestamp: now,
	})

	assert.True(t, f.risk.DailyLoss("BTC-USDT").Equal(dec("10")))
}

func TestCheckPendingOrdersCancelsTimedOut(t *testing.T) {
	cfg := executor.Config{
		OrderTimeout:    time.Millisecond,
		CancelOnTimeout: true,
		MaxRetries:      1,
		RetryDelay:      time.Millisecond,
	}
	f := newFixture(t, risk.Limits{}, cfg)

	ids, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	f.exec.CheckPendingOrders(context.Background())

	f.venue.mu.Lock()
	cancelled := append([]string(nil), f.venue.cancelled...)
	f.venue.mu.Unlock()
	require.Len(t, cancelled, 1)
	assert.Equal(t, ids[0], cancelled[0])
	assert.Equal(t, 1, f.exec.PendingCount(), "pending until the venue confirms the cancel")
}

func TestCheckPendingOrdersForwardsTerminalReports(t *testing.T) {
	f := newFixture(t, risk.Limits{}, executor.Config{OrderTimeout: time.Hour})

	ids, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	require.NoError(t, err)

	p := domain.MustPrice("100")
	f.venue.setStatus(domain.ExecutionReport{
		OrderID: ids[0], ClientID: "parent", Symbol: "BTC-USDT", Exchange: "paper",
		Side: domain.SideBuy, Status: domain.OrderStatusFilled,
		FilledSize: domain.MustSize("1"), AvgPrice: &p, Timestamp: time.Now(),
	})

	f.exec.CheckPendingOrders(context.Background())

	assert.Equal(t, 0, f.exec.PendingCount())
	o, _ := f.manager.GetOrder(ids[0])
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Len(t, f.ledger.Trades(), 1)
}

func TestCancelAttemptsAreBounded(t *testing.T) {
	cfg := executor.Config{
		OrderTimeout:    time.Millisecond,
		CancelOnTimeout: true,
		MaxRetries:      1,
		RetryDelay:      time.Nanosecond,
	}
	f := newFixture(t, risk.Limits{}, cfg)

	_, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	require.NoError(t, err)

	time.Sleep(3 * time.Millisecond)
	for i := 0; i < 5; i++ {
		f.exec.CheckPendingOrders(context.Background())
		time.Sleep(time.Millisecond)
	}

	f.venue.mu.Lock()
	attempts := len(f.venue.cancelled)
	f.venue.mu.Unlock()
	assert.LessOrEqual(t, attempts, 2, "cancel attempts bounded by MaxRetries+1")
	assert.Equal(t, 0, f.exec.PendingCount(), "exhausted order is abandoned")
}

func TestTimedOutOrderRestsWhenCancelOnTimeoutOff(t *testing.T) {
	cfg := executor.Config{
		OrderTimeout: time.Millisecond,
		MaxRetries:   1,
		RetryDelay:   time.Millisecond,
	}
	f := newFixture(t, risk.Limits{}, cfg)

	_, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	f.exec.CheckPendingOrders(context.Background())

	f.venue.mu.Lock()
	cancelled := len(f.venue.cancelled)
	f.venue.mu.Unlock()
	assert.Zero(t, cancelled, "timed-out orders rest when cancellation is disabled")
	assert.Equal(t, 1, f.exec.PendingCount())
}

func TestExecuteSignalCancelAll(t *testing.T) {
	f := newFixture(t, risk.Limits{}, executor.Config{})

	_, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	require.NoError(t, err)
	second := limitBuy("1")
	second.ClientID = "parent-2"
	_, err = f.exec.SubmitOrder(context.Background(), second)
	require.NoError(t, err)

	err = f.exec.ExecuteSignal(context.Background(), domain.Signal{
		ID:   "sig-1",
		Kind: domain.SignalCancelAllOrders,
	})
	require.NoError(t, err)

	f.venue.mu.Lock()
	defer f.venue.mu.Unlock()
	assert.Len(t, f.venue.cancelled, 2)
}

func TestExecuteSignalUpdateOrderCancelsThenReplaces(t *testing.T) {
	f := newFixture(t, risk.Limits{}, executor.Config{})

	ids, err := f.exec.SubmitOrder(context.Background(), limitBuy("1"))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	replacement := limitBuy("2")
	replacement.ClientID = "parent-replaced"
	err = f.exec.ExecuteSignal(context.Background(), domain.Signal{
		ID:      "sig-upd",
		Kind:    domain.SignalUpdateOrder,
		OrderID: ids[0],
		Order:   &replacement,
	})
	require.NoError(t, err)

	f.venue.mu.Lock()
	defer f.venue.mu.Unlock()
	assert.Equal(t, []string{ids[0]}, f.venue.cancelled)
	require.Len(t, f.venue.placed, 2)
	assert.True(t, f.venue.placed[1].Size.Equal(domain.MustSize("2")))
}
