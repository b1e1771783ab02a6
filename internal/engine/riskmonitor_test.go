package engine_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/engine"
	"github.com/dkoval/gotrader/internal/risk"
)

type recordedAlert struct {
	event, title, message string
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (a *fakeAlerter) Notify(_ context.Context, event, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, recordedAlert{event, title, message})
	return nil
}

func (a *fakeAlerter) all() []recordedAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recordedAlert(nil), a.alerts...)
}

func fillReport(orderID, symbol, side, filled, price string) domain.ExecutionReport {
	p := domain.MustPrice(price)
	return domain.ExecutionReport{
		OrderID:    orderID,
		Symbol:     domain.Symbol(symbol),
		Exchange:   "paper",
		Side:       domain.Side(side),
		Status:     domain.OrderStatusFilled,
		FilledSize: domain.MustSize(filled),
		AvgPrice:   &p,
		Timestamp:  time.Now(),
	}
}

func TestRiskMonitorReducesOversizedPosition(t *testing.T) {
	p := newPipeline(risk.Limits{
		MaxPositionSize: map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("1")},
	})
	ctx := context.Background()

	// A position already over its cap: per-order checks never saw it because
	// it came in through fills.
	p.exec.ProcessExecutionReport(ctx, fillReport("seed", "BTC-USDT", "buy", "3", "100"))
	p.venue.UpdateMark("BTC-USDT", domain.MustPrice("100"))

	// A resting reduce-direction order that cancel-all must sweep first.
	ids, err := p.exec.SubmitOrder(ctx, domain.NewOrder{
		Symbol:      "BTC-USDT",
		Exchange:    "paper",
		Side:        domain.SideSell,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TIFGoodTillCancelled,
		Price:       ptrPrice("200"),
		Size:        domain.MustSize("0.5"),
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	alerter := &fakeAlerter{}
	monitor := engine.NewRiskMonitor(p.risk, p.ledger, p.exec, nil, alerter, time.Second, discard())

	monitor.Check(ctx)
	p.exec.CheckPendingOrders(ctx)

	pos, ok := p.risk.Position("BTC-USDT")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(dec("1")), "excess above the cap must be sold off, got %s", pos.Size)

	resting, ok := p.manager.GetOrder(ids[0])
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusCancelled, resting.Status, "standing orders are cancelled before reducing")

	alerts := alerter.all()
	require.NotEmpty(t, alerts)
	assert.Equal(t, "risk_violation", alerts[0].event)
	assert.Contains(t, alerts[0].message, "BTC-USDT")

	// The reduction itself flows through the normal fill pipeline, so both
	// views stay in sync and a second pass finds nothing to do.
	lpos, ok := p.ledger.Position("BTC-USDT")
	require.True(t, ok)
	assert.True(t, lpos.Size.Equal(pos.Size))

	before := len(alerter.all())
	monitor.Check(ctx)
	assert.Len(t, alerter.all(), before, "a position back inside its cap raises nothing")
}

func TestRiskMonitorAlertsOnPositionDrift(t *testing.T) {
	p := newPipeline(risk.Limits{})
	ctx := context.Background()

	// Feed the risk engine directly, bypassing the ledger, to fake a dropped
	// report.
	p.risk.UpdatePosition(fillReport("drift", "ETH-USDT", "buy", "2", "2000"))

	alerter := &fakeAlerter{}
	monitor := engine.NewRiskMonitor(p.risk, p.ledger, p.exec, nil, alerter, time.Second, discard())
	monitor.Check(ctx)

	alerts := alerter.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "risk_violation", alerts[0].event)
	assert.True(t, strings.Contains(alerts[0].title, "drift"), "title %q should name the drift", alerts[0].title)
	assert.Contains(t, alerts[0].message, "ETH-USDT")
}

func TestRiskMonitorQuietWhenHealthy(t *testing.T) {
	p := newPipeline(risk.Limits{
		MaxPositionSize: map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("10")},
	})
	ctx := context.Background()

	p.exec.ProcessExecutionReport(ctx, fillReport("ok", "BTC-USDT", "buy", "2", "100"))

	alerter := &fakeAlerter{}
	monitor := engine.NewRiskMonitor(p.risk, p.ledger, p.exec, nil, alerter, time.Second, discard())
	monitor.Check(ctx)

	assert.Empty(t, alerter.all())
}

type fakeBalances struct {
	balances []domain.Balance
	err      error
}

func (f fakeBalances) GetBalances(context.Context) ([]domain.Balance, error) {
	return f.balances, f.err
}

func TestRiskMonitorFeedsBalancesToRiskEngine(t *testing.T) {
	p := newPipeline(risk.Limits{
		MinFreeBalance: map[string]decimal.Decimal{"USDT": dec("1000")},
	})
	ctx := context.Background()

	// 0.5 BTC at 100 spends 50 USDT out of 1020, leaving 970 < 1000.
	order := domain.NewOrder{
		Symbol: "BTC-USDT", Exchange: "paper", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, TimeInForce: domain.TIFGoodTillCancelled,
		Price: ptrPrice("100"), Size: domain.MustSize("0.5"),
	}

	// No balance report yet: the rule has nothing to check against.
	require.Nil(t, p.risk.CheckOrder(order))

	source := fakeBalances{balances: []domain.Balance{{Asset: "USDT", Free: dec("1020")}}}
	monitor := engine.NewRiskMonitor(p.risk, p.ledger, p.exec, source, nil, time.Second, discard())
	monitor.Check(ctx)

	v := p.risk.CheckOrder(order)
	require.NotNil(t, v, "after the refresh the balance rule sees the venue's USDT")
	assert.Equal(t, domain.ViolationInsufficientBalance, v.Kind)
}

func TestRiskMonitorBalanceFailureKeepsLastView(t *testing.T) {
	p := newPipeline(risk.Limits{
		MinFreeBalance: map[string]decimal.Decimal{"USDT": dec("1000")},
	})
	ctx := context.Background()

	p.risk.SetBalances([]domain.Balance{{Asset: "USDT", Free: dec("1020")}})

	monitor := engine.NewRiskMonitor(p.risk, p.ledger, p.exec,
		fakeBalances{err: context.DeadlineExceeded}, nil, time.Second, discard())
	monitor.Check(ctx)

	order := domain.NewOrder{
		Symbol: "BTC-USDT", Exchange: "paper", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, TimeInForce: domain.TIFGoodTillCancelled,
		Price: ptrPrice("100"), Size: domain.MustSize("0.5"),
	}
	v := p.risk.CheckOrder(order)
	require.NotNil(t, v, "a failed poll must not wipe the last known balances")
}

func TestRiskMonitorResetsDailyLossOnNewUTCDay(t *testing.T) {
	p := newPipeline(risk.Limits{
		MaxDailyLoss: map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("10")},
	})
	ctx := context.Background()

	p.risk.RecordDailyLoss("BTC-USDT", dec("15"))

	order := domain.NewOrder{
		Symbol: "BTC-USDT", Exchange: "paper", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, TimeInForce: domain.TIFGoodTillCancelled,
		Price: ptrPrice("100"), Size: domain.MustSize("0.1"),
	}
	require.NotNil(t, p.risk.CheckOrder(order), "trading halts once the daily cap is hit")

	monitor := engine.NewRiskMonitor(p.risk, p.ledger, p.exec, nil, nil, time.Second, discard())
	today := time.Date(2026, 8, 23, 22, 0, 0, 0, time.UTC)
	monitor.SetClock(func() time.Time { return today })

	// Same day: the halt stands.
	monitor.Check(ctx)
	require.NotNil(t, p.risk.CheckOrder(order))

	// First pass after midnight clears the accumulator.
	monitor.SetClock(func() time.Time { return today.Add(3 * time.Hour) })
	monitor.Check(ctx)
	assert.Nil(t, p.risk.CheckOrder(order))
	assert.True(t, p.risk.DailyLoss("BTC-USDT").IsZero())
}

func TestRiskMonitorRunStopsOnCancel(t *testing.T) {
	p := newPipeline(risk.Limits{})
	monitor := engine.NewRiskMonitor(p.risk, p.ledger, p.exec, nil, nil, time.Millisecond, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := monitor.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func ptrPrice(s string) *domain.Price {
	p := domain.MustPrice(s)
	return &p
}
