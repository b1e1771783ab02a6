package risk_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/risk"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func limitBuy(symbol, price, size string) domain.NewOrder {
	p := domain.MustPrice(price)
	return domain.NewOrder{
		Symbol:      domain.Symbol(symbol),
		Exchange:    "paper",
		Side:        domain.SideBuy,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TIFGoodTillCancelled,
		Price:       &p,
		Size:        domain.MustSize(size),
		ClientID:    "c-1",
	}
}

func fillReport(orderID, symbol string, side domain.Side, filled, price string, status domain.OrderStatus) domain.ExecutionReport {
	p := domain.MustPrice(price)
	return domain.ExecutionReport{
		OrderID:    orderID,
		Symbol:     domain.Symbol(symbol),
		Exchange:   "paper",
		Side:       side,
		Status:     status,
		FilledSize: domain.MustSize(filled),
		AvgPrice:   &p,
		Timestamp:  time.Now(),
	}
}

func TestCheckOrderIsIdempotent(t *testing.T) {
	limits := risk.Limits{
		MaxOrderSize: map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("1")},
	}
	e := risk.NewEngine(limits, discard())
	order := limitBuy("BTC-USDT", "100", "2")

	first := e.CheckOrder(order)
	second := e.CheckOrder(order)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.Rule, second.Rule)
	assert.True(t, first.Observed.Equal(second.Observed))
}

func TestCheckOrderReturnsFirstViolation(t *testing.T) {
	// Order breaks both the size and the value cap; the size rule is
	// registered first so it must be the one reported.
	limits := risk.Limits{
		MaxOrderSize:  map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("1")},
		MaxOrderValue: dec("50"),
	}
	e := risk.NewEngine(limits, discard())

	v := e.CheckOrder(limitBuy("BTC-USDT", "100", "2"))

	require.NotNil(t, v)
	assert.Equal(t, domain.ViolationMaxOrderSize, v.Kind)
	assert.Equal(t, "max_order_size", v.Rule)
}

func TestCheckOrderPassesWithinLimits(t *testing.T) {
	limits := risk.Limits{
		MaxOrderSize:  map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("5")},
		MaxOrderValue: dec("1000"),
	}
	e := risk.NewEngine(limits, discard())

	assert.Nil(t, e.CheckOrder(limitBuy("BTC-USDT", "100", "2")))
}

func TestPositionConsistencyAcrossFills(t *testing.T) {
	e := risk.NewEngine(risk.Limits{}, discard())

	e.UpdatePosition(fillReport("o1", "BTC-USDT", domain.SideBuy, "2", "100", domain.OrderStatusFilled))
	e.UpdatePosition(fillReport("o2", "BTC-USDT", domain.SideSell, "0.5", "110", domain.OrderStatusFilled))
	e.UpdatePosition(fillReport("o3", "BTC-USDT", domain.SideBuy, "1", "120", domain.OrderStatusFilled))

	pos, ok := e.Position("BTC-USDT")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(dec("2.5")), "position must equal the net signed sum of fills, got %s", pos.Size)
}

func TestDuplicateReportIsNoOp(t *testing.T) {
	e := risk.NewEngine(risk.Limits{}, discard())
	rep := fillReport("o1", "BTC-USDT", domain.SideBuy, "1", "100", domain.OrderStatusPartiallyFilled)

	e.UpdatePosition(rep)
	e.UpdatePosition(rep)

	pos, ok := e.Position("BTC-USDT")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(dec("1")), "replayed report must not double-count, got %s", pos.Size)
}

func TestCumulativeFillOnlyAppliesDelta(t *testing.T) {
	e := risk.NewEngine(risk.Limits{}, discard())

	e.UpdatePosition(fillReport("o1", "BTC-USDT", domain.SideBuy, "0.4", "100", domain.OrderStatusPartiallyFilled))
	e.UpdatePosition(fillReport("o1", "BTC-USDT", domain.SideBuy, "1", "100", domain.OrderStatusFilled))

	pos, ok := e.Position("BTC-USDT")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(dec("1")), "cumulative filled sizes must not be summed, got %s", pos.Size)
}

func TestWeightedAverageCostAndRealizedPnL(t *testing.T) {
	e := risk.NewEngine(risk.Limits{}, discard())

	e.UpdatePosition(fillReport("o1", "BTC-USDT", domain.SideBuy, "1", "100", domain.OrderStatusFilled))
	e.UpdatePosition(fillReport("o2", "BTC-USDT", domain.SideBuy, "1", "200", domain.OrderStatusFilled))

	pos, ok := e.Position("BTC-USDT")
	require.True(t, ok)
	require.NotNil(t, pos.AvgPrice)
	assert.True(t, pos.AvgPrice.Equal(domain.MustPrice("150")), "avg cost blend, got %s", pos.AvgPrice)

	realized := e.UpdatePosition(fillReport("o3", "BTC-USDT", domain.SideSell, "1", "180", domain.OrderStatusFilled))
	assert.True(t, realized.Equal(dec("30")), "realized P&L on reduction, got %s", realized)

	pos, _ = e.Position("BTC-USDT")
	assert.True(t, pos.Size.Equal(dec("1")))
	require.NotNil(t, pos.AvgPrice)
	assert.True(t, pos.AvgPrice.Equal(domain.MustPrice("150")), "avg cost unchanged by a reduction")
}

func TestCrossingZeroResetsAverageCost(t *testing.T) {
	e := risk.NewEngine(risk.Limits{}, discard())

	e.UpdatePosition(fillReport("o1", "BTC-USDT", domain.SideBuy, "1", "100", domain.OrderStatusFilled))
	realized := e.UpdatePosition(fillReport("o2", "BTC-USDT", domain.SideSell, "3", "90", domain.OrderStatusFilled))

	assert.True(t, realized.Equal(dec("-10")), "loss realized on the closed long, got %s", realized)

	pos, _ := e.Position("BTC-USDT")
	assert.True(t, pos.Size.Equal(dec("-2")))
	require.NotNil(t, pos.AvgPrice)
	assert.True(t, pos.AvgPrice.Equal(domain.MustPrice("90")), "residual short opens at the fill price")
}

func TestPositionLimitProjectsFill(t *testing.T) {
	limits := risk.Limits{
		MaxPositionSize: map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("2")},
	}
	e := risk.NewEngine(limits, discard())
	e.UpdatePosition(fillReport("o1", "BTC-USDT", domain.SideBuy, "1.5", "100", domain.OrderStatusFilled))

	v := e.CheckOrder(limitBuy("BTC-USDT", "100", "1"))
	require.NotNil(t, v)
	assert.Equal(t, domain.ViolationPositionLimit, v.Kind)

	// A reducing order passes even against a tight cap.
	p := domain.MustPrice("100")
	sell := domain.NewOrder{
		Symbol: "BTC-USDT", Exchange: "paper", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, TimeInForce: domain.TIFGoodTillCancelled,
		Price: &p, Size: domain.MustSize("1"),
	}
	assert.Nil(t, e.CheckOrder(sell))
}

func TestPositionLimitFlipPastOppositeCapRejected(t *testing.T) {
	limits := risk.Limits{
		MaxPositionSize: map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("2")},
	}
	e := risk.NewEngine(limits, discard())
	e.UpdatePosition(fillReport("o1", "BTC-USDT", domain.SideBuy, "5", "100", domain.OrderStatusFilled))

	p := domain.MustPrice("100")
	sell := func(size string) domain.NewOrder {
		return domain.NewOrder{
			Symbol: "BTC-USDT", Exchange: "paper", Side: domain.SideSell,
			Type: domain.OrderTypeLimit, TimeInForce: domain.TIFGoodTillCancelled,
			Price: &p, Size: domain.MustSize(size),
		}
	}

	// +5 - 10 = -5: same magnitude as the current position, but flipped past
	// the short-side cap.
	v := e.CheckOrder(sell("10"))
	require.NotNil(t, v)
	assert.Equal(t, domain.ViolationPositionLimit, v.Kind)

	// +5 - 7 = -2: flips, but the new short sits exactly on the cap.
	assert.Nil(t, e.CheckOrder(sell("7")))

	// +5 - 5 = 0: a flat-out close always passes.
	assert.Nil(t, e.CheckOrder(sell("5")))
}

func TestDailyLossHaltsNewOrders(t *testing.T) {
	limits := risk.Limits{
		MaxDailyLoss: map[domain.Symbol]decimal.Decimal{"BTC-USDT": dec("100")},
	}
	e := risk.NewEngine(limits, discard())

	e.RecordDailyLoss("BTC-USDT", dec("60"))
	assert.Nil(t, e.CheckOrder(limitBuy("BTC-USDT", "10", "1")))

	e.RecordDailyLoss("BTC-USDT", dec("40"))
	v := e.CheckOrder(limitBuy("BTC-USDT", "10", "1"))
	require.NotNil(t, v)
	assert.Equal(t, "max_daily_loss", v.Rule)

	e.ResetDailyLoss()
	assert.Nil(t, e.CheckOrder(limitBuy("BTC-USDT", "10", "1")))
}

func TestOpenOrdersLimit(t *testing.T) {
	e := risk.NewEngine(risk.Limits{MaxOpenOrders: 2}, discard())
	e.IncrementOpenOrders()
	e.IncrementOpenOrders()

	v := e.CheckOrder(limitBuy("BTC-USDT", "10", "1"))
	require.NotNil(t, v)
	assert.Equal(t, domain.ViolationOpenOrdersLimit, v.Kind)

	e.DecrementOpenOrders()
	assert.Nil(t, e.CheckOrder(limitBuy("BTC-USDT", "10", "1")))
}

func TestMinFreeBalanceRule(t *testing.T) {
	limits := risk.Limits{
		MinFreeBalance: map[string]decimal.Decimal{"USDT": dec("100")},
	}
	e := risk.NewEngine(limits, discard())
	e.SetBalances([]domain.Balance{{Asset: "USDT", Free: dec("250")}})

	// 1 @ 100 leaves 150 free, fine; 1 @ 200 leaves 50, under the floor.
	assert.Nil(t, e.CheckOrder(limitBuy("BTC-USDT", "100", "1")))

	v := e.CheckOrder(limitBuy("BTC-USDT", "200", "1"))
	require.NotNil(t, v)
	assert.Equal(t, domain.ViolationInsufficientBalance, v.Kind)
}

func TestExposureLimitAccumulatesAcrossSymbols(t *testing.T) {
	e := risk.NewEngine(risk.Limits{MaxExposure: dec("500")}, discard())
	e.UpdatePosition(fillReport("o1", "BTC-USDT", domain.SideBuy, "4", "100", domain.OrderStatusFilled))

	// Exposure is already 400; a 200-notional order would project to 600.
	v := e.CheckOrder(limitBuy("ETH-USDT", "100", "2"))
	require.NotNil(t, v)
	assert.Equal(t, domain.ViolationExposureLimit, v.Kind)

	assert.Nil(t, e.CheckOrder(limitBuy("ETH-USDT", "100", "0.5")))
}

func TestCustomRuleRunsAfterBuiltins(t *testing.T) {
	e := risk.NewEngine(risk.Limits{}, discard())
	e.Register(rejectAllRule{})

	v := e.CheckOrder(limitBuy("BTC-USDT", "10", "1"))
	require.NotNil(t, v)
	assert.Equal(t, domain.ViolationCustom, v.Kind)
	assert.Equal(t, "reject_all", v.Rule)
}

type rejectAllRule struct{}

func (rejectAllRule) Name() string { return "reject_all" }

func (rejectAllRule) Check(domain.NewOrder, risk.StateView, risk.Limits) *domain.RiskViolation {
	return &domain.RiskViolation{Kind: domain.ViolationCustom, Message: "all orders rejected"}
}
