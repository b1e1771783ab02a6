package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
)

// Built-in rules. Each is stateless: everything it needs arrives through the
// order, the state view, and the configured limits.

type maxOrderSizeRule struct{}

func (maxOrderSizeRule) Name() string { return "max_order_size" }

func (maxOrderSizeRule) Check(order domain.NewOrder, _ StateView, limits Limits) *domain.RiskViolation {
	limit, ok := limits.MaxOrderSize[order.Symbol]
	if !ok || limit.IsZero() {
		return nil
	}
	if order.Size.Decimal().GreaterThan(limit) {
		return &domain.RiskViolation{
			Kind:     domain.ViolationMaxOrderSize,
			Limit:    limit,
			Observed: order.Size.Decimal(),
		}
	}
	return nil
}

type maxOrderValueRule struct{}

func (maxOrderValueRule) Name() string { return "max_order_value" }

func (maxOrderValueRule) Check(order domain.NewOrder, _ StateView, limits Limits) *domain.RiskViolation {
	if limits.MaxOrderValue.IsZero() {
		return nil
	}
	notional, ok := order.Notional()
	if !ok {
		// Market orders have no a-priori notional to cap.
		return nil
	}
	if notional.GreaterThan(limits.MaxOrderValue) {
		return &domain.RiskViolation{
			Kind:     domain.ViolationMaxOrderValue,
			Limit:    limits.MaxOrderValue,
			Observed: notional,
		}
	}
	return nil
}

type maxPositionRule struct{}

func (maxPositionRule) Name() string { return "max_position" }

// Check projects the position as if the order fully filled; the projection,
// not the current position, is compared against the cap. An order that
// shrinks |position| without flipping its sign always passes even when the
// book is already over the limit, so the engine can trade its way back
// inside. A flip through zero is a fresh position on the other side and must
// land within the cap itself.
func (maxPositionRule) Check(order domain.NewOrder, view StateView, limits Limits) *domain.RiskViolation {
	limit, ok := limits.MaxPositionSize[order.Symbol]
	if !ok || limit.IsZero() {
		return nil
	}
	projected := view.Position.Add(order.SignedSize())
	reduces := projected.Abs().LessThanOrEqual(view.Position.Abs())
	sameSide := projected.IsZero() || projected.Sign() == view.Position.Sign()
	if reduces && sameSide {
		return nil
	}
	if projected.Abs().GreaterThan(limit) {
		return &domain.RiskViolation{
			Kind:     domain.ViolationPositionLimit,
			Limit:    limit,
			Observed: projected.Abs(),
		}
	}
	return nil
}

type maxDailyLossRule struct{}

func (maxDailyLossRule) Name() string { return "max_daily_loss" }

func (maxDailyLossRule) Check(order domain.NewOrder, view StateView, limits Limits) *domain.RiskViolation {
	limit, ok := limits.MaxDailyLoss[order.Symbol]
	if !ok || limit.IsZero() {
		return nil
	}
	if view.DailyLoss.GreaterThanOrEqual(limit) {
		return &domain.RiskViolation{
			Kind:     domain.ViolationCustom,
			Limit:    limit,
			Observed: view.DailyLoss,
			Message:  fmt.Sprintf("daily loss %s has reached the %s limit, trading halted for %s", view.DailyLoss, limit, order.Symbol),
		}
	}
	return nil
}

type maxExposureRule struct{}

func (maxExposureRule) Name() string { return "max_exposure" }

func (maxExposureRule) Check(order domain.NewOrder, view StateView, limits Limits) *domain.RiskViolation {
	if limits.MaxExposure.IsZero() {
		return nil
	}
	notional, ok := order.Notional()
	if !ok {
		return nil
	}
	projected := view.TotalExposure.Add(notional)
	if projected.GreaterThan(limits.MaxExposure) {
		return &domain.RiskViolation{
			Kind:     domain.ViolationExposureLimit,
			Limit:    limits.MaxExposure,
			Observed: projected,
		}
	}
	return nil
}

type maxOpenOrdersRule struct{}

func (maxOpenOrdersRule) Name() string { return "max_open_orders" }

func (maxOpenOrdersRule) Check(_ domain.NewOrder, view StateView, limits Limits) *domain.RiskViolation {
	if limits.MaxOpenOrders <= 0 {
		return nil
	}
	if view.OpenOrders >= limits.MaxOpenOrders {
		return &domain.RiskViolation{
			Kind:     domain.ViolationOpenOrdersLimit,
			Limit:    decimal.NewFromInt(int64(limits.MaxOpenOrders)),
			Observed: decimal.NewFromInt(int64(view.OpenOrders)),
		}
	}
	return nil
}

type minFreeBalanceRule struct{}

func (minFreeBalanceRule) Name() string { return "min_free_balance" }

// Check verifies the order leaves at least the configured minimum of the
// asset it spends: the quote asset for buys (by notional), the base asset for
// sells (by size). Symbols follow the BASE-QUOTE convention. Assets without a
// configured minimum, and assets the balance poller has not reported yet, are
// not checked.
func (minFreeBalanceRule) Check(order domain.NewOrder, view StateView, limits Limits) *domain.RiskViolation {
	if len(limits.MinFreeBalance) == 0 {
		return nil
	}
	base, quote, ok := splitSymbol(order.Symbol)
	if !ok {
		return nil
	}

	var asset string
	var spend decimal.Decimal
	if order.Side == domain.SideBuy {
		notional, ok := order.Notional()
		if !ok {
			return nil
		}
		asset, spend = quote, notional
	} else {
		asset, spend = base, order.Size.Decimal()
	}

	minFree, ok := limits.MinFreeBalance[asset]
	if !ok {
		return nil
	}
	free, ok := view.FreeBalances[asset]
	if !ok {
		return nil
	}
	if free.Sub(spend).LessThan(minFree) {
		return &domain.RiskViolation{
			Kind:     domain.ViolationInsufficientBalance,
			Limit:    minFree,
			Observed: free.Sub(spend),
			Message:  fmt.Sprintf("order spends %s %s leaving %s, minimum free is %s", spend, asset, free.Sub(spend), minFree),
		}
	}
	return nil
}

// splitSymbol separates a BASE-QUOTE (or BASE/QUOTE) symbol into its assets.
func splitSymbol(symbol domain.Symbol) (base, quote string, ok bool) {
	s := string(symbol)
	for _, sep := range []string{"-", "/"} {
		if i := strings.Index(s, sep); i > 0 && i < len(s)-1 {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
