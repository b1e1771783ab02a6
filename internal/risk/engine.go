// Package risk evaluates candidate orders against configurable limits and
// tracks the exposure state those limits are measured against.
package risk

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
)

// Limits is the full set of configurable risk limits. A zero value disables
// the corresponding rule.
type Limits struct {
	MaxOrderSize    map[domain.Symbol]decimal.Decimal // per symbol
	MaxPositionSize map[domain.Symbol]decimal.Decimal // per symbol, |position| bound
	MaxDailyLoss    map[domain.Symbol]decimal.Decimal // per symbol, positive number
	MaxOrderValue   decimal.Decimal                   // per-order notional cap
	MaxExposure     decimal.Decimal                   // total notional across positions
	MaxOpenOrders   int
	MinFreeBalance  map[string]decimal.Decimal // per asset
}

// StateView is the read-only snapshot a rule evaluates against. Rules must
// not mutate it; CheckOrder builds one under the engine's read lock.
type StateView struct {
	Position      decimal.Decimal // signed size for the order's symbol
	DailyLoss     decimal.Decimal // accumulated loss for the symbol (>= 0)
	OpenOrders    int
	TotalExposure decimal.Decimal
	FreeBalances  map[string]decimal.Decimal
}

// Rule checks one constraint against a candidate order. Implementations are
// side-effect-free so the engine can run them under a shared lock.
type Rule interface {
	Name() string
	Check(order domain.NewOrder, view StateView, limits Limits) *domain.RiskViolation
}

// Engine owns the trading exposure state and the ordered rule list. All
// mutation goes through UpdatePosition, RecordDailyLoss, SetBalances, and the
// open-order counters; rules and callers only ever see copies.
type Engine struct {
	mu         sync.RWMutex
	limits     Limits
	rules      []Rule
	positions  map[domain.Symbol]domain.Position
	applied    map[string]decimal.Decimal // order id -> cumulative filled already applied
	dailyLoss  map[domain.Symbol]decimal.Decimal
	balances   map[string]decimal.Decimal
	openOrders int
	logger     *slog.Logger
}

// NewEngine creates an engine with the built-in rules registered in a fixed
// order: order size, order value, position limit, daily loss, total exposure,
// open orders, free balance. CheckOrder returns the first rule that fires.
func NewEngine(limits Limits, logger *slog.Logger) *Engine {
	e := &Engine{
		limits:    limits,
		positions: make(map[domain.Symbol]domain.Position),
		applied:   make(map[string]decimal.Decimal),
		dailyLoss: make(map[domain.Symbol]decimal.Decimal),
		balances:  make(map[string]decimal.Decimal),
		logger:    logger.With(slog.String("component", "risk_engine")),
	}
	e.rules = []Rule{
		maxOrderSizeRule{},
		maxOrderValueRule{},
		maxPositionRule{},
		maxDailyLossRule{},
		maxExposureRule{},
		maxOpenOrdersRule{},
		minFreeBalanceRule{},
	}
	return e
}

// Register appends a custom rule after the built-ins.
func (e *Engine) Register(rule Rule) {
	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.mu.Unlock()
}

// CheckOrder runs every registered rule in registration order against a
// consistent snapshot of the current state and returns the first violation,
// or nil when the order passes. Calling it twice with no intervening
// mutation yields the same result.
func (e *Engine) CheckOrder(order domain.NewOrder) *domain.RiskViolation {
	e.mu.RLock()
	view := e.snapshotLocked(order.Symbol)
	rules := e.rules
	limits := e.limits
	e.mu.RUnlock()

	for _, rule := range rules {
		if v := rule.Check(order, view, limits); v != nil {
			v.Rule = rule.Name()
			v.Symbol = order.Symbol
			v.ClientID = order.ClientID
			e.logger.Warn("order failed risk check",
				slog.String("rule", v.Rule),
				slog.String("kind", string(v.Kind)),
				slog.String("symbol", string(order.Symbol)),
				slog.String("client_id", order.ClientID),
				slog.String("observed", v.Observed.String()),
				slog.String("limit", v.Limit.String()),
			)
			return v
		}
	}
	return nil
}

// snapshotLocked builds a StateView for the symbol. Callers hold at least a
// read lock.
func (e *Engine) snapshotLocked(symbol domain.Symbol) StateView {
	balances := make(map[string]decimal.Decimal, len(e.balances))
	for k, v := range e.balances {
		balances[k] = v
	}
	return StateView{
		Position:      e.positions[symbol].Size,
		DailyLoss:     e.dailyLoss[symbol],
		OpenOrders:    e.openOrders,
		TotalExposure: e.totalExposureLocked(),
		FreeBalances:  balances,
	}
}

func (e *Engine) totalExposureLocked() decimal.Decimal {
	total := decimal.Decimal{}
	for _, pos := range e.positions {
		total = total.Add(pos.Notional())
	}
	return total
}

// UpdatePosition applies a fill report to the engine's position for the
// symbol using weighted-average cost. Cumulative filled quantities are
// de-duplicated per order id, so forwarding the same report twice is safe.
// It returns the realized P&L delta of the fill (negative on a losing
// reduction); the caller records losses via RecordDailyLoss.
func (e *Engine) UpdatePosition(report domain.ExecutionReport) decimal.Decimal {
	if report.Status != domain.OrderStatusFilled && report.Status != domain.OrderStatusPartiallyFilled {
		return decimal.Decimal{}
	}
	fillPrice, ok := report.LastFill()
	if !ok {
		return decimal.Decimal{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.applied[report.OrderID]
	delta := report.FilledSize.Decimal().Sub(prev)
	if !delta.IsPositive() {
		return decimal.Decimal{}
	}
	e.applied[report.OrderID] = report.FilledSize.Decimal()
	if report.Status.IsTerminal() {
		delete(e.applied, report.OrderID)
	}

	signed := delta
	if report.Side == domain.SideSell {
		signed = signed.Neg()
	}

	pos := e.positions[report.Symbol]
	pos.Symbol = report.Symbol
	pos.Exchange = report.Exchange

	newSize, newAvg, realized := applyFill(pos.Size, avgOf(pos), signed, fillPrice.Decimal())
	pos.Size = newSize
	if newSize.IsZero() {
		pos.AvgPrice = nil
	} else {
		p := domain.NewPrice(newAvg)
		pos.AvgPrice = &p
	}
	pos.UpdatedAt = report.Timestamp
	e.positions[report.Symbol] = pos

	return realized
}

// RecordDailyLoss accumulates a realized loss (positive magnitude) for the
// symbol. Call exactly once per losing fill.
func (e *Engine) RecordDailyLoss(symbol domain.Symbol, loss decimal.Decimal) {
	if !loss.IsPositive() {
		return
	}
	e.mu.Lock()
	e.dailyLoss[symbol] = e.dailyLoss[symbol].Add(loss)
	e.mu.Unlock()
}

// ResetDailyLoss clears the accumulator at a day boundary.
func (e *Engine) ResetDailyLoss() {
	e.mu.Lock()
	e.dailyLoss = make(map[domain.Symbol]decimal.Decimal)
	e.mu.Unlock()
}

// IncrementOpenOrders bumps the concurrent open-order counter. Call exactly
// once per accepted submission.
func (e *Engine) IncrementOpenOrders() {
	e.mu.Lock()
	e.openOrders++
	e.mu.Unlock()
}

// DecrementOpenOrders releases one open-order slot. Call exactly once per
// terminal report.
func (e *Engine) DecrementOpenOrders() {
	e.mu.Lock()
	if e.openOrders > 0 {
		e.openOrders--
	}
	e.mu.Unlock()
}

// SetBalances replaces the free-balance view used by the balance rule.
func (e *Engine) SetBalances(balances []domain.Balance) {
	e.mu.Lock()
	e.balances = make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		e.balances[b.Asset] = b.Free
	}
	e.mu.Unlock()
}

// Position returns a copy of the current position for the symbol.
func (e *Engine) Position(symbol domain.Symbol) (domain.Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.positions[symbol]
	return pos, ok
}

// Positions returns copies of all tracked positions, including zeroed ones.
func (e *Engine) Positions() []domain.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos)
	}
	return out
}

// TotalExposure returns the total notional value across all positions.
func (e *Engine) TotalExposure() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalExposureLocked()
}

// OpenOrders returns the current open-order count.
func (e *Engine) OpenOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.openOrders
}

// DailyLoss returns the accumulated daily loss for the symbol.
func (e *Engine) DailyLoss(symbol domain.Symbol) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dailyLoss[symbol]
}

// OverPositionLimit lists symbols whose |position| currently exceeds the
// configured cap, with the excess quantity. The periodic risk monitor uses
// this to cut positions back inside the limit.
func (e *Engine) OverPositionLimit() map[domain.Symbol]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	over := make(map[domain.Symbol]decimal.Decimal)
	for sym, pos := range e.positions {
		limit, ok := e.limits.MaxPositionSize[sym]
		if !ok || limit.IsZero() {
			continue
		}
		if excess := pos.Size.Abs().Sub(limit); excess.IsPositive() {
			over[sym] = excess
		}
	}
	return over
}

func avgOf(pos domain.Position) decimal.Decimal {
	if pos.AvgPrice == nil {
		return decimal.Decimal{}
	}
	return pos.AvgPrice.Decimal()
}

// applyFill folds a signed fill quantity into a signed position with
// weighted-average cost accounting. It returns the new size, new average
// cost, and the realized P&L of any position-reducing portion.
func applyFill(size, avg, signedQty, price decimal.Decimal) (newSize, newAvg, realized decimal.Decimal) {
	newSize = size.Add(signedQty)

	switch {
	case size.IsZero():
		return newSize, price, decimal.Decimal{}

	case size.Sign() == signedQty.Sign():
		// Increasing: blend the average.
		total := size.Abs().Add(signedQty.Abs())
		newAvg = avg.Mul(size.Abs()).Add(price.Mul(signedQty.Abs())).Div(total)
		return newSize, newAvg, decimal.Decimal{}

	case signedQty.Abs().Cmp(size.Abs()) <= 0:
		// Reducing without crossing zero: realize P&L on the reduced quantity.
		reduced := signedQty.Abs()
		perUnit := price.Sub(avg)
		if size.Sign() < 0 {
			perUnit = perUnit.Neg()
		}
		realized = perUnit.Mul(reduced)
		if newSize.IsZero() {
			return newSize, decimal.Decimal{}, realized
		}
		return newSize, avg, realized

	default:
		// Crossing zero: close the whole old position, open the residual at
		// the fill price.
		perUnit := price.Sub(avg)
		if size.Sign() < 0 {
			perUnit = perUnit.Neg()
		}
		realized = perUnit.Mul(size.Abs())
		return newSize, price, realized
	}
}
