// Package executor turns risk-approved orders into venue submissions and
// keeps every downstream component (order manager, risk engine, shadow
// ledger) fed from the execution reports that come back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/ledger"
	"github.com/dkoval/gotrader/internal/orders"
	"github.com/dkoval/gotrader/internal/risk"
)

// RateLimiter gates venue API calls. Both limiters in internal/ratelimit and
// the redis-backed one satisfy it through a thin adapter.
type RateLimiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// throttleAware limiters widen their window when the venue reports
// throttling.
type throttleAware interface {
	OnThrottled()
}

// Config holds the execution tuning knobs.
type Config struct {
	// SplitThreshold caps the size of a single venue submission per symbol.
	// Larger orders are split into evenly sized child orders.
	SplitThreshold map[domain.Symbol]domain.Size
	// OrderTimeout is how long an order may stay unfilled before the
	// executor starts cancelling it.
	OrderTimeout time.Duration
	// CancelOnTimeout enables cancellation of orders past OrderTimeout.
	// When off, timed-out orders rest until filled or cancelled upstream.
	CancelOnTimeout bool
	// MaxRetries bounds both throttled-placement retries and cancel
	// attempts for a timed-out order.
	MaxRetries int
	// RetryDelay spaces retry attempts. With ExponentialBackoff the delay
	// doubles per attempt; otherwise it is fixed.
	RetryDelay         time.Duration
	ExponentialBackoff bool
}

// pendingOrder is an order awaiting a terminal report.
type pendingOrder struct {
	request        domain.NewOrder
	orderID        string
	submittedAt    time.Time
	cancelAttempts int
	nextCancelAt   time.Time
}

// Executor is the single submission path to a venue. It validates, risk
// checks, splits, rate-limits, and submits orders, then polls the venue and
// distributes the resulting execution reports.
type Executor struct {
	venue   domain.VenueClient
	manager *orders.Manager
	ledger  *ledger.Ledger
	risk    *risk.Engine
	limiter RateLimiter
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingOrder // by venue order id
	now     func() time.Time
}

// New creates an executor bound to one venue.
func New(
	venue domain.VenueClient,
	manager *orders.Manager,
	l *ledger.Ledger,
	riskEngine *risk.Engine,
	limiter RateLimiter,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Executor{
		venue:   venue,
		manager: manager,
		ledger:  l,
		risk:    riskEngine,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "executor")),
		pending: make(map[string]*pendingOrder),
		now:     time.Now,
	}
}

// ExecuteSignal dispatches a strategy signal to the matching order operation.
func (e *Executor) ExecuteSignal(ctx context.Context, sig domain.Signal) error {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("source", sig.Source),
		slog.String("kind", string(sig.Kind)),
	)

	switch sig.Kind {
	case domain.SignalPlaceOrder:
		if sig.Order == nil {
			return fmt.Errorf("executor: signal %s: place_order without an order", sig.ID)
		}
		ids, err := e.SubmitOrder(ctx, *sig.Order)
		if err != nil {
			return err
		}
		log.Info("signal executed", slog.Int("orders_placed", len(ids)))
		return nil

	case domain.SignalCancelOrder:
		if sig.OrderID == "" {
			return fmt.Errorf("executor: signal %s: cancel_order without an order id", sig.ID)
		}
		return e.CancelOrder(ctx, sig.OrderID)

	case domain.SignalCancelAllOrders:
		return e.CancelAll(ctx, sig.Symbol)

	case domain.SignalUpdateOrder:
		// Cancel-replace: the venue interface has no native amend.
		if sig.OrderID == "" || sig.Order == nil {
			return fmt.Errorf("executor: signal %s: update_order needs an order id and a replacement", sig.ID)
		}
		if err := e.CancelOrder(ctx, sig.OrderID); err != nil {
			return fmt.Errorf("executor: update %s: cancel leg: %w", sig.OrderID, err)
		}
		ids, err := e.SubmitOrder(ctx, *sig.Order)
		if err != nil {
			return err
		}
		log.Info("signal executed", slog.Int("orders_placed", len(ids)))
		return nil

	default:
		log.Warn("unhandled signal kind, skipping")
		return nil
	}
}

// SubmitOrder runs the full submission pipeline for one candidate order:
// structural validation, risk check, size splitting, and rate-limited venue
// placement. It returns the venue order ids of everything placed. A risk
// violation rejects the order before any venue call is made; when a child
// placement fails, already-placed siblings stay live and the error reports
// how far submission got.
func (e *Executor) SubmitOrder(ctx context.Context, order domain.NewOrder) ([]string, error) {
	// 1. Structural validation.
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("executor: invalid order: %w", err)
	}
	if order.ClientID == "" {
		order = order.WithClientID(uuid.NewString())
	}

	// 2. Pre-trade risk. Checked once for the parent; child orders are
	// slices of an approved quantity.
	if v := e.risk.CheckOrder(order); v != nil {
		return nil, v
	}

	// 3. Split oversized orders.
	children := e.split(order)

	// 4. Rate-limited placement, one slot per child.
	placed := make([]string, 0, len(children))
	for i, child := range children {
		if err := e.limiter.Wait(ctx); err != nil {
			return placed, fmt.Errorf("executor: rate limit wait: %w", err)
		}
		orderID, err := e.placeWithRetry(ctx, child)
		if err != nil {
			return placed, fmt.Errorf("executor: place child %d/%d: %w", i+1, len(children), err)
		}

		submittedAt := e.now()
		e.manager.Track(orderID, child, submittedAt)
		e.risk.IncrementOpenOrders()
		e.mu.Lock()
		e.pending[orderID] = &pendingOrder{
			request:     child,
			orderID:     orderID,
			submittedAt: submittedAt,
		}
		e.mu.Unlock()
		placed = append(placed, orderID)

		e.logger.Info("order placed",
			slog.String("order_id", orderID),
			slog.String("client_id", child.ClientID),
			slog.String("symbol", string(child.Symbol)),
			slog.String("side", string(child.Side)),
			slog.String("size", child.Size.String()),
		)
	}
	return placed, nil
}

// split slices an order into children no larger than the symbol's split
// threshold. Children share an even size except the last, which absorbs the
// rounding remainder so the quantities sum exactly to the parent. Client ids
// are suffixed -1..-n.
func (e *Executor) split(order domain.NewOrder) []domain.NewOrder {
	max, ok := e.cfg.SplitThreshold[order.Symbol]
	if !ok || !max.IsPositive() || order.Size.Cmp(max) <= 0 {
		return []domain.NewOrder{order}
	}

	n := order.Size.Decimal().Div(max.Decimal()).Ceil().IntPart()
	per := order.Size.Decimal().DivRound(decimal.NewFromInt(n), 8)
	if per.GreaterThan(max.Decimal()) {
		per = max.Decimal()
	}

	children := make([]domain.NewOrder, 0, n)
	remaining := order.Size.Decimal()
	for i := int64(1); i <= n; i++ {
		size := per
		if i == n {
			size = remaining
		}
		child := order.
			WithSize(domain.NewSize(size)).
			WithClientID(fmt.Sprintf("%s-%d", order.ClientID, i))
		children = append(children, child)
		remaining = remaining.Sub(size)
	}

	e.logger.Info("order split",
		slog.String("client_id", order.ClientID),
		slog.String("symbol", string(order.Symbol)),
		slog.String("size", order.Size.String()),
		slog.String("max", max.String()),
		slog.Int64("children", n),
	)
	return children
}

// placeWithRetry submits one order, retrying only venue throttle rejections
// with the configured delay spacing. Other errors surface immediately.
func (e *Executor) placeWithRetry(ctx context.Context, order domain.NewOrder) (string, error) {
	delay := e.cfg.RetryDelay
	for attempt := 0; ; attempt++ {
		orderID, err := e.venue.PlaceOrder(ctx, order)
		if err == nil {
			return orderID, nil
		}
		if !errors.Is(err, domain.ErrVenueRateLimited) {
			return "", err
		}

		if ta, ok := e.limiter.(throttleAware); ok {
			ta.OnThrottled()
		}
		if attempt >= e.cfg.MaxRetries {
			return "", fmt.Errorf("throttled after %d attempts: %w", attempt+1, err)
		}
		e.logger.Warn("venue throttled placement, backing off",
			slog.String("client_id", order.ClientID),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		if e.cfg.ExponentialBackoff {
			delay *= 2
		}
	}
}

// CancelOrder requests cancellation of one order. The order stays pending
// until the venue confirms through an execution report.
func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("executor: rate limit wait: %w", err)
	}
	if err := e.venue.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("executor: cancel order %s: %w", orderID, err)
	}
	e.logger.Info("cancel requested", slog.String("order_id", orderID))
	return nil
}

// CancelAll cancels every tracked open order, optionally filtered by symbol.
// It keeps going past individual failures and reports them joined.
func (e *Executor) CancelAll(ctx context.Context, symbol domain.Symbol) error {
	var errs []error
	for _, o := range e.manager.GetOpenOrders() {
		if symbol != "" && o.Request.Symbol != symbol {
			continue
		}
		if err := e.CancelOrder(ctx, o.OrderID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckPendingOrders polls the venue for every order still awaiting a
// terminal report, distributes the resulting reports, and, when
// CancelOnTimeout is set, cancels orders that have outlived the configured
// timeout. Cancel attempts are spaced by
// the retry delay (doubling when exponential backoff is on) and bounded by
// MaxRetries; an order that exhausts its attempts is abandoned to the next
// open-order reconciliation.
func (e *Executor) CheckPendingOrders(ctx context.Context) {
	e.mu.Lock()
	snapshot := make([]*pendingOrder, 0, len(e.pending))
	for _, p := range e.pending {
		snapshot = append(snapshot, p)
	}
	e.mu.Unlock()

	now := e.now()
	for _, p := range snapshot {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
		report, err := e.venue.GetOrderStatus(ctx, p.orderID)
		if err != nil {
			e.logger.Warn("order status poll failed",
				slog.String("order_id", p.orderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.ProcessExecutionReport(ctx, report)
		if report.Status.IsTerminal() {
			continue
		}

		if !e.cfg.CancelOnTimeout {
			continue
		}
		if now.Sub(p.submittedAt) < e.cfg.OrderTimeout {
			continue
		}
		e.mu.Lock()
		due := !now.Before(p.nextCancelAt)
		exhausted := p.cancelAttempts > e.cfg.MaxRetries
		if due && !exhausted {
			delay := e.cfg.RetryDelay
			if e.cfg.ExponentialBackoff {
				delay = e.cfg.RetryDelay << uint(p.cancelAttempts)
			}
			p.cancelAttempts++
			p.nextCancelAt = now.Add(delay)
		}
		if exhausted {
			delete(e.pending, p.orderID)
		}
		e.mu.Unlock()

		switch {
		case exhausted:
			e.logger.Error("timed-out order could not be cancelled, abandoning",
				slog.String("order_id", p.orderID),
				slog.Int("attempts", p.cancelAttempts),
			)
		case due:
			e.logger.Warn("order timed out, cancelling",
				slog.String("order_id", p.orderID),
				slog.Duration("age", now.Sub(p.submittedAt)),
				slog.Int("attempt", p.cancelAttempts),
			)
			if err := e.CancelOrder(ctx, p.orderID); err != nil {
				e.logger.Warn("timeout cancel failed",
					slog.String("order_id", p.orderID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ProcessExecutionReport is the single fan-out point for venue reports. The
// order manager, risk engine, and shadow ledger each consume the report;
// terminal reports release the open-order slot and pending tracking.
func (e *Executor) ProcessExecutionReport(ctx context.Context, report domain.ExecutionReport) {
	e.manager.HandleExecutionReport(ctx, report)

	realized := e.risk.UpdatePosition(report)
	if realized.IsNegative() {
		e.risk.RecordDailyLoss(report.Symbol, realized.Neg())
	}

	e.ledger.RecordExecution(report)

	if report.Status.IsTerminal() {
		e.mu.Lock()
		_, tracked := e.pending[report.OrderID]
		delete(e.pending, report.OrderID)
		e.mu.Unlock()
		if tracked {
			e.risk.DecrementOpenOrders()
		}
	}
}

// PendingCount returns how many orders still await a terminal report.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
