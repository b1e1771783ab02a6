// Package engine runs the trading event loop: market events in, signals
// evaluated, orders out, all on one goroutine so book state never needs more
// than the books' own locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/executor"
	"github.com/dkoval/gotrader/internal/orderbook"
	"github.com/dkoval/gotrader/internal/strategy"
)

// MarkSink receives the latest trade print per symbol. The paper venue and
// the redis mark-price cache both consume marks this way.
type MarkSink interface {
	UpdateMark(symbol domain.Symbol, mark domain.Price)
}

// LoopConfig holds the event-loop cadences and failure tolerances.
type LoopConfig struct {
	Symbols              []domain.Symbol
	BookDepth            int           // levels per side in strategy MarketState
	StrategyInterval     time.Duration // how often strategies evaluate
	OrderCheckInterval   time.Duration // how often pending orders are polled
	PerfReportInterval   time.Duration
	MaxConsecutiveErrors int           // loop stops after this many back-to-back failures
	ErrorRecoveryDelay   time.Duration // pause after a failure before continuing
}

func (c *LoopConfig) applyDefaults() {
	if c.BookDepth <= 0 {
		c.BookDepth = 10
	}
	if c.StrategyInterval <= 0 {
		c.StrategyInterval = time.Second
	}
	if c.OrderCheckInterval <= 0 {
		c.OrderCheckInterval = 5 * time.Second
	}
	if c.PerfReportInterval <= 0 {
		c.PerfReportInterval = time.Minute
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 10
	}
	if c.ErrorRecoveryDelay <= 0 {
		c.ErrorRecoveryDelay = time.Second
	}
}

// Loop is the trading event loop. Exactly one Run may be active at a time;
// a second Run returns ErrStopped-wrapped failure immediately.
type Loop struct {
	source   domain.MarketDataSource
	registry *strategy.Registry
	exec     *executor.Executor
	perf     *Perf
	marks    []MarkSink
	cfg      LoopConfig
	logger   *slog.Logger

	running atomic.Bool
	books   map[domain.Symbol]*orderbook.Book
	last    map[domain.Symbol]domain.Price // last trade print
}

// NewLoop wires an event loop. Mark sinks are optional.
func NewLoop(
	source domain.MarketDataSource,
	registry *strategy.Registry,
	exec *executor.Executor,
	perf *Perf,
	cfg LoopConfig,
	logger *slog.Logger,
	marks ...MarkSink,
) *Loop {
	cfg.applyDefaults()
	books := make(map[domain.Symbol]*orderbook.Book, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		books[sym] = orderbook.New(sym)
	}
	return &Loop{
		source:   source,
		registry: registry,
		exec:     exec,
		perf:     perf,
		marks:    marks,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "event_loop")),
		books:    books,
		last:     make(map[domain.Symbol]domain.Price),
	}
}

// Book exposes the live book for a symbol (status endpoints and tests).
func (l *Loop) Book(symbol domain.Symbol) (*orderbook.Book, bool) {
	b, ok := l.books[symbol]
	return b, ok
}

// IsRunning reports whether Run is currently active.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Run subscribes to the configured symbols and processes events until the
// context is cancelled, the stream ends, or too many consecutive failures
// accumulate. A clean end of stream (replay exhausted) returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: loop already running")
	}
	defer l.running.Store(false)

	if err := l.source.Subscribe(ctx, l.cfg.Symbols); err != nil {
		return fmt.Errorf("engine: subscribe: %w", err)
	}
	defer func() {
		// The run context is usually already cancelled here.
		unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.source.Unsubscribe(unsubCtx, l.cfg.Symbols); err != nil {
			l.logger.Warn("unsubscribe failed", slog.String("error", err.Error()))
		}
	}()
	l.logger.Info("event loop started",
		slog.Int("symbols", len(l.cfg.Symbols)),
		slog.Any("strategies", l.registry.Names()),
	)
	defer l.logger.Info("event loop stopped")

	events := make(chan domain.MarketEvent)
	readErr := make(chan error, 1)
	go l.readEvents(ctx, events, readErr)

	strategyTicker := time.NewTicker(l.cfg.StrategyInterval)
	defer strategyTicker.Stop()
	orderTicker := time.NewTicker(l.cfg.OrderCheckInterval)
	defer orderTicker.Stop()
	perfTicker := time.NewTicker(l.cfg.PerfReportInterval)
	defer perfTicker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			l.drain(events)
			return ctx.Err()

		case err := <-readErr:
			l.drain(events)
			if errors.Is(err, domain.ErrStreamClosed) {
				// One final evaluation so a finished replay still acts on
				// its last book state.
				l.evaluateStrategies(ctx)
				return nil
			}
			return fmt.Errorf("engine: market data: %w", err)

		case ev := <-events:
			l.applyEvent(ev)

		case <-strategyTicker.C:
			if failed := l.evaluateStrategies(ctx); failed {
				consecutive++
				if consecutive >= l.cfg.MaxConsecutiveErrors {
					return fmt.Errorf("engine: %d consecutive strategy failures: %w",
						consecutive, domain.ErrStopped)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(l.cfg.ErrorRecoveryDelay):
				}
			} else {
				consecutive = 0
			}

		case <-orderTicker.C:
			l.exec.CheckPendingOrders(ctx)

		case <-perfTicker.C:
			l.perf.Report(l.logger)
		}
	}
}

// readEvents pumps the source into the loop's select. It exits on the first
// error; ErrStreamClosed is a clean end of stream.
func (l *Loop) readEvents(ctx context.Context, events chan<- domain.MarketEvent, readErr chan<- error) {
	for {
		ev, err := l.source.Next(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// drain applies whatever events are already buffered so shutdown never
// discards book updates silently.
func (l *Loop) drain(events <-chan domain.MarketEvent) {
	for {
		select {
		case ev := <-events:
			l.applyEvent(ev)
		default:
			return
		}
	}
}

// applyEvent folds one market event into the matching book.
func (l *Loop) applyEvent(ev domain.MarketEvent) {
	book, ok := l.books[ev.Symbol]
	if !ok {
		return // not a configured symbol
	}
	l.perf.AddEvent()

	switch ev.Type {
	case domain.MarketEventSnapshot:
		book.ApplySnapshot(ev.Bids, ev.Asks, ev.Timestamp)
	case domain.MarketEventDelta:
		book.ApplyDelta(ev.Bids, ev.Asks, ev.Timestamp)
	case domain.MarketEventTrade:
		l.last[ev.Symbol] = ev.TradePrice
		for _, sink := range l.marks {
			sink.UpdateMark(ev.Symbol, ev.TradePrice)
		}
	}
}

// evaluateStrategies runs every registered strategy over every symbol's
// current market state. Risk violations count as rejections, not failures;
// anything else counts toward the consecutive-error ceiling. It returns true
// when at least one genuine failure occurred.
func (l *Loop) evaluateStrategies(ctx context.Context) (failed bool) {
	l.perf.MarkStrategyRun(time.Now())

	for _, sym := range l.cfg.Symbols {
		book := l.books[sym]
		var lastPrice *domain.Price
		if p, ok := l.last[sym]; ok {
			lastPrice = &p
		}
		state := book.State(l.cfg.BookDepth, lastPrice)

		for _, strat := range l.registry.All() {
			sig, err := strat.GenerateSignal(ctx, state)
			if err != nil {
				l.perf.AddError()
				l.logger.Error("strategy failed",
					slog.String("strategy", strat.Name()),
					slog.String("symbol", string(sym)),
					slog.String("error", err.Error()),
				)
				failed = true
				continue
			}
			if sig == nil {
				continue
			}
			l.perf.AddSignal()

			if err := l.exec.ExecuteSignal(ctx, *sig); err != nil {
				var violation *domain.RiskViolation
				if errors.As(err, &violation) {
					l.perf.AddRejected()
					continue
				}
				l.perf.AddError()
				l.logger.Error("signal execution failed",
					slog.String("signal_id", sig.ID),
					slog.String("error", err.Error()),
				)
				failed = true
				continue
			}
			l.perf.AddExecuted()
		}
	}
	return failed
}
