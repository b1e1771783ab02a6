package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkoval/gotrader/internal/domain"
)

// SpreadConfig tunes the spread-capture strategy.
type SpreadConfig struct {
	Exchange  string
	MinSpread domain.Price // act only when ask - bid is at least this wide
	OrderSize domain.Size
	Cooldown  time.Duration // minimum gap between signals per symbol
}

// SpreadCapture joins the bid when the spread is wide enough to pay for the
// round trip. It emits at most one signal per symbol per cooldown so a quiet
// book does not get spammed with requotes.
type SpreadCapture struct {
	cfg    SpreadConfig
	logger *slog.Logger

	mu   sync.Mutex
	last map[domain.Symbol]time.Time
	now  func() time.Time
}

// NewSpreadCapture creates the strategy. A non-positive cooldown defaults to
// five seconds.
func NewSpreadCapture(cfg SpreadConfig, logger *slog.Logger) *SpreadCapture {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	return &SpreadCapture{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "strategy"), slog.String("strategy", "spread_capture")),
		last:   make(map[domain.Symbol]time.Time),
		now:    time.Now,
	}
}

func (s *SpreadCapture) Name() string { return "spread_capture" }

// GenerateSignal emits a limit buy at the best bid when the spread clears the
// configured minimum. It returns nil when the book is one-sided, the spread
// is too tight, or the symbol is still cooling down.
func (s *SpreadCapture) GenerateSignal(_ context.Context, state domain.MarketState) (*domain.Signal, error) {
	if state.BestBid == nil || state.BestAsk == nil || state.Spread == nil {
		return nil, nil
	}
	if state.Spread.LessThan(s.cfg.MinSpread) {
		return nil, nil
	}

	now := s.now()
	s.mu.Lock()
	if last, ok := s.last[state.Symbol]; ok && now.Sub(last) < s.cfg.Cooldown {
		s.mu.Unlock()
		return nil, nil
	}
	s.last[state.Symbol] = now
	s.mu.Unlock()

	bid := state.BestBid.Price
	order := domain.NewOrder{
		Symbol:      state.Symbol,
		Exchange:    s.cfg.Exchange,
		Side:        domain.SideBuy,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TIFGoodTillCancelled,
		Price:       &bid,
		Size:        s.cfg.OrderSize,
	}

	s.logger.Debug("spread wide enough, quoting",
		slog.String("symbol", string(state.Symbol)),
		slog.String("spread", state.Spread.String()),
		slog.String("bid", bid.String()),
	)
	return &domain.Signal{
		ID:        uuid.NewString(),
		Source:    s.Name(),
		Kind:      domain.SignalPlaceOrder,
		Symbol:    state.Symbol,
		Order:     &order,
		Reason:    "spread " + state.Spread.String() + " >= " + s.cfg.MinSpread.String(),
		CreatedAt: now,
	}, nil
}
