package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkoval/gotrader/internal/domain"
)

// Persister periodically drains the ledger's unflushed trades into the trade
// store and upserts the derived positions. The ledger stays authoritative in
// memory; persistence is for restarts, reporting, and the archiver.
type Persister struct {
	ledger    *Ledger
	trades    domain.TradeStore
	positions domain.PositionStore
	interval  time.Duration
	logger    *slog.Logger
}

// NewPersister wires a persister. Either store may be nil, in which case that
// half of the flush is skipped.
func NewPersister(l *Ledger, trades domain.TradeStore, positions domain.PositionStore, interval time.Duration, logger *slog.Logger) *Persister {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Persister{
		ledger:    l,
		trades:    trades,
		positions: positions,
		interval:  interval,
		logger:    logger.With(slog.String("component", "ledger_persister")),
	}
}

// Run flushes on a fixed cadence until the context is cancelled, then makes
// one final flush so shutdown does not drop booked trades.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Flush(flushCtx); err != nil {
				p.logger.Error("final flush failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush writes unflushed trades and all positions. Trades are only marked
// flushed after the store accepts them, so a failed write is retried on the
// next cycle.
func (p *Persister) Flush(ctx context.Context) error {
	if p.trades != nil {
		pending := p.ledger.Unflushed()
		if len(pending) > 0 {
			if err := p.trades.InsertBatch(ctx, pending); err != nil {
				return fmt.Errorf("ledger: persist trades: %w", err)
			}
			p.ledger.MarkFlushed(len(pending))
			p.logger.Debug("trades persisted", slog.Int("count", len(pending)))
		}
	}
	if p.positions != nil {
		for _, pos := range p.ledger.Positions() {
			if err := p.positions.Upsert(ctx, pos); err != nil {
				return fmt.Errorf("ledger: persist position %s: %w", pos.Symbol, err)
			}
		}
	}
	return nil
}
