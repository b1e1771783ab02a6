package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
)

// MarkCache implements domain.MarkPriceCache using Redis hashes. Each
// symbol's mark is stored at "mark:{symbol}" with fields "price" (decimal
// string, no float round-trip) and "ts" (Unix nanoseconds).
type MarkCache struct {
	rdb *redis.Client
}

var _ domain.MarkPriceCache = (*MarkCache)(nil)

// NewMarkCache creates a MarkCache backed by the given Client.
func NewMarkCache(c *Client) *MarkCache {
	return &MarkCache{rdb: c.Underlying()}
}

func markKey(symbol domain.Symbol) string {
	return "mark:" + string(symbol)
}

// SetMark stores the latest mark price and timestamp for a symbol.
func (mc *MarkCache) SetMark(ctx context.Context, symbol domain.Symbol, mark domain.Price, ts time.Time) error {
	fields := map[string]interface{}{
		"price": mark.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := mc.rdb.HSet(ctx, markKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set mark %s: %w", symbol, err)
	}
	return nil
}

// GetMark retrieves the latest mark price and timestamp for a symbol. It
// returns domain.ErrNotFound when no mark has been stored yet.
func (mc *MarkCache) GetMark(ctx context.Context, symbol domain.Symbol) (domain.Price, time.Time, error) {
	vals, err := mc.rdb.HGetAll(ctx, markKey(symbol)).Result()
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: get mark %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Price{}, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.Price{}, time.Time{}, domain.ErrNotFound
	}
	d, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: parse mark %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Price{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: parse mark ts %s: %w", symbol, err)
	}

	return domain.NewPrice(d), time.Unix(0, tsNano), nil
}

type markUpdate struct {
	symbol domain.Symbol
	mark   domain.Price
}

// MarkSink adapts the cache to the event loop's synchronous mark fan-out.
// Updates go onto a bounded queue and a background worker writes them out, so
// a slow Redis never stalls event processing; when the queue is full the
// update is dropped (the next trade print replaces it anyway).
type MarkSink struct {
	cache   *MarkCache
	updates chan markUpdate
	logger  *slog.Logger
}

// NewMarkSink creates a sink draining into the cache. Run must be started
// for updates to flush.
func NewMarkSink(cache *MarkCache, logger *slog.Logger) *MarkSink {
	return &MarkSink{
		cache:   cache,
		updates: make(chan markUpdate, 256),
		logger:  logger.With(slog.String("component", "mark_sink")),
	}
}

// UpdateMark enqueues a mark update without blocking.
func (s *MarkSink) UpdateMark(symbol domain.Symbol, mark domain.Price) {
	select {
	case s.updates <- markUpdate{symbol: symbol, mark: mark}:
	default:
	}
}

// Run drains the queue into Redis until the context is cancelled.
func (s *MarkSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-s.updates:
			if err := s.cache.SetMark(ctx, u.symbol, u.mark, time.Now()); err != nil {
				s.logger.Warn("mark flush failed",
					slog.String("symbol", string(u.symbol)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
