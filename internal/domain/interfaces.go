package domain

import (
	"context"
	"io"
	"time"
)

// MarketDataSource is a normalized market-data stream for one venue. Next
// blocks until an event is available, the context is cancelled, or the stream
// closes (ErrStreamClosed). Malformed venue messages are dropped inside the
// source; Next only surfaces transport-level failures.
type MarketDataSource interface {
	Subscribe(ctx context.Context, symbols []Symbol) error
	Unsubscribe(ctx context.Context, symbols []Symbol) error
	Next(ctx context.Context) (MarketEvent, error)
	IsConnected() bool
	LastUpdate(symbol Symbol) (time.Time, bool)
}

// VenueClient is the execution surface of one venue. Implementations are wire
// adapters; errors wrapping ErrVenueRateLimited signal venue throttling.
type VenueClient interface {
	PlaceOrder(ctx context.Context, order NewOrder) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (ExecutionReport, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	GetOpenOrders(ctx context.Context, symbol *Symbol) ([]ExecutionReport, error)
	GetTradingFees(ctx context.Context, symbol Symbol) (TradingFees, error)
}

// Strategy turns per-symbol market state into trade signals. GenerateSignal
// returns nil when the strategy has nothing to do. Implementations must not
// block; network access belongs in the venue and feed layers.
type Strategy interface {
	Name() string
	GenerateSignal(ctx context.Context, state MarketState) (*Signal, error)
}

// ListOpts provides pagination and time filtering for store list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists the shadow ledger's trade log.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []TradeRecord) error
	ListBySymbol(ctx context.Context, symbol Symbol, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists ledger position records.
type PositionStore interface {
	Upsert(ctx context.Context, pos PositionRecord) error
	GetBySymbol(ctx context.Context, symbol Symbol, exchange string) (PositionRecord, error)
	List(ctx context.Context) ([]PositionRecord, error)
}

// OrderStore archives order history from execution reports.
type OrderStore interface {
	Upsert(ctx context.Context, report ExecutionReport) error
	ListBySymbol(ctx context.Context, symbol Symbol, opts ListOpts) ([]ExecutionReport, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionReport, error)
}

// MarkPriceCache shares the latest mark price per symbol across processes;
// unrealized-P&L reporting reads marks from here.
type MarkPriceCache interface {
	SetMark(ctx context.Context, symbol Symbol, mark Price, ts time.Time) error
	GetMark(ctx context.Context, symbol Symbol) (Price, time.Time, error)
}

// DistributedRateLimiter rate-limits a keyed operation class across engine
// instances. The in-process limiter in internal/ratelimit covers the
// single-instance case.
type DistributedRateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager guards resources shared across engine instances. Live mode
// acquires a per-account lock so two engines never trade the same account.
type LockManager interface {
	// Acquire returns an unlock func, or ErrLockHeld when another holder
	// owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports old ledger records to cold storage. Deletion from the
// primary store is the caller's job, after the export succeeds.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
}
