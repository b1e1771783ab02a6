package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The trade log is
// append-only: replays of the same ledger trade id are skipped via
// ON CONFLICT DO NOTHING.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Decimals travel as text so NUMERIC never round-trips through float64.
const tradeSelectCols = `id, order_id, client_id, symbol, exchange, side,
	price::text, size::text, notional::text, realized_pnl::text, timestamp`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var symbol, side string
		var price, size, notional, realized string
		if err := rows.Scan(
			&t.ID, &t.OrderID, &t.ClientID, &symbol, &t.Exchange, &side,
			&price, &size, &notional, &realized, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.Symbol = domain.Symbol(symbol)
		t.Side = domain.Side(side)

		var err error
		if t.Price, err = parsePrice(price); err != nil {
			return nil, err
		}
		if t.Size, err = parseSize(size); err != nil {
			return nil, err
		}
		if t.Notional, err = decimal.NewFromString(notional); err != nil {
			return nil, err
		}
		if t.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func parsePrice(s string) (domain.Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Price{}, err
	}
	return domain.NewPrice(d), nil
}

func parseSize(s string) (domain.Size, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Size{}, err
	}
	return domain.NewSize(d), nil
}

// InsertBatch inserts multiple trade records efficiently using pgx Batch.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (
			id, order_id, client_id, symbol, exchange, side,
			price, size, notional, realized_pnl, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	for _, t := range trades {
		batch.Queue(query,
			t.ID, t.OrderID, t.ClientID, string(t.Symbol), t.Exchange, string(t.Side),
			t.Price.String(), t.Size.String(), t.Notional.String(),
			t.RealizedPnL.String(), t.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListBySymbol returns trades for a symbol with pagination and optional time
// filtering, newest first.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol domain.Symbol, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE symbol = $1`
	args := []any{string(symbol)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by symbol: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by symbol: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trades strictly before the given time, oldest first
// (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE timestamp < $1 ORDER BY timestamp ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteBefore deletes all trades before the given time. Returns the number
// deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
