package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Positions
// are keyed by (symbol, exchange) and zeroed rather than deleted when flat,
// so the row keeps its realized P&L history.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `symbol, exchange, size::text, avg_cost::text,
	realized_pnl::text, updated_at`

func scanPositionRow(row pgx.Row) (domain.PositionRecord, error) {
	var p domain.PositionRecord
	var symbol string
	var size, avgCost, realized string

	err := row.Scan(&symbol, &p.Exchange, &size, &avgCost, &realized, &p.UpdatedAt)
	if err != nil {
		return domain.PositionRecord{}, err
	}
	p.Symbol = domain.Symbol(symbol)

	if p.Size, err = decimal.NewFromString(size); err != nil {
		return domain.PositionRecord{}, err
	}
	if p.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
		return domain.PositionRecord{}, err
	}
	if p.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
		return domain.PositionRecord{}, err
	}
	return p, nil
}

// Upsert writes a position record, replacing any previous state for the
// (symbol, exchange) pair.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.PositionRecord) error {
	const query = `
		INSERT INTO positions (symbol, exchange, size, avg_cost, realized_pnl, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol, exchange) DO UPDATE SET
			size         = EXCLUDED.size,
			avg_cost     = EXCLUDED.avg_cost,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		string(pos.Symbol), pos.Exchange,
		pos.Size.String(), pos.AvgCost.String(), pos.RealizedPnL.String(),
		pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.Symbol, err)
	}
	return nil
}

// GetBySymbol retrieves the position record for a symbol on an exchange. It
// returns domain.ErrNotFound when no record exists.
func (s *PositionStore) GetBySymbol(ctx context.Context, symbol domain.Symbol, exchange string) (domain.PositionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE symbol = $1 AND exchange = $2`,
		string(symbol), exchange)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionRecord{}, domain.ErrNotFound
		}
		return domain.PositionRecord{}, fmt.Errorf("postgres: get position %s: %w", symbol, err)
	}
	return p, nil
}

// List returns all position records, zeroed ones included.
func (s *PositionStore) List(ctx context.Context) ([]domain.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY symbol, exchange`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.PositionRecord
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan positions: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return positions, nil
}
