package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkoval/gotrader/internal/domain"
)

// OrderStore archives execution reports, keeping the latest report per venue
// order id. It implements domain.OrderStore.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `order_id, client_id, symbol, exchange, side, status,
	filled_size::text, remaining_size::text, avg_price::text, reject_reason, updated_at`

func scanOrderRows(rows pgx.Rows) ([]domain.ExecutionReport, error) {
	var reports []domain.ExecutionReport
	for rows.Next() {
		var r domain.ExecutionReport
		var symbol, side, status string
		var filled, remaining string
		var avgPrice *string

		if err := rows.Scan(
			&r.OrderID, &r.ClientID, &symbol, &r.Exchange, &side, &status,
			&filled, &remaining, &avgPrice, &r.RejectReason, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Symbol = domain.Symbol(symbol)
		r.Side = domain.Side(side)
		r.Status = domain.OrderStatus(status)

		var err error
		if r.FilledSize, err = parseSize(filled); err != nil {
			return nil, err
		}
		if r.RemainingSize, err = parseSize(remaining); err != nil {
			return nil, err
		}
		if avgPrice != nil {
			p, err := parsePrice(*avgPrice)
			if err != nil {
				return nil, err
			}
			r.AvgPrice = &p
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Upsert writes the latest report for an order, replacing any earlier one.
func (s *OrderStore) Upsert(ctx context.Context, report domain.ExecutionReport) error {
	const query = `
		INSERT INTO orders (
			order_id, client_id, symbol, exchange, side, status,
			filled_size, remaining_size, avg_price, reject_reason, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		) ON CONFLICT (order_id) DO UPDATE SET
			status         = EXCLUDED.status,
			filled_size    = EXCLUDED.filled_size,
			remaining_size = EXCLUDED.remaining_size,
			avg_price      = EXCLUDED.avg_price,
			reject_reason  = EXCLUDED.reject_reason,
			updated_at     = EXCLUDED.updated_at`

	var avgPrice *string
	if report.AvgPrice != nil {
		p := report.AvgPrice.String()
		avgPrice = &p
	}

	_, err := s.pool.Exec(ctx, query,
		report.OrderID, report.ClientID, string(report.Symbol), report.Exchange,
		string(report.Side), string(report.Status),
		report.FilledSize.String(), report.RemainingSize.String(),
		avgPrice, report.RejectReason, report.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", report.OrderID, err)
	}
	return nil
}

// ListBySymbol returns archived orders for a symbol, newest first.
func (s *OrderStore) ListBySymbol(ctx context.Context, symbol domain.Symbol, opts domain.ListOpts) ([]domain.ExecutionReport, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE symbol = $1`
	args := []any{string(symbol)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND updated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY updated_at DESC"

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
		return nil, fmt.Errorf("postgres: list orders by symbol: %w", err)
	}
	defer rows.Close()

	reports, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by symbol: %w", err)
	}
	return reports, nil
}

// ListBefore returns archived orders last updated strictly before the given
// time, oldest first.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionReport, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE updated_at < $1 ORDER BY updated_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before: %w", err)
	}
	defer rows.Close()

	reports, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders before: %w", err)
	}
	return reports, nil
}
