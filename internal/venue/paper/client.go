// Package paper implements an in-memory venue for dry runs. Orders never
// leave the process: limit orders fill when the simulated market trades
// through them, market orders fill at the current mark immediately.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
)

var _ domain.VenueClient = (*Client)(nil)

// Client is a paper-trading venue. It satisfies domain.VenueClient and fills
// orders against marks pushed in via UpdateMark.
type Client struct {
	mu       sync.Mutex
	orders   map[string]*paperOrder
	marks    map[domain.Symbol]domain.Price
	balances map[string]decimal.Decimal
	fees     domain.TradingFees
	logger   *slog.Logger
	now      func() time.Time
}

type paperOrder struct {
	request domain.NewOrder
	report  domain.ExecutionReport
}

// New creates a paper venue with the given starting balances (asset -> free
// quantity).
func New(balances map[string]decimal.Decimal, logger *slog.Logger) *Client {
	b := make(map[string]decimal.Decimal, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &Client{
		orders:   make(map[string]*paperOrder),
		marks:    make(map[domain.Symbol]domain.Price),
		balances: b,
		fees: domain.TradingFees{
			MakerRate: decimal.RequireFromString("0.001"),
			TakerRate: decimal.RequireFromString("0.002"),
		},
		logger: logger.With(slog.String("component", "paper_venue")),
		now:    time.Now,
	}
}

// UpdateMark moves the simulated market for a symbol and fills any resting
// limit orders the new mark trades through.
func (c *Client) UpdateMark(symbol domain.Symbol, mark domain.Price) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[symbol] = mark

	for _, o := range c.orders {
		if o.report.Status.IsTerminal() || o.request.Symbol != symbol {
			continue
		}
		if o.request.Type != domain.OrderTypeLimit || o.request.Price == nil {
			continue
		}
		crossed := (o.request.Side == domain.SideBuy && !mark.GreaterThan(*o.request.Price)) ||
			(o.request.Side == domain.SideSell && !mark.LessThan(*o.request.Price))
		if crossed {
			c.fillLocked(o, *o.request.Price)
		}
	}
}

// PlaceOrder accepts an order and returns its venue id. Market orders fill at
// the current mark (an error when no mark exists yet); limit orders fill
// immediately when already crossed, otherwise they rest.
func (c *Client) PlaceOrder(_ context.Context, order domain.NewOrder) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	o := &paperOrder{
		request: order,
		report: domain.ExecutionReport{
			OrderID:       id,
			ClientID:      order.ClientID,
			Symbol:        order.Symbol,
			Exchange:      order.Exchange,
			Side:          order.Side,
			Status:        domain.OrderStatusNew,
			RemainingSize: order.Size,
			Timestamp:     c.now(),
		},
	}
	c.orders[id] = o

	mark, hasMark := c.marks[order.Symbol]
	switch order.Type {
	case domain.OrderTypeMarket:
		if !hasMark {
			delete(c.orders, id)
			return "", fmt.Errorf("paper: no mark price for %s: %w", order.Symbol, domain.ErrNotFound)
		}
		c.fillLocked(o, mark)
	case domain.OrderTypeLimit:
		crossed := hasMark &&
			((order.Side == domain.SideBuy && !mark.GreaterThan(*order.Price)) ||
				(order.Side == domain.SideSell && !mark.LessThan(*order.Price)))
		if crossed {
			c.fillLocked(o, *order.Price)
		}
	}

	c.logger.Debug("paper order accepted",
		slog.String("order_id", id),
		slog.String("symbol", string(order.Symbol)),
		slog.String("status", string(o.report.Status)),
	)
	return id, nil
}

// fillLocked fully fills an order at the given price and moves balances.
func (c *Client) fillLocked(o *paperOrder, price domain.Price) {
	p := price
	o.report.Status = domain.OrderStatusFilled
	o.report.FilledSize = o.request.Size
	o.report.RemainingSize = domain.Size{}
	o.report.AvgPrice = &p
	o.report.Timestamp = c.now()

	base, quote, ok := splitSymbol(o.request.Symbol)
	if !ok {
		return
	}
	notional := price.Mul(o.request.Size)
	if o.request.Side == domain.SideBuy {
		c.balances[base] = c.balances[base].Add(o.request.Size.Decimal())
		c.balances[quote] = c.balances[quote].Sub(notional)
	} else {
		c.balances[base] = c.balances[base].Sub(o.request.Size.Decimal())
		c.balances[quote] = c.balances[quote].Add(notional)
	}
}

// CancelOrder cancels a resting order. Terminal orders return ErrNotFound.
func (c *Client) CancelOrder(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	if !ok || o.report.Status.IsTerminal() {
		return fmt.Errorf("paper: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	o.report.Status = domain.OrderStatusCancelled
	o.report.Timestamp = c.now()
	return nil
}

// GetOrderStatus returns the current execution report for an order.
func (c *Client) GetOrderStatus(_ context.Context, orderID string) (domain.ExecutionReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	if !ok {
		return domain.ExecutionReport{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	return o.report, nil
}

// GetBalances returns the simulated balances.
func (c *Client) GetBalances(context.Context) ([]domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Balance, 0, len(c.balances))
	for asset, free := range c.balances {
		out = append(out, domain.Balance{Asset: asset, Free: free})
	}
	return out, nil
}

// GetOpenOrders returns reports for non-terminal orders, optionally filtered
// by symbol.
func (c *Client) GetOpenOrders(_ context.Context, symbol *domain.Symbol) ([]domain.ExecutionReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.ExecutionReport
	for _, o := range c.orders {
		if o.report.Status.IsTerminal() {
			continue
		}
		if symbol != nil && o.request.Symbol != *symbol {
			continue
		}
		out = append(out, o.report)
	}
	return out, nil
}

// GetTradingFees returns the flat simulated fee schedule.
func (c *Client) GetTradingFees(_ context.Context, symbol domain.Symbol) (domain.TradingFees, error) {
	fees := c.fees
	fees.Symbol = symbol
	return fees, nil
}

func splitSymbol(symbol domain.Symbol) (base, quote string, ok bool) {
	s := string(symbol)
	for i := 0; i < len(s); i++ {
		if s[i] == '-' || s[i] == '/' {
			if i == 0 || i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
