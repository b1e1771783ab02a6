// Package orders tracks the live and historical state of every order the
// engine has submitted. Execution reports are the only mutation path, so the
// tracked state can never drift ahead of what the venue has confirmed.
package orders

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dkoval/gotrader/internal/domain"
)

// Order is a tracked order: the submitted request plus the venue-confirmed
// lifecycle state accumulated from execution reports.
type Order struct {
	Request       domain.NewOrder
	OrderID       string
	Status        domain.OrderStatus
	FilledSize    domain.Size
	RemainingSize domain.Size
	AvgPrice      *domain.Price
	RejectReason  string
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// IsOpen reports whether the order can still fill.
func (o Order) IsOpen() bool { return !o.Status.IsTerminal() }

// Manager is the in-memory order tracker. All mutation flows through
// HandleExecutionReport; reads return copies.
type Manager struct {
	mu       sync.RWMutex
	orders   map[string]*Order // by venue order id
	byClient map[string]string // client id -> venue order id
	archive  domain.OrderStore // optional, best-effort
	logger   *slog.Logger
}

// NewManager creates an order manager. The archive store may be nil; when
// set, every report is also upserted there for post-mortem queries.
func NewManager(archive domain.OrderStore, logger *slog.Logger) *Manager {
	return &Manager{
		orders:   make(map[string]*Order),
		byClient: make(map[string]string),
		archive:  archive,
		logger:   logger.With(slog.String("component", "order_manager")),
	}
}

// Track registers a just-submitted order so subsequent reports have a
// request to attach to. The order starts in StatusNew.
func (m *Manager) Track(orderID string, request domain.NewOrder, submittedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[orderID]; exists {
		return
	}
	m.orders[orderID] = &Order{
		Request:       request,
		OrderID:       orderID,
		Status:        domain.OrderStatusNew,
		RemainingSize: request.Size,
		SubmittedAt:   submittedAt,
		UpdatedAt:     submittedAt,
	}
	if request.ClientID != "" {
		m.byClient[request.ClientID] = orderID
	}
}

// HandleExecutionReport applies a venue report to the tracked order. Unknown
// order ids are tracked from the report itself (reports can arrive for
// orders found via open-order reconciliation). Stale reports are dropped:
// a terminal order never leaves its terminal state, and the filled quantity
// never decreases.
func (m *Manager) HandleExecutionReport(ctx context.Context, report domain.ExecutionReport) {
	m.mu.Lock()
	o, ok := m.orders[report.OrderID]
	if !ok {
		o = &Order{
			Request: domain.NewOrder{
				Symbol:   report.Symbol,
				Exchange: report.Exchange,
				Side:     report.Side,
				ClientID: report.ClientID,
			},
			OrderID:     report.OrderID,
			Status:      domain.OrderStatusNew,
			SubmittedAt: report.Timestamp,
		}
		m.orders[report.OrderID] = o
		if report.ClientID != "" {
			m.byClient[report.ClientID] = report.OrderID
		}
	}

	stale := o.Status.IsTerminal() ||
		report.FilledSize.Cmp(o.FilledSize) < 0
	if !stale {
		o.Status = report.Status
		o.FilledSize = report.FilledSize
		o.RemainingSize = report.RemainingSize
		if report.AvgPrice != nil {
			o.AvgPrice = report.AvgPrice
		}
		if report.RejectReason != "" {
			o.RejectReason = report.RejectReason
		}
		o.UpdatedAt = report.Timestamp
	}
	snapshot := *o
	m.mu.Unlock()

	if stale {
		m.logger.Debug("stale report dropped",
			slog.String("order_id", report.OrderID),
			slog.String("status", string(report.Status)),
		)
		return
	}

	if m.archive != nil {
		if err := m.archive.Upsert(ctx, report); err != nil {
			m.logger.Warn("order archive upsert failed",
				slog.String("order_id", report.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("order updated",
		slog.String("order_id", snapshot.OrderID),
		slog.String("client_id", snapshot.Request.ClientID),
		slog.String("symbol", string(snapshot.Request.Symbol)),
		slog.String("status", string(snapshot.Status)),
		slog.String("filled", snapshot.FilledSize.String()),
	)
}

// GetOrder looks up an order by venue order id.
func (m *Manager) GetOrder(orderID string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// GetOrderByClientID looks up an order by the engine-assigned client id.
func (m *Manager) GetOrderByClientID(clientID string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byClient[clientID]
	if !ok {
		return Order{}, false
	}
	o, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// GetOpenOrders returns every non-terminal order, oldest submission first.
func (m *Manager) GetOpenOrders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Order
	for _, o := range m.orders {
		if o.IsOpen() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// GetOrderHistory returns terminal orders newest-first, optionally filtered
// by symbol (empty matches all), up to limit (limit <= 0 returns all).
func (m *Manager) GetOrderHistory(symbol domain.Symbol, limit int) []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Order
	for _, o := range m.orders {
		if o.IsOpen() {
			continue
		}
		if symbol != "" && o.Request.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// OpenOrderCount returns the number of non-terminal orders.
func (m *Manager) OpenOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.orders {
		if o.IsOpen() {
			n++
		}
	}
	return n
}
