package handler

import (
	"net/http"
	"time"

	"github.com/dkoval/gotrader/internal/domain"
)

// LedgerProvider is the slice of the shadow ledger the handler reads from.
type LedgerProvider interface {
	Positions() []domain.PositionRecord
	Trades() []domain.TradeRecord
}

// PositionHandler serves read-only position and fill state from the ledger.
type PositionHandler struct {
	ledger LedgerProvider
}

// NewPositionHandler creates a new PositionHandler.
func NewPositionHandler(ledger LedgerProvider) *PositionHandler {
	return &PositionHandler{ledger: ledger}
}

type positionResponse struct {
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Size        string    `json:"size"`
	AvgCost     string    `json:"avg_cost"`
	RealizedPnL string    `json:"realized_pnl"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListPositions returns all ledger positions, including flat ones.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.ledger.Positions()
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			Symbol:      string(p.Symbol),
			Exchange:    p.Exchange,
			Size:        p.Size.String(),
			AvgCost:     p.AvgCost.String(),
			RealizedPnL: p.RealizedPnL.String(),
			UpdatedAt:   p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": out,
		"count":     len(out),
	})
}

type tradeResponse struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Side        string    `json:"side"`
	Price       string    `json:"price"`
	Size        string    `json:"size"`
	Notional    string    `json:"notional"`
	RealizedPnL string    `json:"realized_pnl"`
	Timestamp   time.Time `json:"timestamp"`
}

// ListTrades returns the most recent ledger fills, newest first.
// GET /api/trades?limit=50
func (h *PositionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	trades := h.ledger.Trades()

	// Ledger trades are append-ordered; serve the tail newest first.
	out := make([]tradeResponse, 0, limit)
	for i := len(trades) - 1; i >= 0 && len(out) < limit; i-- {
		tr := trades[i]
		out = append(out, tradeResponse{
			ID:          tr.ID,
			OrderID:     tr.OrderID,
			Symbol:      string(tr.Symbol),
			Exchange:    tr.Exchange,
			Side:        string(tr.Side),
			Price:       tr.Price.String(),
			Size:        tr.Size.String(),
			Notional:    tr.Notional.String(),
			RealizedPnL: tr.RealizedPnL.String(),
			Timestamp:   tr.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": out,
		"count":  len(out),
	})
}
