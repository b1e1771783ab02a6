package handler

import (
	"net/http"
	"time"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/orders"
)

// OrderProvider is the slice of the order manager the handler reads from.
type OrderProvider interface {
	GetOrder(orderID string) (orders.Order, bool)
	GetOpenOrders() []orders.Order
	GetOrderHistory(symbol domain.Symbol, limit int) []orders.Order
}

// OrderHandler serves read-only order state from the in-memory order manager.
type OrderHandler struct {
	orders OrderProvider
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(provider OrderProvider) *OrderHandler {
	return &OrderHandler{orders: provider}
}

type orderResponse struct {
	OrderID       string    `json:"order_id"`
	ClientID      string    `json:"client_id"`
	Symbol        string    `json:"symbol"`
	Exchange      string    `json:"exchange"`
	Side          string    `json:"side"`
	Status        string    `json:"status"`
	Price         string    `json:"price,omitempty"`
	Size          string    `json:"size"`
	FilledSize    string    `json:"filled_size"`
	RemainingSize string    `json:"remaining_size"`
	AvgPrice      string    `json:"avg_price,omitempty"`
	RejectReason  string    `json:"reject_reason,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toOrderResponse(o orders.Order) orderResponse {
	resp := orderResponse{
		OrderID:       o.OrderID,
		ClientID:      o.Request.ClientID,
		Symbol:        string(o.Request.Symbol),
		Exchange:      o.Request.Exchange,
		Side:          string(o.Request.Side),
		Status:        string(o.Status),
		Size:          o.Request.Size.String(),
		FilledSize:    o.FilledSize.String(),
		RemainingSize: o.RemainingSize.String(),
		RejectReason:  o.RejectReason,
		SubmittedAt:   o.SubmittedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Request.Price != nil {
		resp.Price = o.Request.Price.String()
	}
	if o.AvgPrice != nil {
		resp.AvgPrice = o.AvgPrice.String()
	}
	return resp
}

type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
	Count  int             `json:"count"`
}

// ListOpen returns all currently open orders.
// GET /api/orders
func (h *OrderHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	open := h.orders.GetOpenOrders()
	resp := listOrdersResponse{Orders: make([]orderResponse, 0, len(open))}
	for _, o := range open {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	resp.Count = len(resp.Orders)
	writeJSON(w, http.StatusOK, resp)
}

// ListHistory returns recent orders, newest first.
// GET /api/orders/history?symbol=BTC-USDT&limit=50
func (h *OrderHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	symbol := domain.Symbol(r.URL.Query().Get("symbol"))
	history := h.orders.GetOrderHistory(symbol, limit)
	resp := listOrdersResponse{Orders: make([]orderResponse, 0, len(history))}
	for _, o := range history {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	resp.Count = len(resp.Orders)
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder returns a single order by venue order id.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	o, ok := h.orders.GetOrder(id)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
