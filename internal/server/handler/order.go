package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/server/middleware"
)

// OrderEngine exposes order lookups and cancellation.
type OrderEngine interface {
	Get(ctx context.Context, id string) (domain.Order, error)
	Cancel(ctx context.Context, id string) (domain.Order, error)
}

// OrderLister lists a wallet's orders.
type OrderLister interface {
	ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	engine OrderEngine
	orders OrderLister
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(engine OrderEngine, orders OrderLister, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine: engine,
		orders: orders,
		logger: logger.With(slog.String("handler", "order")),
	}
}

type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns the caller's orders, newest first.
// GET /api/orders?limit=50&offset=0&since=...&until=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByWallet(r.Context(), middleware.WalletFrom(r.Context()), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns one of the caller's orders.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder cancels a pending order. A submitting order answers 202: the
// cancellation takes effect only if the transaction does not confirm before
// the order times out.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.owned(w, r); !ok {
		return
	}
	id := pathParam(r, "id")

	order, err := h.engine.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrOrderInFlight):
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "cancel_requested",
			"order":  order,
		})
	case err != nil:
		writeDomainError(w, r, h.logger, err, "failed to cancel order")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "cancelled",
			"order":  order,
		})
	}
}

// owned loads the order named in the path and answers 404 when it belongs to
// another wallet.
func (h *OrderHandler) owned(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return domain.Order{}, false
	}
	order, err := h.engine.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get order")
		return domain.Order{}, false
	}
	if !strings.EqualFold(order.Wallet, middleware.WalletFrom(r.Context())) {
		writeError(w, http.StatusNotFound, "not found")
		return domain.Order{}, false
	}
	return order, true
}
