package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
	"github.com/mktsim/mktsim/internal/server/middleware"
)

// OrderService defines the methods the order handler requires.
type OrderService interface {
	PlaceOrder(ctx context.Context, accountID, instrumentID string, side domain.OrderSide, quantity decimal.Decimal) (domain.Order, error)
}

// OrderReader lists executed orders.
type OrderReader interface {
	ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order endpoints. The caller's identity comes from the
// request context set by the identity middleware.
type OrderHandler struct {
	orders OrderService
	reader OrderReader
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, reader OrderReader, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		reader: reader,
		logger: logger,
	}
}

type placeOrderRequest struct {
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Quantity     string `json:"quantity"`
}

// PlaceOrder executes an order at the current quote.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.InstrumentID == "" {
		writeError(w, http.StatusBadRequest, "instrument_id is required")
		return
	}

	side := domain.OrderSide(req.Side)
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	quantity, err := parsePositiveDecimal(req.Quantity, "quantity")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), accountID, req.InstrumentID, side, quantity)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

// ListOrders returns the caller's orders, newest first.
// GET /api/orders?limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	orders, err := h.reader.ListByAccount(r.Context(), accountID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
