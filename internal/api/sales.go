package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/api/middleware"
	"github.com/example/ec-order-saga/internal/command"
	"github.com/example/ec-order-saga/internal/query"
)

// IdempotencyKeyHeader carries the client's submission key on POST /api/orders.
const IdempotencyKeyHeader = "Idempotency-Key"

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, cmd command.PlaceOrder) (*command.PlaceOrderResult, error)
}

type OrderQueries interface {
	GetOrder(ctx context.Context, id string) (*query.OrderReadModel, error)
	ListOrders(ctx context.Context) ([]*query.OrderReadModel, error)
}

// SalesHandlers serves the order API.
type SalesHandlers struct {
	orders  OrderPlacer
	queries OrderQueries
	logger  *zap.Logger
}

func NewSalesHandlers(orders OrderPlacer, queries OrderQueries, logger *zap.Logger) *SalesHandlers {
	return &SalesHandlers{orders: orders, queries: queries, logger: logger.Named("sales-api")}
}

// PlaceOrder answers 201 with the Pending order, or 200 when the idempotency
// key replays an earlier submission.
func (h *SalesHandlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.PlaceOrder
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if cmd.CustomerID == "" {
		cmd.CustomerID = middleware.GetCustomerID(r.Context())
	}
	cmd.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)

	res, err := h.orders.PlaceOrder(r.Context(), cmd)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	respondJSON(w, status, res.Order)
}

func (h *SalesHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.queries.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *SalesHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queries.ListOrders(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}
