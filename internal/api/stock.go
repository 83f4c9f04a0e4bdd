package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/command"
	"github.com/example/ec-order-saga/internal/domain/inventory"
)

type ProductQueries interface {
	GetProduct(ctx context.Context, id int64) (*inventory.Product, error)
	ListProducts(ctx context.Context) ([]inventory.Product, error)
	CheckAvailability(ctx context.Context, id int64, quantity int) (inventory.Availability, error)
}

type ProductCommands interface {
	CreateProduct(ctx context.Context, cmd command.CreateProduct) (*inventory.Product, error)
	UpdateProduct(ctx context.Context, cmd command.UpdateProduct) error
	DeleteProduct(ctx context.Context, cmd command.DeleteProduct) error
}

type availabilityBody struct {
	OK        bool `json:"ok"`
	Available int  `json:"available"`
}

// StockHandlers serves the inventory API.
type StockHandlers struct {
	queries  ProductQueries
	commands ProductCommands
	logger   *zap.Logger
}

func NewStockHandlers(queries ProductQueries, commands ProductCommands, logger *zap.Logger) *StockHandlers {
	return &StockHandlers{queries: queries, commands: commands, logger: logger.Named("stock-api")}
}

func (h *StockHandlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.queries.ListProducts(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *StockHandlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(r)
	if !ok {
		respondMessage(w, http.StatusNotFound, inventory.ErrProductNotFound.Error())
		return
	}
	p, err := h.queries.GetProduct(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// CheckAvailability answers GET /api/products/{id}/check?quantity=n.
func (h *StockHandlers) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(r)
	if !ok {
		respondMessage(w, http.StatusNotFound, inventory.ErrProductNotFound.Error())
		return
	}
	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || quantity <= 0 {
		respondMessage(w, http.StatusBadRequest, inventory.ErrInvalidQuantity.Error())
		return
	}

	a, err := h.queries.CheckAvailability(r.Context(), id, quantity)
	if errors.Is(err, inventory.ErrInsufficientStock) {
		respondJSON(w, http.StatusConflict, conflictBody{
			Message:   err.Error(),
			Available: a.Available,
			Requested: a.Requested,
		})
		return
	}
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, availabilityBody{OK: true, Available: a.Available})
}

func (h *StockHandlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateProduct
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	p, err := h.commands.CreateProduct(r.Context(), cmd)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/products/"+strconv.FormatInt(p.ID, 10))
	respondJSON(w, http.StatusCreated, p)
}

func (h *StockHandlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(r)
	if !ok {
		respondMessage(w, http.StatusNotFound, inventory.ErrProductNotFound.Error())
		return
	}
	var cmd command.UpdateProduct
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if cmd.ProductID != 0 && cmd.ProductID != id {
		respondMessage(w, http.StatusBadRequest, "product id does not match path")
		return
	}
	cmd.ProductID = id

	if err := h.commands.UpdateProduct(r.Context(), cmd); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StockHandlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productIDParam(r)
	if !ok {
		respondMessage(w, http.StatusNotFound, inventory.ErrProductNotFound.Error())
		return
	}
	if err := h.commands.DeleteProduct(r.Context(), command.DeleteProduct{ProductID: id}); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
