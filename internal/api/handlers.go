package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/command"
	"github.com/example/ec-order-saga/internal/domain/inventory"
	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/stockclient"
)

type messageBody struct {
	Message string `json:"message"`
}

// conflictBody is the 409 body of an insufficient-stock answer, on both APIs.
type conflictBody struct {
	Message   string `json:"message"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, messageBody{Message: message})
}

// respondError maps domain and upstream errors onto HTTP statuses.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var insufficient *stockclient.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		respondJSON(w, http.StatusConflict, conflictBody{
			Message:   insufficient.Error(),
			Available: insufficient.Available,
			Requested: insufficient.Requested,
		})
	case errors.Is(err, command.ErrValidation),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidName),
		errors.Is(err, inventory.ErrInvalidPrice),
		errors.Is(err, inventory.ErrNegativeStock):
		respondMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, stockclient.ErrProductNotFound),
		errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		respondMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, command.ErrDuplicateSubmission):
		respondMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, stockclient.ErrStockUnavailable):
		logger.Warn("stock service unavailable", zap.Error(err))
		respondMessage(w, http.StatusBadGateway, "stock service unavailable")
	default:
		logger.Error("request failed", zap.Error(err))
		respondMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func productIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
