// Package reservation applies order-created facts to the inventory: the binding
// check-and-decrement of the saga.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/domain/inventory"
	"github.com/example/ec-order-saga/internal/events"
	"github.com/example/ec-order-saga/internal/infrastructure/kafka"
	"github.com/example/ec-order-saga/internal/infrastructure/store"
	"github.com/example/ec-order-saga/internal/outbox"
)

// Store is the part of the inventory store the worker needs.
type Store interface {
	WithinReservation(ctx context.Context, orderID string, fn func(ctx context.Context, tx store.ReservationTx) error) error
}

// Handler processes order-created facts
type Handler struct {
	store  Store
	tracer trace.Tracer
	logger *zap.Logger
}

func NewHandler(s Store, logger *zap.Logger) *Handler {
	return &Handler{
		store:  s,
		tracer: otel.Tracer("github.com/example/ec-order-saga/internal/reservation"),
		logger: logger.Named("reservation"),
	}
}

// HandleOrderCreated is a kafka.MessageHandler. Undecodable messages are fatal;
// store faults are retryable. A delivery already in the ledger is acknowledged
// without touching stock.
func (h *Handler) HandleOrderCreated(ctx context.Context, key, value []byte) (kafka.Outcome, error) {
	var fact events.OrderCreated
	if _, err := events.Decode(value, &fact); err != nil {
		h.logger.Error("undecodable order-created fact", zap.ByteString("key", key), zap.Error(err))
		return kafka.Fatal, err
	}

	ctx, span := h.tracer.Start(ctx, "reservation.reserve",
		trace.WithAttributes(
			attribute.String("order.id", fact.OrderID),
			attribute.Int("order.items", len(fact.Items))))
	defer span.End()

	decision, err := h.Reserve(ctx, fact)
	switch {
	case errors.Is(err, store.ErrAlreadyProcessed):
		h.logger.Info("duplicate delivery skipped", zap.String("order_id", fact.OrderID))
		span.SetAttributes(attribute.Bool("reservation.duplicate", true))
		return kafka.Processed, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Warn("reservation failed",
			zap.String("order_id", fact.OrderID), zap.Error(err))
		return kafka.Retryable, err
	}

	span.SetAttributes(attribute.Bool("reservation.accepted", decision.Accepted()))
	if decision.Accepted() {
		h.logger.Info("stock reserved",
			zap.String("order_id", fact.OrderID),
			zap.Int("products", len(decision.Reservations)))
	} else {
		for _, s := range decision.Shortfalls {
			h.logger.Info("order rejected",
				zap.String("order_id", fact.OrderID),
				zap.Int64("product_id", s.ProductID),
				zap.Int("requested", s.Requested),
				zap.Int("available", s.Available))
		}
	}
	return kafka.Processed, nil
}

// Reserve evaluates the order against locked stock and, in the same transaction,
// either decrements every line and enqueues stock-updated facts, or enqueues one
// order-rejected fact per short line and changes nothing.
func (h *Handler) Reserve(ctx context.Context, fact events.OrderCreated) (inventory.Decision, error) {
	lines := make([]inventory.Line, 0, len(fact.Items))
	for _, item := range fact.Items {
		lines = append(lines, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	var decision inventory.Decision
	err := h.store.WithinReservation(ctx, fact.OrderID, func(ctx context.Context, tx store.ReservationTx) error {
		stock, err := tx.LockProducts(ctx, productIDs(lines))
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}

		decision = inventory.Evaluate(lines, stock)
		if !decision.Accepted() {
			for _, s := range decision.Shortfalls {
				if err := enqueue(ctx, tx, events.OrderRejected{
					OrderID:           fact.OrderID,
					ProductID:         s.ProductID,
					RequestedQuantity: s.Requested,
					AvailableQuantity: s.Available,
					Reason:            inventory.RejectionReason,
				}); err != nil {
					return err
				}
			}
			return nil
		}

		for _, r := range decision.Reservations {
			newStock, err := tx.Decrement(ctx, r.ProductID, r.Quantity)
			if err != nil {
				return fmt.Errorf("decrement product %d: %w", r.ProductID, err)
			}
			if err := enqueue(ctx, tx, events.StockUpdated{
				OrderID:         fact.OrderID,
				ProductID:       r.ProductID,
				QuantityReduced: r.Quantity,
				NewStock:        newStock,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return inventory.Decision{}, err
	}
	return decision, nil
}

func enqueue(ctx context.Context, tx store.ReservationTx, p events.Payload) error {
	rec, err := outbox.NewRecord(ctx, p)
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, rec)
}

// productIDs returns the distinct ids of lines in ascending order, the lock order.
func productIDs(lines []inventory.Line) []int64 {
	seen := make(map[int64]bool, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
