// Package reconciler moves orders to their terminal status from the facts
// emitted by the reservation worker.
package reconciler

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/events"
	"github.com/example/ec-order-saga/internal/infrastructure/kafka"
)

type OrderTransitioner interface {
	TransitionStatus(ctx context.Context, id string, target order.Status) (order.Status, bool, error)
}

type Reconciler struct {
	orders OrderTransitioner
	tracer trace.Tracer
	logger *zap.Logger
}

func NewReconciler(orders OrderTransitioner, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		orders: orders,
		tracer: otel.Tracer("github.com/example/ec-order-saga/internal/reconciler"),
		logger: logger.Named("reconciler"),
	}
}

// HandleStockUpdated confirms the order named by a stock-updated fact.
func (r *Reconciler) HandleStockUpdated(ctx context.Context, key, value []byte) (kafka.Outcome, error) {
	var fact events.StockUpdated
	if _, err := events.Decode(value, &fact); err != nil {
		r.logger.Error("undecodable stock-updated fact", zap.ByteString("key", key), zap.Error(err))
		return kafka.Fatal, err
	}
	return r.apply(ctx, fact.OrderID, order.StatusConfirmed, zap.Int64("product_id", fact.ProductID))
}

// HandleOrderRejected rejects the order named by an order-rejected fact.
func (r *Reconciler) HandleOrderRejected(ctx context.Context, key, value []byte) (kafka.Outcome, error) {
	var fact events.OrderRejected
	if _, err := events.Decode(value, &fact); err != nil {
		r.logger.Error("undecodable order-rejected fact", zap.ByteString("key", key), zap.Error(err))
		return kafka.Fatal, err
	}
	return r.apply(ctx, fact.OrderID, order.StatusRejected,
		zap.Int64("product_id", fact.ProductID),
		zap.String("reason", fact.Reason))
}

func (r *Reconciler) apply(ctx context.Context, orderID string, target order.Status, fields ...zap.Field) (kafka.Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.transition",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.target_status", string(target))))
	defer span.End()

	fields = append(fields, zap.String("order_id", orderID), zap.String("target", string(target)))

	current, changed, err := r.orders.TransitionStatus(ctx, orderID, target)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		// The fact is dropped; the order stays unknown to this service.
		r.logger.Warn("order not found, fact discarded", fields...)
		return kafka.Processed, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("status transition failed", append(fields, zap.Error(err))...)
		return kafka.Retryable, err
	}

	span.SetAttributes(attribute.Bool("order.changed", changed))
	switch {
	case changed:
		r.logger.Info("order status updated", fields...)
	case current != target:
		r.logger.Warn("contradictory fact for terminal order ignored",
			append(fields, zap.String("current", string(current)))...)
	default:
		r.logger.Debug("order already in target status", fields...)
	}
	return kafka.Processed, nil
}
