package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/events"
	"github.com/example/ec-order-saga/internal/outbox"
	"github.com/example/ec-order-saga/internal/query"
	"github.com/example/ec-order-saga/internal/stockclient"
)

var (
	// ErrValidation wraps every request-shape failure of PlaceOrder.
	ErrValidation = errors.New("invalid order request")
	// ErrDuplicateSubmission reports an idempotency key whose first submission
	// has not finished yet.
	ErrDuplicateSubmission = errors.New("submission already in progress")
)

type StockChecker interface {
	Check(ctx context.Context, productID int64, quantity int) (stockclient.Availability, error)
}

type OrderWriter interface {
	CreateOrder(ctx context.Context, o *order.Order, rec outbox.Record) error
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

const guardTimeout = 2 * time.Second

// SubmissionGuard deduplicates client retries that carry the same key.
type SubmissionGuard interface {
	Claim(ctx context.Context, key string) (claimed bool, orderID string, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

type Enricher interface {
	Enrich(ctx context.Context, o *order.Order) *query.OrderReadModel
}

type PlaceOrderResult struct {
	Order *query.OrderReadModel
	// Replayed is set when the idempotency key matched an earlier submission.
	Replayed bool
}

// Handler is the order submission gateway.
type Handler struct {
	stock    StockChecker
	orders   OrderWriter
	guard    SubmissionGuard
	enricher Enricher
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewHandler builds the gateway. guard may be nil, in which case idempotency
// keys are ignored.
func NewHandler(stock StockChecker, orders OrderWriter, guard SubmissionGuard, enricher Enricher, logger *zap.Logger) *Handler {
	return &Handler{
		stock:    stock,
		orders:   orders,
		guard:    guard,
		enricher: enricher,
		tracer:   otel.Tracer("github.com/example/ec-order-saga/internal/command"),
		logger:   logger.Named("gateway"),
	}
}

// PlaceOrder pre-checks availability item by item, then persists a Pending
// order together with its order-created fact. The returned order is Pending;
// the reservation worker decides its fate.
func (h *Handler) PlaceOrder(ctx context.Context, cmd PlaceOrder) (*PlaceOrderResult, error) {
	ctx, span := h.tracer.Start(ctx, "gateway.place_order",
		trace.WithAttributes(
			attribute.String("customer.id", cmd.CustomerID),
			attribute.Int("order.items", len(cmd.Items))))
	defer span.End()

	res, err := h.placeOrder(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", res.Order.ID))
	return res, nil
}

func (h *Handler) placeOrder(ctx context.Context, cmd PlaceOrder) (*PlaceOrderResult, error) {
	o, err := order.New(cmd.CustomerID, cmd.Items)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	key := ""
	if cmd.IdempotencyKey != "" && h.guard != nil {
		key = cmd.CustomerID + ":" + cmd.IdempotencyKey
		replay, err := h.claim(ctx, key)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			return replay, nil
		}
	}

	if err := h.submit(ctx, o); err != nil {
		if key != "" {
			gctx, cancel := guardContext(ctx)
			relErr := h.guard.Release(gctx, key)
			cancel()
			if relErr != nil {
				h.logger.Warn("failed to release submission key", zap.Error(relErr))
			}
		}
		return nil, err
	}

	if key != "" {
		gctx, cancel := guardContext(ctx)
		err := h.guard.Complete(gctx, key, o.ID)
		cancel()
		if err != nil {
			h.logger.Warn("failed to record submission key",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	h.logger.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.Int("items", len(o.Items)))

	return &PlaceOrderResult{Order: h.enricher.Enrich(ctx, o)}, nil
}

// guardContext outlives the request so a cancelled caller does not leave its
// key held.
func guardContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), guardTimeout)
}

// claim returns a replay result when key already produced an order.
func (h *Handler) claim(ctx context.Context, key string) (*PlaceOrderResult, error) {
	claimed, existingID, err := h.guard.Claim(ctx, key)
	if err != nil {
		// Fail open: a retry may then create a second order.
		h.logger.Warn("submission guard unavailable", zap.Error(err))
		return nil, nil
	}
	if claimed {
		return nil, nil
	}
	if existingID == "" {
		return nil, ErrDuplicateSubmission
	}

	existing, err := h.orders.GetOrder(ctx, existingID)
	if err != nil {
		return nil, fmt.Errorf("load order %s for replayed submission: %w", existingID, err)
	}
	h.logger.Info("replayed submission", zap.String("order_id", existingID))
	return &PlaceOrderResult{Order: h.enricher.Enrich(ctx, existing), Replayed: true}, nil
}

func (h *Handler) submit(ctx context.Context, o *order.Order) error {
	// Advisory only: nothing is reserved here.
	for _, item := range o.Items {
		if _, err := h.stock.Check(ctx, item.ProductID, item.Quantity); err != nil {
			h.logger.Info("pre-check refused order",
				zap.String("order_id", o.ID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
			return err
		}
	}

	items := make([]events.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, events.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	rec, err := outbox.NewRecord(ctx, events.OrderCreated{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Items:      items,
	})
	if err != nil {
		return err
	}

	if err := h.orders.CreateOrder(ctx, o, rec); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}
	return nil
}
