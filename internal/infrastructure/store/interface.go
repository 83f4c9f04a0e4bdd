package store

import (
	"context"
	"errors"

	"github.com/example/ec-order-saga/internal/domain/inventory"
	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/outbox"
)

// ErrAlreadyProcessed reports that the processed-event ledger already holds the
// delivery; nothing was changed.
var ErrAlreadyProcessed = errors.New("event already processed")

// StageReservation is the ledger stage recorded when an order-created fact is applied.
const StageReservation = "reservation"

// OrderStore is the persistence boundary of the order service.
type OrderStore interface {
	outbox.Store

	// CreateOrder persists a Pending order with its items and the outbox record
	// announcing it, atomically.
	CreateOrder(ctx context.Context, o *order.Order, rec outbox.Record) error

	GetOrder(ctx context.Context, id string) (*order.Order, error)

	// ListOrders returns all orders, newest first.
	ListOrders(ctx context.Context) ([]*order.Order, error)

	// TransitionStatus moves a Pending order to target. When the order is already
	// terminal nothing changes and the current status is returned with changed=false.
	// It returns order.ErrOrderNotFound for unknown ids.
	TransitionStatus(ctx context.Context, id string, target order.Status) (current order.Status, changed bool, err error)
}

// InventoryStore is the persistence boundary of the inventory service.
type InventoryStore interface {
	outbox.Store

	GetProduct(ctx context.Context, id int64) (*inventory.Product, error)
	ListProducts(ctx context.Context) ([]inventory.Product, error)

	// CreateProduct inserts p and sets its ID.
	CreateProduct(ctx context.Context, p *inventory.Product) error
	UpdateProduct(ctx context.Context, p *inventory.Product) error
	DeleteProduct(ctx context.Context, id int64) error

	// WithinReservation runs fn in a single transaction that first records
	// (orderID, StageReservation) in the processed-event ledger. If the ledger
	// already holds the pair fn is not called and ErrAlreadyProcessed is returned.
	// Any error from fn rolls everything back, the ledger row included.
	WithinReservation(ctx context.Context, orderID string, fn func(ctx context.Context, tx ReservationTx) error) error
}

// ReservationTx is the view of the inventory store inside a reservation.
type ReservationTx interface {
	// LockProducts locks the given products in ascending id order and returns
	// those that exist.
	LockProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error)

	// Decrement lowers a product's stock by qty only if at least qty is on hand,
	// returning the new stock. It returns inventory.ErrInsufficientStock otherwise.
	Decrement(ctx context.Context, productID int64, qty int) (int, error)

	Enqueue(ctx context.Context, rec outbox.Record) error
}
