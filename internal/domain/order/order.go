package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusRejected  Status = "Rejected"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrEmptyOrder       = errors.New("order must have at least one item")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidProduct   = errors.New("product id must be positive")
	ErrMissingCustomer  = errors.New("customer id is required")
	ErrInvalidStatus    = errors.New("invalid order status transition")
	ErrAlreadyConfirmed = errors.New("order is already confirmed")
	ErrAlreadyRejected  = errors.New("order is already rejected")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected},
	StatusConfirmed: {}, // terminal state
	StatusRejected:  {}, // terminal state
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	allowed, exists := validTransitions[s]
	return exists && len(allowed) == 0
}

func (s Status) Valid() bool {
	_, exists := validTransitions[s]
	return exists
}

type OrderItem struct {
	ID        string `json:"id"`
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId"`
	Status     Status      `json:"status"`
	Items      []OrderItem `json:"items"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// ItemRequest is one requested line before it is assigned an id.
type ItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// ValidateItems checks the request-level invariants shared by the gateway and the store.
func ValidateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return ErrEmptyOrder
	}
	for i, item := range items {
		if item.ProductID <= 0 {
			return fmt.Errorf("item %d: %w", i, ErrInvalidProduct)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: %w", i, ErrInvalidQuantity)
		}
	}
	return nil
}

// New builds a Pending order with fresh ids for the order and each of its items.
func New(customerID string, items []ItemRequest) (*Order, error) {
	if customerID == "" {
		return nil, ErrMissingCustomer
	}
	if err := ValidateItems(items); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Status:     StatusPending,
		Items:      make([]OrderItem, 0, len(items)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, item := range items {
		o.Items = append(o.Items, OrderItem{
			ID:        uuid.New().String(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return o, nil
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	return CanTransition(o.Status, target)
}

func CanTransition(from, to Status) bool {
	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError returns an appropriate error for an invalid transition
func TransitionError(from, to Status) error {
	switch {
	case from == StatusConfirmed:
		return ErrAlreadyConfirmed
	case from == StatusRejected:
		return ErrAlreadyRejected
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, from, to)
	}
}

// Transition moves the order to target, enforcing Pending -> terminal exactly once.
func (o *Order) Transition(target Status) error {
	if !o.CanTransitionTo(target) {
		return TransitionError(o.Status, target)
	}
	o.Status = target
	o.UpdatedAt = time.Now().UTC()
	return nil
}
