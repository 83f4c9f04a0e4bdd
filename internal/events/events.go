// Package events defines the versioned wire contracts exchanged over the event channel.
//
// Every message is an Envelope tagged with a kind and a schema version. Consumers
// decode with the kind they expect and refuse anything else, so a producer that
// changes shape without bumping the version is caught at the first delivery.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue names. Each is consumed by exactly one logical worker role.
const (
	QueueOrderCreated  = "order-created"
	QueueStockUpdated  = "stock-updated"
	QueueOrderRejected = "order-rejected"
)

const (
	KindOrderCreated  = "OrderCreated"
	KindStockUpdated  = "StockUpdated"
	KindOrderRejected = "OrderRejected"
)

// SchemaVersion is the only payload version this build produces and accepts.
const SchemaVersion = 1

var (
	ErrMalformed          = errors.New("malformed event")
	ErrUnexpectedKind     = errors.New("unexpected event kind")
	ErrUnsupportedVersion = errors.New("unsupported event version")
	ErrInvalidPayload     = errors.New("invalid event payload")
)

type Envelope struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Version    int             `json:"version"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Payload is implemented by every fact type.
type Payload interface {
	Kind() string
	Queue() string
	// Key is the partitioning key; facts of one order share it.
	Key() string
	Validate() error
}

type OrderItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type OrderCreated struct {
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Items      []OrderItem `json:"items"`
}

func (OrderCreated) Kind() string { return KindOrderCreated }
func (OrderCreated) Queue() string { return QueueOrderCreated }
func (e OrderCreated) Key() string { return e.OrderID }

func (e OrderCreated) Validate() error {
	if e.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidPayload)
	}
	if len(e.Items) == 0 {
		return fmt.Errorf("%w: order %s has no items", ErrInvalidPayload, e.OrderID)
	}
	for i, item := range e.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return fmt.Errorf("%w: order %s item %d has productId=%d quantity=%d",
				ErrInvalidPayload, e.OrderID, i, item.ProductID, item.Quantity)
		}
	}
	return nil
}

type StockUpdated struct {
	OrderID         string `json:"orderId"`
	ProductID       int64  `json:"productId"`
	QuantityReduced int    `json:"quantityReduced"`
	NewStock        int    `json:"newStock"`
}

func (StockUpdated) Kind() string { return KindStockUpdated }
func (StockUpdated) Queue() string { return QueueStockUpdated }
func (e StockUpdated) Key() string { return e.OrderID }

func (e StockUpdated) Validate() error {
	switch {
	case e.OrderID == "":
		return fmt.Errorf("%w: orderId is required", ErrInvalidPayload)
	case e.ProductID <= 0:
		return fmt.Errorf("%w: productId must be positive", ErrInvalidPayload)
	case e.QuantityReduced <= 0:
		return fmt.Errorf("%w: quantityReduced must be positive", ErrInvalidPayload)
	case e.NewStock < 0:
		return fmt.Errorf("%w: newStock cannot be negative", ErrInvalidPayload)
	}
	return nil
}

type OrderRejected struct {
	OrderID           string `json:"orderId"`
	ProductID         int64  `json:"productId"`
	RequestedQuantity int    `json:"requestedQuantity"`
	AvailableQuantity int    `json:"availableQuantity"`
	Reason            string `json:"reason"`
}

func (OrderRejected) Kind() string { return KindOrderRejected }
func (OrderRejected) Queue() string { return QueueOrderRejected }
func (e OrderRejected) Key() string { return e.OrderID }

func (e OrderRejected) Validate() error {
	switch {
	case e.OrderID == "":
		return fmt.Errorf("%w: orderId is required", ErrInvalidPayload)
	case e.ProductID <= 0:
		return fmt.Errorf("%w: productId must be positive", ErrInvalidPayload)
	case e.RequestedQuantity <= 0:
		return fmt.Errorf("%w: requestedQuantity must be positive", ErrInvalidPayload)
	case e.AvailableQuantity < 0:
		return fmt.Errorf("%w: availableQuantity cannot be negative", ErrInvalidPayload)
	}
	return nil
}

// Encode validates p and wraps it in a freshly identified envelope.
func Encode(p Payload) (Envelope, []byte, error) {
	if err := p.Validate(); err != nil {
		return Envelope{}, nil, err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}

	env := Envelope{
		ID:         uuid.New().String(),
		Kind:       p.Kind(),
		Version:    SchemaVersion,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("marshal %s envelope: %w", p.Kind(), err)
	}
	return env, data, nil
}

// Decode parses data into into, which must be a pointer to the expected fact type.
// Unknown kinds, unknown versions and payloads failing validation are rejected.
func Decode(data []byte, into Payload) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Kind != into.Kind() {
		return env, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedKind, env.Kind, into.Kind())
	}
	if env.Version != SchemaVersion {
		return env, fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, env.Kind, env.Version)
	}
	if len(env.Payload) == 0 {
		return env, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := json.Unmarshal(env.Payload, into); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := into.Validate(); err != nil {
		return env, err
	}
	return env, nil
}
