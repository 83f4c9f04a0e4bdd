package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/outbox"
)

// MockOrderStore is an in-memory OrderStore with the same transition fence as
// the PostgreSQL implementation.
type MockOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	outbox memOutbox

	// For tracking calls in tests
	CreateOrderCalls []CreateOrderCall
	TransitionCalls  []TransitionCall
	CreateOrderErr   error
	GetOrderErr      error
	TransitionErr    error
}

// CreateOrderCall records parameters passed to CreateOrder
type CreateOrderCall struct {
	Order  order.Order
	Record outbox.Record
}

// TransitionCall records parameters passed to TransitionStatus
type TransitionCall struct {
	ID     string
	Target order.Status
}

func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{
		orders: make(map[string]*order.Order),
		outbox: newMemOutbox(),
	}
}

func (m *MockOrderStore) CreateOrder(ctx context.Context, o *order.Order, rec outbox.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateOrderCalls = append(m.CreateOrderCalls, CreateOrderCall{Order: *copyOrder(o), Record: rec})
	if m.CreateOrderErr != nil {
		return m.CreateOrderErr
	}

	m.orders[o.ID] = copyOrder(o)
	m.outbox.add(rec)
	return nil
}

func (m *MockOrderStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetOrderErr != nil {
		return nil, m.GetOrderErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MockOrderStore) ListOrders(ctx context.Context) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetOrderErr != nil {
		return nil, m.GetOrderErr
	}
	out := make([]*order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockOrderStore) TransitionStatus(ctx context.Context, id string, target order.Status) (order.Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TransitionCalls = append(m.TransitionCalls, TransitionCall{ID: id, Target: target})
	if m.TransitionErr != nil {
		return "", false, m.TransitionErr
	}
	if !target.IsTerminal() {
		return "", false, order.TransitionError(order.StatusPending, target)
	}

	o, ok := m.orders[id]
	if !ok {
		return "", false, order.ErrOrderNotFound
	}
	if o.Status != order.StatusPending {
		return o.Status, false, nil
	}
	o.Status = target
	o.UpdatedAt = time.Now().UTC()
	return target, true, nil
}

func (m *MockOrderStore) RelayBatch(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outbox.relay(ctx, limit, publish)
}

// SetOrder stores o directly for testing
func (m *MockOrderStore) SetOrder(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = copyOrder(o)
}

// Outbox returns every record ever enqueued, sent or not.
func (m *MockOrderStore) Outbox() []outbox.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outbox.all()
}

func (m *MockOrderStore) PendingOutbox() []outbox.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outbox.pending()
}

// Reset clears all state and recorded calls
func (m *MockOrderStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make(map[string]*order.Order)
	m.outbox = newMemOutbox()
	m.CreateOrderCalls = nil
	m.TransitionCalls = nil
	m.CreateOrderErr = nil
	m.GetOrderErr = nil
	m.TransitionErr = nil
}

func copyOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = append([]order.OrderItem(nil), o.Items...)
	return &c
}
