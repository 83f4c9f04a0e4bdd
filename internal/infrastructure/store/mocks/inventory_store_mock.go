package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-order-saga/internal/domain/inventory"
	"github.com/example/ec-order-saga/internal/infrastructure/store"
	"github.com/example/ec-order-saga/internal/outbox"
)

// MockInventoryStore is an in-memory InventoryStore. Reservations are serialized
// by a single lock and applied all-or-nothing, like the PostgreSQL transaction.
type MockInventoryStore struct {
	mu       sync.RWMutex
	products map[int64]inventory.Product
	nextID   int64
	ledger   map[string]bool
	outbox   memOutbox

	// For tracking calls in tests
	ReservationCalls []string
	ReservationErr   error
	GetProductErr    error
}

func NewMockInventoryStore() *MockInventoryStore {
	return &MockInventoryStore{
		products: make(map[int64]inventory.Product),
		nextID:   1,
		ledger:   make(map[string]bool),
		outbox:   newMemOutbox(),
	}
}

func ledgerKey(orderID, stage string) string {
	return orderID + "/" + stage
}

func (m *MockInventoryStore) GetProduct(ctx context.Context, id int64) (*inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetProductErr != nil {
		return nil, m.GetProductErr
	}
	p, ok := m.products[id]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	return &p, nil
}

func (m *MockInventoryStore) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]inventory.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockInventoryStore) CreateProduct(ctx context.Context, p *inventory.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.nextID
	m.nextID++
	p.UpdatedAt = time.Now().UTC()
	m.products[p.ID] = *p
	return nil
}

func (m *MockInventoryStore) UpdateProduct(ctx context.Context, p *inventory.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[p.ID]; !ok {
		return inventory.ErrProductNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	m.products[p.ID] = *p
	return nil
}

func (m *MockInventoryStore) DeleteProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return inventory.ErrProductNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *MockInventoryStore) WithinReservation(ctx context.Context, orderID string, fn func(ctx context.Context, tx store.ReservationTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReservationCalls = append(m.ReservationCalls, orderID)
	if m.ReservationErr != nil {
		return m.ReservationErr
	}

	key := ledgerKey(orderID, store.StageReservation)
	if m.ledger[key] {
		return store.ErrAlreadyProcessed
	}

	tx := &memReservationTx{
		products: make(map[int64]inventory.Product, len(m.products)),
	}
	for id, p := range m.products {
		tx.products[id] = p
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.ledger[key] = true
	m.products = tx.products
	for _, rec := range tx.enqueued {
		m.outbox.add(rec)
	}
	return nil
}

type memReservationTx struct {
	products map[int64]inventory.Product
	enqueued []outbox.Record
}

func (t *memReservationTx) LockProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	out := make(map[int64]inventory.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memReservationTx) Decrement(ctx context.Context, productID int64, qty int) (int, error) {
	p, ok := t.products[productID]
	if !ok || p.Quantity < qty {
		return 0, fmt.Errorf("product %d: %w", productID, inventory.ErrInsufficientStock)
	}
	p.Quantity -= qty
	p.UpdatedAt = time.Now().UTC()
	t.products[productID] = p
	return p.Quantity, nil
}

func (t *memReservationTx) Enqueue(ctx context.Context, rec outbox.Record) error {
	t.enqueued = append(t.enqueued, rec)
	return nil
}

func (m *MockInventoryStore) RelayBatch(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outbox.relay(ctx, limit, publish)
}

// SetProduct stores p directly for testing
func (m *MockInventoryStore) SetProduct(p inventory.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	if p.ID >= m.nextID {
		m.nextID = p.ID + 1
	}
}

// Processed reports whether the ledger holds the reservation of orderID.
func (m *MockInventoryStore) Processed(orderID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger[ledgerKey(orderID, store.StageReservation)]
}

func (m *MockInventoryStore) Outbox() []outbox.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outbox.all()
}

func (m *MockInventoryStore) PendingOutbox() []outbox.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outbox.pending()
}

// Reset clears all state and recorded calls
func (m *MockInventoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = make(map[int64]inventory.Product)
	m.nextID = 1
	m.ledger = make(map[string]bool)
	m.outbox = newMemOutbox()
	m.ReservationCalls = nil
	m.ReservationErr = nil
	m.GetProductErr = nil
}
