package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/events"
	"github.com/example/ec-order-saga/internal/outbox"
)

func newTestOrderStore(t *testing.T) *PostgresOrderStore {
	t.Helper()
	url := os.Getenv("TEST_ORDERS_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_ORDERS_DATABASE_URL not set")
	}

	db, err := ConnectPostgres(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewPostgresOrderStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	_, err = db.Exec(`TRUNCATE orders, order_items, outbox`)
	require.NoError(t, err)
	return s
}

func newPlacedOrder(t *testing.T) (*order.Order, outbox.Record) {
	t.Helper()
	o, err := order.New("customer-1", []order.ItemRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	})
	require.NoError(t, err)

	rec, err := outbox.NewRecord(context.Background(), events.OrderCreated{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Items:      []events.OrderItem{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}},
	})
	require.NoError(t, err)
	return o, rec
}

// ============================================
// Order Persistence Tests
// ============================================

func TestPostgresOrderStore_CreateAndGet(t *testing.T) {
	s := newTestOrderStore(t)
	ctx := context.Background()
	o, rec := newPlacedOrder(t)

	require.NoError(t, s.CreateOrder(ctx, o, rec))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, "customer-1", got.CustomerID)
	require.Len(t, got.Items, 2)
	assert.Equal(t, o.Items[0].ID, got.Items[0].ID)
	assert.Equal(t, int64(2), got.Items[1].ProductID)

	list, err := s.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPostgresOrderStore_GetUnknown(t *testing.T) {
	s := newTestOrderStore(t)

	_, err := s.GetOrder(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = s.GetOrder(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

// ============================================
// Status Fence Tests
// ============================================

func TestPostgresOrderStore_TransitionIsMonotonic(t *testing.T) {
	s := newTestOrderStore(t)
	ctx := context.Background()
	o, rec := newPlacedOrder(t)
	require.NoError(t, s.CreateOrder(ctx, o, rec))

	current, changed, err := s.TransitionStatus(ctx, o.ID, order.StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, order.StatusConfirmed, current)

	current, changed, err = s.TransitionStatus(ctx, o.ID, order.StatusRejected)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, order.StatusConfirmed, current)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)
}

func TestPostgresOrderStore_ConcurrentTransitionsSingleWinner(t *testing.T) {
	s := newTestOrderStore(t)
	ctx := context.Background()
	o, rec := newPlacedOrder(t)
	require.NoError(t, s.CreateOrder(ctx, o, rec))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 8; i++ {
		target := order.StatusConfirmed
		if i%2 == 1 {
			target = order.StatusRejected
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.TransitionStatus(ctx, o.ID, target)
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestPostgresOrderStore_TransitionUnknown(t *testing.T) {
	s := newTestOrderStore(t)

	_, _, err := s.TransitionStatus(context.Background(), "00000000-0000-0000-0000-000000000000", order.StatusConfirmed)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

// ============================================
// Outbox Tests
// ============================================

func TestPostgresOrderStore_RelayBatch(t *testing.T) {
	s := newTestOrderStore(t)
	ctx := context.Background()
	o, rec := newPlacedOrder(t)
	require.NoError(t, s.CreateOrder(ctx, o, rec))

	var published []outbox.Record
	n, err := s.RelayBatch(ctx, 10, func(ctx context.Context, r outbox.Record) error {
		published = append(published, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, published, 1)
	assert.Equal(t, events.QueueOrderCreated, published[0].Topic)
	assert.Equal(t, o.ID, published[0].Key)
	assert.Equal(t, events.KindOrderCreated, published[0].Headers["event-kind"])

	var decoded events.OrderCreated
	_, err = events.Decode(published[0].Payload, &decoded)
	require.NoError(t, err)
	assert.Equal(t, o.ID, decoded.OrderID)

	_, err = s.RelayBatch(ctx, 10, func(ctx context.Context, r outbox.Record) error { return nil })
	assert.ErrorIs(t, err, outbox.ErrNothingToRelay)
}
