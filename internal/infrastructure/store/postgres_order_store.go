package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ec-order-saga/internal/domain/order"
	"github.com/example/ec-order-saga/internal/outbox"
)

// PostgresOrderStore keeps orders, their items and the order outbox in PostgreSQL.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

// Migrate creates the order schema if it does not exist.
func (s *PostgresOrderStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			customer_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('Pending', 'Confirmed', 'Rejected')),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			product_id BIGINT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		outboxSchema,
		outboxPendingIndex,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresOrderStore) CreateOrder(ctx context.Context, o *order.Order, rec outbox.Record) error {
	headers, err := encodeHeaders(rec.Headers)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.CustomerID, string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, position, product_id, quantity)
			 VALUES ($1, $2, $3, $4, $5)`,
			item.ID, o.ID, i, item.ProductID, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (id, topic, message_key, payload, headers, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Topic, rec.Key, string(rec.Payload), headers, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox record: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresOrderStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	o := &order.Order{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, status, created_at, updated_at FROM orders WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.CustomerID, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, order.ErrOrderNotFound
		}
		return nil, err
	}
	o.Status = order.Status(status)

	items, err := s.itemsFor(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (s *PostgresOrderStore) ListOrders(ctx context.Context) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, status, created_at, updated_at
		 FROM orders
		 ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*order.Order
	var ids []string
	for rows.Next() {
		o := &order.Order{}
		var status string
		if err := rows.Scan(&o.ID, &o.CustomerID, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Status = order.Status(status)
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := s.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, nil
}

func (s *PostgresOrderStore) itemsFor(ctx context.Context, orderIDs []string) (map[string][]order.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity
		 FROM order_items
		 WHERE order_id = ANY($1::uuid[])
		 ORDER BY order_id, position`,
		pq.Array(orderIDs),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]order.OrderItem, len(orderIDs))
	for rows.Next() {
		var item order.OrderItem
		var orderID string
		if err := rows.Scan(&item.ID, &orderID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		items[orderID] = append(items[orderID], item)
	}
	return items, rows.Err()
}

func (s *PostgresOrderStore) TransitionStatus(ctx context.Context, id string, target order.Status) (order.Status, bool, error) {
	if !target.IsTerminal() {
		return "", false, order.TransitionError(order.StatusPending, target)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		string(target), time.Now().UTC(), id, string(order.StatusPending),
	)
	if err != nil {
		if isInvalidUUID(err) {
			return "", false, order.ErrOrderNotFound
		}
		return "", false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if n == 1 {
		return target, true, nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, order.ErrOrderNotFound
	}
	if err != nil {
		return "", false, err
	}
	return order.Status(current), false, nil
}

func (s *PostgresOrderStore) RelayBatch(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, selectPendingOutbox, limit)
	if err != nil {
		return 0, err
	}
	var pending []outbox.Record
	for rows.Next() {
		var rec outbox.Record
		var payload, headers []byte
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Key, &payload, &headers, &rec.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		rec.Payload = payload
		if rec.Headers, err = decodeHeaders(headers); err != nil {
			rows.Close()
			return 0, err
		}
		pending = append(pending, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, outbox.ErrNothingToRelay
	}

	sent := make([]string, 0, len(pending))
	var publishErr error
	for _, rec := range pending {
		if publishErr = publish(ctx, rec); publishErr != nil {
			break
		}
		sent = append(sent, rec.ID)
	}

	if len(sent) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE outbox SET sent_at = NOW() WHERE id = ANY($1::uuid[])`,
			pq.Array(sent),
		)
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(sent), publishErr
}

// isInvalidUUID reports a malformed id, which can never name an existing order.
func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
