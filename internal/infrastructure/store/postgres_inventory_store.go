package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/example/ec-order-saga/internal/domain/inventory"
	"github.com/example/ec-order-saga/internal/outbox"
)

// PostgresInventoryStore keeps products, the processed-event ledger and the
// inventory outbox in PostgreSQL.
type PostgresInventoryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresInventoryStore(pool *pgxpool.Pool) *PostgresInventoryStore {
	return &PostgresInventoryStore{pool: pool}
}

func (s *PostgresInventoryStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS processed_events (
			order_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (order_id, stage)
		)`,
		outboxSchema,
		outboxPendingIndex,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

const productColumns = `id, name, description, price::text, quantity, updated_at`

func scanProduct(row pgx.Row) (inventory.Product, error) {
	var p inventory.Product
	var price string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Quantity, &p.UpdatedAt); err != nil {
		return inventory.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return inventory.Product{}, fmt.Errorf("product %d price %q: %w", p.ID, price, err)
	}
	p.Price = d
	return p, nil
}

func (s *PostgresInventoryStore) GetProduct(ctx context.Context, id int64) (*inventory.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PostgresInventoryStore) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []inventory.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresInventoryStore) CreateProduct(ctx context.Context, p *inventory.Product) error {
	p.UpdatedAt = time.Now().UTC()
	return s.pool.QueryRow(ctx,
		`INSERT INTO products (name, description, price, quantity, updated_at)
		 VALUES ($1, $2, $3::numeric, $4, $5)
		 RETURNING id`,
		p.Name, p.Description, p.Price.String(), p.Quantity, p.UpdatedAt,
	).Scan(&p.ID)
}

func (s *PostgresInventoryStore) UpdateProduct(ctx context.Context, p *inventory.Product) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE products
		 SET name = $2, description = $3, price = $4::numeric, quantity = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Quantity, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (s *PostgresInventoryStore) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (s *PostgresInventoryStore) WithinReservation(ctx context.Context, orderID string, fn func(ctx context.Context, tx ReservationTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// A concurrent duplicate blocks on the primary key here until the first
	// transaction finishes, then sees the conflict.
	tag, err := tx.Exec(ctx,
		`INSERT INTO processed_events (order_id, stage) VALUES ($1, $2)
		 ON CONFLICT (order_id, stage) DO NOTHING`,
		orderID, StageReservation,
	)
	if err != nil {
		return fmt.Errorf("record processed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}

	if err := fn(ctx, &pgReservationTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgReservationTx struct {
	tx pgx.Tx
}

func (r *pgReservationTx) LockProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 WHERE id = ANY($1)
		 ORDER BY id
		 FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locked := make(map[int64]inventory.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		locked[p.ID] = p
	}
	return locked, rows.Err()
}

func (r *pgReservationTx) Decrement(ctx context.Context, productID int64, qty int) (int, error) {
	var newStock int
	err := r.tx.QueryRow(ctx,
		`UPDATE products
		 SET quantity = quantity - $2, updated_at = NOW()
		 WHERE id = $1 AND quantity >= $2
		 RETURNING quantity`,
		productID, qty,
	).Scan(&newStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("product %d: %w", productID, inventory.ErrInsufficientStock)
	}
	return newStock, err
}

func (r *pgReservationTx) Enqueue(ctx context.Context, rec outbox.Record) error {
	return insertOutbox(ctx, r.tx, rec)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, rec outbox.Record) error {
	headers, err := encodeHeaders(rec.Headers)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox (id, topic, message_key, payload, headers, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)`,
		rec.ID, rec.Topic, rec.Key, string(rec.Payload), headers, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox record: %w", err)
	}
	return nil
}

func (s *PostgresInventoryStore) RelayBatch(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectPendingOutbox, limit)
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
		if _, err := tx.Exec(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id = ANY($1::uuid[])`, sent); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(sent), publishErr
}
