package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/orders"
)

const insertOrder = `
	INSERT INTO orders (order_id, message_payload)
	VALUES ($1, $2)
	ON CONFLICT (order_id) DO NOTHING`

// OrderStore implements orders.Store and orders.Reader.
type OrderStore struct {
	db *pgxpool.Pool
}

// NewOrderStore creates an OrderStore.
func NewOrderStore(db *pgxpool.Pool) *OrderStore {
	return &OrderStore{db: db}
}

var (
	_ orders.Store  = (*OrderStore)(nil)
	_ orders.Reader = (*OrderStore)(nil)
)

func (s *OrderStore) Insert(ctx context.Context, order domain.OrderMessage) (bool, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return false, fmt.Errorf("encode order %s: %w", order.OrderID, err)
	}
	tag, err := s.db.Exec(ctx, insertOrder, order.OrderID, payload)
	if err != nil {
		return false, fmt.Errorf("insert order %s: %w", order.OrderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *OrderStore) MarkProcessed(ctx context.Context, orderID string) error {
	_, err := s.db.Exec(ctx, `UPDATE orders SET processed = TRUE WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", orderID, err)
	}
	return nil
}

func (s *OrderStore) MarkConfirmed(ctx context.Context, order domain.OrderMessage) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.OrderID, err)
	}
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertOrder, order.OrderID, payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE orders SET confirmed = TRUE WHERE order_id = $1`, order.OrderID)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark confirmed %s: %w", order.OrderID, err)
	}
	return nil
}

func (s *OrderStore) IsConfirmed(ctx context.Context, orderID string) (bool, error) {
	var confirmed bool
	err := s.db.QueryRow(ctx, `SELECT confirmed FROM orders WHERE order_id = $1`, orderID).Scan(&confirmed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read confirmed %s: %w", orderID, err)
	}
	return confirmed, nil
}

const selectRecord = `SELECT message_payload, processed, confirmed, created_at FROM orders`

func (s *OrderStore) Get(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, selectRecord+` WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OrderRecord{}, fmt.Errorf("%s: %w", orderID, orders.ErrNotFound)
	}
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return rec, nil
}

// FindByProductSlug returns the newest orders containing a product, using
// the GIN index on the payload.
func (s *OrderStore) FindByProductSlug(ctx context.Context, slug string, limit int) ([]domain.OrderRecord, error) {
	filter, err := json.Marshal(map[string]any{
		"items": []map[string]string{{"productSlug": slug}},
	})
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		selectRecord+` WHERE message_payload @> $1::jsonb ORDER BY created_at DESC LIMIT $2`,
		string(filter), limit)
	if err != nil {
		return nil, fmt.Errorf("find orders for %s: %w", slug, err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (domain.OrderRecord, error) {
	var (
		rec     domain.OrderRecord
		payload []byte
	)
	if err := row.Scan(&payload, &rec.Processed, &rec.Confirmed, &rec.CreatedAt); err != nil {
		return domain.OrderRecord{}, err
	}
	if err := json.Unmarshal(payload, &rec.Order); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("decode payload: %w", err)
	}
	return rec, nil
}
