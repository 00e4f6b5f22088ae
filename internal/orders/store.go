// Package orders holds the two order channel subscribers: persistence and
// confirmation notification. Each one owns a single flag on the order record.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
)

// ErrNotFound is returned when no record exists for an order id.
var ErrNotFound = errors.New("order not found")

// Store is the order record storage. All flag updates are point updates by
// order id.
type Store interface {
	// Insert creates the record with both flags false. It reports false,
	// without error, when a record for the order id already exists.
	Insert(ctx context.Context, order domain.OrderMessage) (bool, error)
	MarkProcessed(ctx context.Context, orderID string) error
	// MarkConfirmed sets confirmed, creating the record first if the
	// persistence subscriber has not stored it yet.
	MarkConfirmed(ctx context.Context, order domain.OrderMessage) error
	IsConfirmed(ctx context.Context, orderID string) (bool, error)
}

// Reader serves operational lookups over order records.
type Reader interface {
	Get(ctx context.Context, orderID string) (domain.OrderRecord, error)
	FindByProductSlug(ctx context.Context, slug string, limit int) ([]domain.OrderRecord, error)
}

// Claims is the short-lived claim store guarding confirmation sends.
type Claims interface {
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
	Held(ctx context.Context, key string) (bool, error)
}
