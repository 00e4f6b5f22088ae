package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
)

// Persister records orders exactly once in effect.
type Persister struct {
	store Store
	log   *slog.Logger
}

// NewPersister creates a Persister.
func NewPersister(store Store, log *slog.Logger) *Persister {
	if log == nil {
		log = slog.Default()
	}
	return &Persister{store: store, log: log}
}

// Handle stores the order and marks it processed. A redelivered order hits
// the unique order id and is resolved without a second record; any other
// storage error is returned for redelivery.
func (p *Persister) Handle(ctx context.Context, order domain.OrderMessage) error {
	log := p.log.With("order_id", order.OrderID)
	log.Info("Processing order")

	created, err := p.store.Insert(ctx, order)
	if err != nil {
		return fmt.Errorf("persist order %s: %w", order.OrderID, err)
	}
	if !created {
		log.Info("Order already stored, ignoring duplicate")
	}

	if err := p.store.MarkProcessed(ctx, order.OrderID); err != nil {
		return fmt.Errorf("mark order %s processed: %w", order.OrderID, err)
	}
	log.Info("Order saved to database")
	return nil
}
