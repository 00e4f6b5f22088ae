// Package memory is an in-process order channel used when Kafka is not
// configured, and in tests. Each subscription gets its own copy of every
// message and its own worker.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/messaging"
)

// ErrClosed is returned by Publish after Close or once Run has stopped.
var ErrClosed = errors.New("memory channel closed")

const defaultBuffer = 1024

// DrainTimeout bounds how long Run keeps delivering queued messages after
// its context is done.
const DrainTimeout = 10 * time.Second

type subscriber struct {
	sub   messaging.Subscription
	queue chan messaging.Delivery
}

// Channel is an in-process messaging.Publisher with at-least-once fan-out to
// its subscriptions. Messages are not durable across restarts.
type Channel struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool

	sink messaging.DeadLetterSink
	log  *slog.Logger
	wg   sync.WaitGroup
}

// New creates a Channel. A nil sink logs dead letters.
func New(sink messaging.DeadLetterSink, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = messaging.LogSink{Logger: log}
	}
	return &Channel{sink: sink, log: log}
}

// Subscribe registers a subscription. It must be called before Run.
func (c *Channel) Subscribe(sub messaging.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, &subscriber{sub: sub, queue: make(chan messaging.Delivery, defaultBuffer)})
}

// Publish enqueues the order for every subscription.
func (c *Channel) Publish(ctx context.Context, order domain.OrderMessage) (string, error) {
	if err := order.Validate(); err != nil {
		return "", err
	}
	payload, err := messaging.Encode(order)
	if err != nil {
		return "", err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	for _, s := range c.subs {
		d := messaging.Delivery{ID: id, Key: order.OrderID, Payload: payload}
		select {
		case s.queue <- d:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return id, nil
}

// Run starts one worker per subscription and blocks until ctx is done.
// It then rejects further publishes and delivers what is already queued,
// for at most DrainTimeout, before returning.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.RLock()
	subs := append([]*subscriber(nil), c.subs...)
	c.mu.RUnlock()

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stop := make(chan struct{})

	for _, s := range subs {
		c.wg.Add(1)
		go func(s *subscriber) {
			defer c.wg.Done()
			c.consume(workCtx, stop, s)
		}(s)
	}
	c.log.Info("Memory order channel started", "subscriptions", len(subs))

	<-ctx.Done()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(stop)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DrainTimeout):
		cancelWork()
		<-done
	}

	for _, s := range subs {
		if n := len(s.queue); n > 0 {
			c.log.Error("Undelivered orders dropped at shutdown", "subscription", s.sub.Name, "count", n)
		}
	}
	return nil
}

func (c *Channel) consume(ctx context.Context, stop <-chan struct{}, s *subscriber) {
	for {
		select {
		case <-stop:
			c.drain(ctx, s)
			return
		case d := <-s.queue:
			if !c.deliver(ctx, s, d) {
				return
			}
		}
	}
}

func (c *Channel) drain(ctx context.Context, s *subscriber) {
	for {
		select {
		case d := <-s.queue:
			if !c.deliver(ctx, s, d) {
				return
			}
		default:
			return
		}
	}
}

func (c *Channel) deliver(ctx context.Context, s *subscriber, d messaging.Delivery) bool {
	if err := messaging.Process(ctx, s.sub, c.sink, c.log, d); err != nil {
		c.log.Warn("Delivery interrupted", "subscription", s.sub.Name, "delivery_id", d.ID, "error", err)
		return false
	}
	return true
}

// Close rejects further publishes.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
