package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/messaging"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafkago.Message
	committed []kafkago.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func testOrder(id string) domain.OrderMessage {
	return domain.OrderMessage{
		OrderID:       id,
		CustomerEmail: "ana@example.com",
		Items:         []domain.LineItem{{ProductName: "Comic", ProductSlug: "comic", Amount: 4300}},
		Total:         4300,
		PaymentMethod: domain.PaymentMethodCard,
	}
}

func TestPublisherKeysByOrderID(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{w: w}

	id, err := p.Publish(context.Background(), testOrder("pi_1"))
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "pi_1", string(m.Key))
	assert.Equal(t, id, header(m, messaging.HeaderDeliveryID))
	assert.Equal(t, messaging.EventOrderCreated, header(m, messaging.HeaderEventType))

	decoded, err := messaging.Decode(m.Value)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", decoded.OrderID)
}

func TestPublisherSurfacesWriteFailure(t *testing.T) {
	p := &Publisher{w: &fakeWriter{err: errors.New("not enough replicas")}}

	_, err := p.Publish(context.Background(), testOrder("pi_1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pi_1")

	_, err = p.Publish(context.Background(), domain.OrderMessage{})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestConsumerCommitsAfterDeadLetter(t *testing.T) {
	payload, err := messaging.Encode(testOrder("pi_1"))
	require.NoError(t, err)

	r := &fakeReader{queue: []kafkago.Message{
		{Topic: "orders", Partition: 0, Offset: 7, Key: []byte("pi_1"), Value: payload},
		{Topic: "orders", Partition: 0, Offset: 8, Key: []byte("pi_x"), Value: []byte("garbage")},
	}}
	dlq := &fakeWriter{}

	calls := 0
	sub := messaging.Subscription{
		Name: messaging.SubscriptionSendConfirmation,
		Handler: func(context.Context, domain.OrderMessage) error {
			calls++
			return errors.New("mail rejected")
		},
		Retry: messaging.RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
	c := &Consumer{
		readers: []subscriptionReader{{sub: sub, r: r}},
		sink:    &DeadLetterWriter{w: dlq},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return r.commits() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 5, calls)
	assert.True(t, r.closed)

	require.Len(t, dlq.msgs, 2)
	first := dlq.msgs[0]
	assert.Equal(t, "pi_1", string(first.Key))
	assert.Equal(t, "orders/0/7", header(first, messaging.HeaderDeliveryID))
	assert.Equal(t, messaging.SubscriptionSendConfirmation, header(first, messaging.HeaderSubscription))
	assert.Equal(t, "5", header(first, messaging.HeaderAttempts))
	assert.Contains(t, header(first, messaging.HeaderError), "mail rejected")

	assert.Equal(t, "0", header(dlq.msgs[1], messaging.HeaderAttempts))
	assert.Equal(t, []byte("garbage"), dlq.msgs[1].Value)
}

func TestConsumerLeavesOffsetOnShutdown(t *testing.T) {
	payload, err := messaging.Encode(testOrder("pi_1"))
	require.NoError(t, err)
	r := &fakeReader{queue: []kafkago.Message{{Key: []byte("pi_1"), Value: payload}}}

	ctx, cancel := context.WithCancel(context.Background())
	sub := messaging.Subscription{
		Name: messaging.SubscriptionProcessOrders,
		Handler: func(context.Context, domain.OrderMessage) error {
			cancel()
			return errors.New("database unavailable")
		},
		Retry: messaging.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
	}
	c := &Consumer{
		readers: []subscriptionReader{{sub: sub, r: r}},
		sink:    messaging.LogSink{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	require.NoError(t, c.Run(ctx))
	assert.Zero(t, r.commits())
}
