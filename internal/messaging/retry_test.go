package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
)

var errSend = errors.New("mail provider rejected message")

type recordingSink struct {
	mu      sync.Mutex
	letters []DeadLetter
	fail    int
}

func (s *recordingSink) DeadLetter(_ context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("sink unavailable")
	}
	s.letters = append(s.letters, dl)
	return nil
}

func testDelivery(t *testing.T) Delivery {
	t.Helper()
	payload, err := Encode(domain.OrderMessage{
		OrderID:       "pi_1",
		CustomerEmail: "ana@example.com",
		Items:         []domain.LineItem{{ProductName: "Comic", ProductSlug: "comic", Amount: 4300}},
		Total:         4300,
	})
	require.NoError(t, err)
	return Delivery{ID: "dlv_1", Key: "pi_1", Payload: payload}
}

func fastPolicy(max int) RetryPolicy {
	return RetryPolicy{MaxAttempts: max, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestBackoffNeverBelowMinimum(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	assert.Equal(t, MinBackoff, p.Backoff(1))
	assert.Equal(t, MinBackoff, p.Backoff(5))
}

func TestWaitZeroDurationStillWaits(t *testing.T) {
	start := time.Now()
	require.NoError(t, Wait(context.Background(), 0))
	assert.GreaterOrEqual(t, time.Since(start), MinBackoff)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}

func TestDeliverSucceedsAfterRetry(t *testing.T) {
	calls := 0
	h := func(context.Context, domain.OrderMessage) error {
		calls++
		if calls < 3 {
			return errSend
		}
		return nil
	}

	attempts, err := Deliver(context.Background(), fastPolicy(5), h, testDelivery(t))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDeliverStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	h := func(context.Context, domain.OrderMessage) error {
		calls++
		return errSend
	}

	attempts, err := Deliver(context.Background(), fastPolicy(5), h, testDelivery(t))
	require.ErrorIs(t, err, ErrTerminal)
	require.ErrorIs(t, err, errSend)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, 5, calls)
}

func TestDeliverUndecodablePayloadIsTerminal(t *testing.T) {
	called := false
	h := func(context.Context, domain.OrderMessage) error {
		called = true
		return nil
	}

	attempts, err := Deliver(context.Background(), fastPolicy(5), h, Delivery{ID: "dlv_x", Payload: []byte("{not json")})
	require.ErrorIs(t, err, ErrTerminal)
	assert.Zero(t, attempts)
	assert.False(t, called)
}

func TestDeliverCancelledIsNotTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := func(context.Context, domain.OrderMessage) error {
		cancel()
		return errSend
	}

	_, err := Deliver(ctx, fastPolicy(5), h, testDelivery(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTerminal)
}

func TestProcessReportsTerminalFailure(t *testing.T) {
	calls := 0
	sub := Subscription{
		Name: SubscriptionSendConfirmation,
		Handler: func(context.Context, domain.OrderMessage) error {
			calls++
			return errSend
		},
		Retry: fastPolicy(5),
	}
	sink := &recordingSink{fail: 1}

	err := Process(context.Background(), sub, sink, quiet(), testDelivery(t))
	require.NoError(t, err)

	assert.Equal(t, 5, calls, "no sixth attempt")
	require.Len(t, sink.letters, 1)
	dl := sink.letters[0]
	assert.Equal(t, SubscriptionSendConfirmation, dl.Subscription)
	assert.Equal(t, 5, dl.Attempts)
	assert.Equal(t, "pi_1", dl.Delivery.Key)
	assert.ErrorIs(t, dl.Err, errSend)
}

func TestProcessSuccessSkipsSink(t *testing.T) {
	sub := Subscription{
		Name:    SubscriptionProcessOrders,
		Handler: func(context.Context, domain.OrderMessage) error { return nil },
		Retry:   fastPolicy(3),
	}
	sink := &recordingSink{}

	require.NoError(t, Process(context.Background(), sub, sink, quiet(), testDelivery(t)))
	assert.Empty(t, sink.letters)
}

func TestDecodeRejectsInvalidOrder(t *testing.T) {
	_, err := Decode([]byte(`{"orderId":"pi_1"}`))
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}
