package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTerminal wraps the last handler error once a delivery has used up its
// attempts.
var ErrTerminal = errors.New("delivery attempts exhausted")

// RetryPolicy bounds redelivery of a message to one subscription.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// MinBackoff is the shortest wait between attempts. It keeps a zero
// RETRY_BACKOFF from turning retries into a busy loop.
const MinBackoff = 10 * time.Millisecond

// DefaultRetryPolicy is used when a subscription sets no policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.InitialBackoff < MinBackoff {
		p.InitialBackoff = MinBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Backoff returns the wait before the given retry (attempt >= 1), doubling
// from InitialBackoff and capped at MaxBackoff. It is never below MinBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalize()
	d := p.InitialBackoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Deliver runs h until it succeeds or the policy is exhausted. It returns
// the number of attempts made. Exhaustion is reported as ErrTerminal; a
// cancelled context returns ctx.Err() and leaves the message for redelivery.
func Deliver(ctx context.Context, policy RetryPolicy, h Handler, d Delivery) (int, error) {
	policy = policy.normalize()

	order, err := Decode(d.Payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTerminal, err)
	}

	for attempt := 1; ; attempt++ {
		err := h(ctx, order)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt >= policy.MaxAttempts {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrTerminal, attempt, err)
		}
		if err := Wait(ctx, policy.Backoff(attempt)); err != nil {
			return attempt, err
		}
	}
}

// Process delivers d to sub and reports terminal failures to sink. A nil
// return means the delivery is settled and may be acknowledged.
func Process(ctx context.Context, sub Subscription, sink DeadLetterSink, log *slog.Logger, d Delivery) error {
	log = log.With("subscription", sub.Name, "delivery_id", d.ID, "order_id", d.Key)

	attempts, err := Deliver(ctx, sub.Retry, sub.Handler, d)
	if err == nil {
		if attempts > 1 {
			log.Info("Delivery succeeded after retry", "attempts", attempts)
		}
		return nil
	}
	if !errors.Is(err, ErrTerminal) {
		return err
	}

	log.Error("Terminal delivery failure", "attempts", attempts, "error", err)
	dl := DeadLetter{Subscription: sub.Name, Delivery: d, Attempts: attempts, Err: err}

	policy := sub.Retry.normalize()
	for i := 1; ; i++ {
		sinkErr := sink.DeadLetter(ctx, dl)
		if sinkErr == nil {
			return nil
		}
		log.Error("Failed to record dead letter", "error", sinkErr)
		if err := Wait(ctx, policy.Backoff(i)); err != nil {
			return err
		}
	}
}

// Wait blocks for d, at least MinBackoff, or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d < MinBackoff {
		d = MinBackoff
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogSink reports dead letters to the log only.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) DeadLetter(_ context.Context, dl DeadLetter) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Error("Dead letter",
		"subscription", dl.Subscription,
		"delivery_id", dl.Delivery.ID,
		"order_id", dl.Delivery.Key,
		"attempts", dl.Attempts,
		"error", dl.Err,
	)
	return nil
}
