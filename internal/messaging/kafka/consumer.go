package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nsridhar76/go-checkoutsvc/internal/messaging"
)

type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupPrefix string
}

type subscriptionReader struct {
	sub messaging.Subscription
	r   reader
}

// Consumer runs every subscription as its own consumer group. Offsets are
// committed only after a delivery is settled (handled or dead-lettered), so
// a crash mid-delivery results in redelivery.
type Consumer struct {
	readers []subscriptionReader
	sink    messaging.DeadLetterSink
	log     *slog.Logger
}

// NewConsumer creates one group reader per subscription.
func NewConsumer(cfg ConsumerConfig, subs []messaging.Subscription, sink messaging.DeadLetterSink, log *slog.Logger) *Consumer {
	c := &Consumer{sink: sink, log: log}
	for _, sub := range subs {
		r := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupPrefix + sub.Name,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		})
		c.readers = append(c.readers, subscriptionReader{sub: sub, r: r})
	}
	return c
}

// Run consumes until ctx is done, then closes the readers.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sr := range c.readers {
		wg.Add(1)
		go func(sr subscriptionReader) {
			defer wg.Done()
			c.consume(ctx, sr)
		}(sr)
	}
	c.log.Info("Kafka order consumer started", "subscriptions", len(c.readers))
	wg.Wait()

	var errs []error
	for _, sr := range c.readers {
		if err := sr.r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s reader: %w", sr.sub.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Consumer) consume(ctx context.Context, sr subscriptionReader) {
	log := c.log.With("subscription", sr.sub.Name)
	policy := sr.sub.Retry

	for fails := 0; ; {
		m, err := sr.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fails++
			log.Error("Kafka fetch failed", "error", err)
			if sleepErr := messaging.Wait(ctx, policy.Backoff(fails)); sleepErr != nil {
				return
			}
			continue
		}
		fails = 0

		d := messaging.Delivery{
			ID:      header(m, messaging.HeaderDeliveryID),
			Key:     string(m.Key),
			Payload: m.Value,
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
		}

		if err := messaging.Process(ctx, sr.sub, c.sink, log, d); err != nil {
			log.Warn("Delivery interrupted, leaving offset uncommitted", "delivery_id", d.ID, "error", err)
			return
		}
		if err := sr.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Kafka commit failed, message will be redelivered", "delivery_id", d.ID, "error", err)
		}
	}
}
