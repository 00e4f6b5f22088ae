// Package kafka implements the order channel on Kafka. Each subscription is a
// consumer group, so redelivery to one never moves the other's offsets.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/messaging"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

func newWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  10,
		WriteTimeout: 10 * time.Second,
	}
}

// Publisher writes orders to the order topic keyed by order id. The writer
// retries transient broker errors itself; only permanent failures surface.
type Publisher struct {
	w writer
}

// NewPublisher creates a Publisher for topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{w: newWriter(brokers, topic)}
}

func (p *Publisher) Publish(ctx context.Context, order domain.OrderMessage) (string, error) {
	if err := order.Validate(); err != nil {
		return "", err
	}
	value, err := messaging.Encode(order)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	msg := kafkago.Message{
		Key:   []byte(order.OrderID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: messaging.HeaderDeliveryID, Value: []byte(id)},
			{Key: messaging.HeaderEventType, Value: []byte(messaging.EventOrderCreated)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("kafka publish order %s: %w", order.OrderID, err)
	}
	return id, nil
}

func (p *Publisher) Close() error { return p.w.Close() }

// DeadLetterWriter records terminal failures on a dead-letter topic with the
// original payload and failure details in headers.
type DeadLetterWriter struct {
	w writer
}

// NewDeadLetterWriter creates a DeadLetterWriter for topic.
func NewDeadLetterWriter(brokers []string, topic string) *DeadLetterWriter {
	return &DeadLetterWriter{w: newWriter(brokers, topic)}
}

func (d *DeadLetterWriter) DeadLetter(ctx context.Context, dl messaging.DeadLetter) error {
	errText := ""
	if dl.Err != nil {
		errText = dl.Err.Error()
	}
	msg := kafkago.Message{
		Key:   []byte(dl.Delivery.Key),
		Value: dl.Delivery.Payload,
		Headers: []kafkago.Header{
			{Key: messaging.HeaderDeliveryID, Value: []byte(dl.Delivery.ID)},
			{Key: messaging.HeaderSubscription, Value: []byte(dl.Subscription)},
			{Key: messaging.HeaderAttempts, Value: []byte(strconv.Itoa(dl.Attempts))},
			{Key: messaging.HeaderError, Value: []byte(errText)},
		},
	}
	if err := d.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka dead letter %s: %w", dl.Delivery.ID, err)
	}
	return nil
}

func (d *DeadLetterWriter) Close() error { return d.w.Close() }

func header(m kafkago.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
