// Package messaging defines the order channel: an at-least-once topic keyed
// by order id, read by independent durable subscriptions.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
)

// EventOrderCreated is the event type header carried by every order message.
const EventOrderCreated = "order.created"

// Subscription names. Each one tracks its own delivery cursor.
const (
	SubscriptionProcessOrders    = "process-orders"
	SubscriptionSendConfirmation = "send-order-confirmation"
)

// Message header keys.
const (
	HeaderDeliveryID   = "delivery-id"
	HeaderEventType    = "event-type"
	HeaderSubscription = "subscription"
	HeaderAttempts     = "attempts"
	HeaderError        = "error"
)

// Publisher publishes orders to the channel and returns a delivery id.
type Publisher interface {
	Publish(ctx context.Context, order domain.OrderMessage) (string, error)
}

// Handler consumes one order. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, order domain.OrderMessage) error

// Subscription binds a handler to the channel under a durable name.
type Subscription struct {
	Name    string
	Handler Handler
	Retry   RetryPolicy
}

// Delivery is one message as received by a subscription.
type Delivery struct {
	ID      string
	Key     string
	Payload []byte
}

// DeadLetter describes a delivery that a subscription gave up on.
type DeadLetter struct {
	Subscription string
	Delivery     Delivery
	Attempts     int
	Err          error
}

// DeadLetterSink receives terminal delivery failures for operators.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, dl DeadLetter) error
}

// Encode serialises an order for transport.
func Encode(order domain.OrderMessage) ([]byte, error) {
	b, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("encode order %s: %w", order.OrderID, err)
	}
	return b, nil
}

// Decode parses and validates an order payload.
func Decode(payload []byte) (domain.OrderMessage, error) {
	var order domain.OrderMessage
	if err := json.Unmarshal(payload, &order); err != nil {
		return domain.OrderMessage{}, fmt.Errorf("decode order: %w", err)
	}
	if err := order.Validate(); err != nil {
		return domain.OrderMessage{}, err
	}
	return order, nil
}
