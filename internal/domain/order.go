// Package domain defines the order types shared by settlement and the
// downstream order subscribers.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidOrder is returned by OrderMessage.Validate.
var ErrInvalidOrder = errors.New("invalid order message")

// PaymentMethod is the payment method type reported by the processor.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodOxxo PaymentMethod = "oxxo"
)

// Label returns the customer-facing name of the payment method. Unknown
// methods pass through unchanged.
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentMethodCard:
		return "credit/debit card"
	case PaymentMethodOxxo:
		return "OXXO"
	default:
		return string(m)
	}
}

// LineItem is one paid-for product in an order.
type LineItem struct {
	ProductName  string `json:"productName"`
	ProductImage string `json:"productImage,omitempty"`
	ProductSlug  string `json:"productSlug"`
	Amount       int64  `json:"amount"`
}

// OrderMessage is the unit of work published on the order channel. OrderID is
// the payment intent id and the idempotency key for every downstream effect.
type OrderMessage struct {
	OrderID       string        `json:"orderId"`
	CustomerEmail string        `json:"customerEmail"`
	CustomerName  *string       `json:"customerName"`
	Items         []LineItem    `json:"items"`
	Total         int64         `json:"total"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	CreatedAt     time.Time     `json:"createdAt"`
	SessionID     string        `json:"sessionId"`
}

// Name returns the customer name or "" when it was not collected.
func (o OrderMessage) Name() string {
	if o.CustomerName == nil {
		return ""
	}
	return *o.CustomerName
}

// ItemsTotal sums the line item amounts. It is informational only: Total is
// the amount actually charged and may differ.
func (o OrderMessage) ItemsTotal() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.Amount
	}
	return sum
}

// Validate checks the fields both subscribers depend on.
func (o OrderMessage) Validate() error {
	var missing []string
	if o.OrderID == "" {
		missing = append(missing, "orderId")
	}
	if o.CustomerEmail == "" {
		missing = append(missing, "customerEmail")
	}
	if len(o.Items) == 0 {
		missing = append(missing, "items")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidOrder, strings.Join(missing, ", "))
	}
	return nil
}

// OrderRecord is the persisted form of an order. Processed is owned by the
// persistence subscriber and Confirmed by the notification subscriber; each
// only ever moves from false to true.
type OrderRecord struct {
	Order     OrderMessage `json:"order"`
	Processed bool         `json:"processed"`
	Confirmed bool         `json:"confirmed"`
	CreatedAt time.Time    `json:"created_at"`
}

// AccountID identifies a connected seller account.
type AccountID string

// NoAccount is the absence of a destination account.
const NoAccount AccountID = ""

// Present reports whether a destination account is set.
func (a AccountID) Present() bool { return strings.TrimSpace(string(a)) != "" }

func (a AccountID) String() string { return string(a) }
