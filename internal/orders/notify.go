package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/mail"
)

// ErrNotificationInFlight is returned when another delivery of the same order
// is currently sending its confirmation.
var ErrNotificationInFlight = errors.New("confirmation already in flight")

// Renderer renders a confirmation email for an order.
type Renderer interface {
	Confirmation(order domain.OrderMessage) (mail.Email, error)
}

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// SendingTTL bounds how long one delivery holds the send claim.
	SendingTTL time.Duration
	// SentTTL is how long a completed send is remembered in the claim store.
	SentTTL time.Duration
	Logger  *slog.Logger
}

// Notifier sends order confirmations at most once per order.
type Notifier struct {
	store    Store
	renderer Renderer
	sender   mail.Sender
	claims   Claims
	sending  time.Duration
	sent     time.Duration
	log      *slog.Logger
}

// NewNotifier creates a Notifier. claims may be nil, in which case only the
// confirmed flag guards against duplicate sends.
func NewNotifier(store Store, renderer Renderer, sender mail.Sender, claims Claims, cfg NotifierConfig) *Notifier {
	n := &Notifier{
		store:    store,
		renderer: renderer,
		sender:   sender,
		claims:   claims,
		sending:  cfg.SendingTTL,
		sent:     cfg.SentTTL,
		log:      cfg.Logger,
	}
	if n.sending <= 0 {
		n.sending = 2 * time.Minute
	}
	if n.sent <= 0 {
		n.sent = 7 * 24 * time.Hour
	}
	if n.log == nil {
		n.log = slog.Default()
	}
	return n
}

func sendingKey(orderID string) string { return "notify:sending:" + orderID }
func sentKey(orderID string) string    { return "notify:sent:" + orderID }

// Handle sends the confirmation unless the order is already confirmed, then
// sets the confirmed flag. Errors are returned for redelivery.
func (n *Notifier) Handle(ctx context.Context, order domain.OrderMessage) error {
	log := n.log.With("order_id", order.OrderID)

	confirmed, err := n.store.IsConfirmed(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("check confirmation %s: %w", order.OrderID, err)
	}
	if confirmed {
		log.Info("Order already confirmed, skipping email")
		return nil
	}

	if n.claims != nil {
		sent, err := n.claims.Held(ctx, sentKey(order.OrderID))
		if err != nil {
			log.Warn("Sent marker unavailable", "error", err)
		}
		if sent {
			log.Info("Confirmation already sent, recording confirmed flag")
			return n.markConfirmed(ctx, log, order)
		}

		owner := uuid.NewString()
		ok, err := n.claims.Claim(ctx, sendingKey(order.OrderID), owner, n.sending)
		if err != nil {
			return fmt.Errorf("claim confirmation %s: %w", order.OrderID, err)
		}
		if !ok {
			return fmt.Errorf("order %s: %w", order.OrderID, ErrNotificationInFlight)
		}
		defer func() {
			if err := n.claims.Release(context.WithoutCancel(ctx), sendingKey(order.OrderID), owner); err != nil {
				log.Warn("Failed to release send claim", "error", err)
			}
		}()
	}

	log.Info("Sending confirmation email")
	email, err := n.renderer.Confirmation(order)
	if err != nil {
		return err
	}
	messageID, err := n.sender.Send(ctx, email)
	if err != nil {
		log.Error("Error sending confirmation email", "error", err)
		return fmt.Errorf("send confirmation %s: %w", order.OrderID, err)
	}
	log.Info("Order confirmation email sent", "message_id", messageID)

	if n.claims != nil {
		if _, err := n.claims.Claim(ctx, sentKey(order.OrderID), messageID, n.sent); err != nil {
			log.Warn("Failed to record sent marker", "error", err)
		}
	}
	return n.markConfirmed(ctx, log, order)
}

func (n *Notifier) markConfirmed(ctx context.Context, log *slog.Logger, order domain.OrderMessage) error {
	if err := n.store.MarkConfirmed(ctx, order); err != nil {
		return fmt.Errorf("mark order %s confirmed: %w", order.OrderID, err)
	}
	log.Info("Order marked as confirmed in database")
	return nil
}
