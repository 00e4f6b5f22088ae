package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v74/webhook"

	"github.com/nsridhar76/go-checkoutsvc/internal/settlement"
)

const (
	// MaxBodyBytes bounds the event payload read from the request.
	MaxBodyBytes = 64 << 10

	// SignatureHeader carries the Stripe event signature.
	SignatureHeader = "Stripe-Signature"

	// EventTTL is how long a handled event id is remembered.
	EventTTL = 72 * time.Hour

	// LeaseTTL bounds how long one delivery may hold an event while it is
	// being dispatched. A crashed holder frees the event once it expires.
	LeaseTTL = 2 * time.Minute
)

// Settler is the settlement side of the router.
type Settler interface {
	Settle(ctx context.Context, p settlement.PaymentSucceeded) (settlement.Outcome, error)
	AccountUpdated(ctx context.Context, a settlement.Account) bool
}

// Claims remembers handled event ids.
type Claims interface {
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
	Held(ctx context.Context, key string) (bool, error)
}

// Handler verifies and routes Stripe webhook deliveries.
type Handler struct {
	secret    string
	settler   Settler
	claims    Claims
	tolerance time.Duration
	log       *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithClaims enables replay suppression by event id.
func WithClaims(c Claims) Option {
	return func(h *Handler) { h.claims = c }
}

// WithTolerance overrides the accepted signature age.
func WithTolerance(d time.Duration) Option {
	return func(h *Handler) { h.tolerance = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// NewHandler creates a Handler verifying events with the endpoint secret.
func NewHandler(secret string, settler Settler, opts ...Option) *Handler {
	h := &Handler{
		secret:    secret,
		settler:   settler,
		tolerance: stripewebhook.DefaultTolerance,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		h.log.Warn("Webhook missing signature header")
		http.Error(w, "missing signature", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.log.Warn("Error reading webhook body", "error", err)
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	evt, err := stripewebhook.ConstructEventWithOptions(payload, sig, h.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                h.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.log.Warn("Webhook signature verification failed", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	event, err := Decode(evt)
	if err != nil {
		h.log.Warn("Malformed webhook event", "event_id", evt.ID, "type", evt.Type, "error", err)
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	if h.handled(r.Context(), event) {
		h.log.Info("Webhook event already handled", "event_id", event.ID())
		writeReceived(w)
		return
	}

	release, ok := h.lease(r.Context(), event)
	if !ok {
		h.log.Info("Webhook event in flight, asking for redelivery", "event_id", event.ID())
		http.Error(w, "event in progress", http.StatusConflict)
		return
	}
	defer release()

	h.Dispatch(r.Context(), event)
	h.markHandled(r.Context(), event)

	writeReceived(w)
}

func writeReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func doneKey(id string) string  { return "webhook:event:done:" + id }
func leaseKey(id string) string { return "webhook:event:inflight:" + id }

func (h *Handler) tracked(event Event) bool {
	if h.claims == nil {
		return false
	}
	_, unknown := event.(Unknown)
	return !unknown
}

// handled reports whether a previous delivery of the event finished
// dispatching. Lookup errors are logged and treated as not handled:
// transfers carry their own idempotency keys and both subscribers are
// idempotent on order id.
func (h *Handler) handled(ctx context.Context, event Event) bool {
	if !h.tracked(event) {
		return false
	}
	done, err := h.claims.Held(ctx, doneKey(event.ID()))
	if err != nil {
		h.log.Warn("Error checking webhook event", "event_id", event.ID(), "error", err)
		return false
	}
	return done
}

// lease takes the in-flight marker for the event. The returned func frees
// it and runs even when dispatch panics, so a redelivery can retry.
func (h *Handler) lease(ctx context.Context, event Event) (func(), bool) {
	if !h.tracked(event) {
		return func() {}, true
	}
	key := leaseKey(event.ID())
	ok, err := h.claims.Claim(ctx, key, event.ID(), LeaseTTL)
	if err != nil {
		h.log.Warn("Error leasing webhook event", "event_id", event.ID(), "error", err)
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := h.claims.Release(context.WithoutCancel(ctx), key, event.ID()); err != nil {
			h.log.Warn("Error releasing webhook event", "event_id", event.ID(), "error", err)
		}
	}, true
}

// markHandled records that dispatch returned. Only this marker suppresses
// redeliveries.
func (h *Handler) markHandled(ctx context.Context, event Event) {
	if !h.tracked(event) {
		return
	}
	if _, err := h.claims.Claim(context.WithoutCancel(ctx), doneKey(event.ID()), event.ID(), EventTTL); err != nil {
		h.log.Warn("Error recording webhook event", "event_id", event.ID(), "error", err)
	}
}

// Dispatch routes a decoded event. Processing errors are logged and never
// change the acknowledgement.
func (h *Handler) Dispatch(ctx context.Context, event Event) {
	log := h.log.With("event_id", event.ID())

	switch e := event.(type) {
	case PaymentSucceeded:
		log.Info("Payment succeeded",
			"payment_intent", e.Payment.PaymentIntentID,
			"amount", e.Payment.Amount,
			"payment_method", string(e.Payment.Method),
		)
		out, err := h.settler.Settle(ctx, e.Payment)
		if err != nil {
			log.Error("Error settling payment", "payment_intent", e.Payment.PaymentIntentID, "error", err)
			return
		}
		log.Info("Payment settled",
			"payment_intent", e.Payment.PaymentIntentID,
			"transfers", len(out.Transfers),
			"skipped_transfers", out.SkippedTransfers,
			"skipped_items", out.SkippedItems,
			"delivery_id", out.DeliveryID,
		)

	case AccountUpdated:
		h.settler.AccountUpdated(ctx, e.Account)

	case PayoutObserved:
		if e.Failed {
			log.Error("Payout failed", "payout_id", e.PayoutID, "amount", e.Amount, "reason", e.FailureMessage)
			return
		}
		log.Info("Payout paid", "payout_id", e.PayoutID, "amount", e.Amount)

	case Unknown:
		log.Debug("Unhandled event type", "type", e.Type)
	}
}
