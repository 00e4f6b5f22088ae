// Package webhook receives Stripe events, verifies their signature and routes
// them to settlement.
package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v74"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/settlement"
)

// Stripe event types routed by the handler.
const (
	TypePaymentSucceeded = "payment_intent.succeeded"
	TypeAccountUpdated   = "account.updated"
	TypePayoutPaid       = "payout.paid"
	TypePayoutFailed     = "payout.failed"
)

// Event is a verified, decoded Stripe event. It is one of PaymentSucceeded,
// AccountUpdated, PayoutObserved or Unknown.
type Event interface {
	ID() string
	event()
}

type base struct{ id string }

func (b base) ID() string { return b.id }
func (base) event()       {}

// PaymentSucceeded carries a settled payment intent.
type PaymentSucceeded struct {
	base
	Payment settlement.PaymentSucceeded
}

// AccountUpdated carries the state of a connected account.
type AccountUpdated struct {
	base
	Account settlement.Account
}

// PayoutObserved reports a payout to a connected account.
type PayoutObserved struct {
	base
	PayoutID       string
	Amount         int64
	Failed         bool
	FailureMessage string
}

// Unknown is any event type the service does not act on.
type Unknown struct {
	base
	Type string
}

// Decode converts a verified Stripe event into an Event.
func Decode(evt stripe.Event) (Event, error) {
	b := base{id: evt.ID}
	if evt.Data == nil {
		return nil, fmt.Errorf("event %s has no data", evt.ID)
	}

	switch t := string(evt.Type); t {
	case TypePaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		if pi.ID == "" {
			return nil, fmt.Errorf("payment intent in event %s has no id", evt.ID)
		}
		p := settlement.PaymentSucceeded{
			PaymentIntentID: pi.ID,
			Amount:          pi.Amount,
			Currency:        string(pi.Currency),
		}
		if len(pi.PaymentMethodTypes) > 0 {
			p.Method = domain.PaymentMethod(pi.PaymentMethodTypes[0])
		}
		if pi.PaymentMethod != nil {
			p.PaymentMethodID = pi.PaymentMethod.ID
		}
		if pi.LatestCharge != nil {
			p.ChargeID = pi.LatestCharge.ID
		}
		return PaymentSucceeded{base: b, Payment: p}, nil

	case TypeAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(evt.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		a := settlement.Account{
			ID:               domain.AccountID(acct.ID),
			PayoutsEnabled:   acct.PayoutsEnabled,
			ChargesEnabled:   acct.ChargesEnabled,
			DetailsSubmitted: acct.DetailsSubmitted,
		}
		if acct.Capabilities != nil {
			a.TransfersActive = acct.Capabilities.Transfers == stripe.AccountCapabilityStatusActive
		}
		if acct.Requirements != nil {
			a.CurrentlyDue = acct.Requirements.CurrentlyDue
			a.PendingVerification = acct.Requirements.PendingVerification
		}
		return AccountUpdated{base: b, Account: a}, nil

	case TypePayoutPaid, TypePayoutFailed:
		var po stripe.Payout
		if err := json.Unmarshal(evt.Data.Raw, &po); err != nil {
			return nil, fmt.Errorf("decode payout: %w", err)
		}
		return PayoutObserved{
			base:           b,
			PayoutID:       po.ID,
			Amount:         po.Amount,
			Failed:         t == TypePayoutFailed,
			FailureMessage: po.FailureMessage,
		}, nil

	default:
		return Unknown{base: b, Type: t}, nil
	}
}
