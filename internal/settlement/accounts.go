package settlement

import (
	"context"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
)

// Account is the verification state of a connected seller account.
type Account struct {
	ID                  domain.AccountID
	PayoutsEnabled      bool
	ChargesEnabled      bool
	DetailsSubmitted    bool
	TransfersActive     bool
	CurrentlyDue        []string
	PendingVerification []string
}

// Verified reports whether the account can receive transfers and payouts.
func (a Account) Verified() bool {
	return a.PayoutsEnabled &&
		a.ChargesEnabled &&
		a.DetailsSubmitted &&
		a.TransfersActive &&
		len(a.CurrentlyDue) == 0 &&
		len(a.PendingVerification) == 0
}

// AccountUpdated configures the payout schedule of a newly verified account.
// It reports whether a schedule was applied; failures are logged only.
func (e *Executor) AccountUpdated(ctx context.Context, a Account) bool {
	log := e.log.With("account_id", a.ID.String())
	if !a.Verified() {
		log.Debug("Account not yet verified")
		return false
	}

	log.Info("Account verified and ready to receive payments")
	if err := e.gateway.ConfigurePayoutSchedule(ctx, a.ID); err != nil {
		log.Error("Error configuring payouts", "error", err)
		return false
	}
	log.Info("Payouts configured")
	return true
}
