// Package settlement turns a succeeded payment into seller transfers and an
// order message for the downstream subscribers.
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
)

// ErrInvalidAmount is returned for a negative unit amount.
var ErrInvalidAmount = errors.New("invalid gross amount")

var hundred = decimal.NewFromInt(100)

// FeeSchedule holds the processor fee rates applied to each line item.
// Percentages are expressed as percent values (3.6 means 3.6%).
type FeeSchedule struct {
	CardPercent          decimal.Decimal
	OxxoPercent          decimal.Decimal
	InternationalPercent decimal.Decimal
	ConversionPercent    decimal.Decimal
	FixedMinor           int64
}

// DefaultFeeSchedule returns the MXN marketplace rates.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		CardPercent:          decimal.RequireFromString("3.6"),
		OxxoPercent:          decimal.RequireFromString("3.6"),
		InternationalPercent: decimal.RequireFromString("0.5"),
		ConversionPercent:    decimal.RequireFromString("2.0"),
		FixedMinor:           300,
	}
}

// Split is the fee split for one line item, in minor units.
type Split struct {
	Gross int64
	Fee   int64
	Net   int64
}

// Percent returns the total fee percentage for the given payment conditions.
func (s FeeSchedule) Percent(method domain.PaymentMethod, international, conversion bool) decimal.Decimal {
	pct := s.CardPercent
	if method == domain.PaymentMethodOxxo {
		pct = s.OxxoPercent
	}
	if international && method != domain.PaymentMethodOxxo {
		pct = pct.Add(s.InternationalPercent)
	}
	if conversion {
		pct = pct.Add(s.ConversionPercent)
	}
	return pct
}

// Split computes the platform fee and the net transfer for a gross amount.
// The percentage part is rounded half-up to a whole minor unit before the
// fixed fee is added. A zero gross is valid and yields a negative net.
func (s FeeSchedule) Split(gross int64, method domain.PaymentMethod, international, conversion bool) (Split, error) {
	if gross < 0 {
		return Split{}, fmt.Errorf("%w: %d", ErrInvalidAmount, gross)
	}

	pct := s.Percent(method, international, conversion)
	variable := decimal.NewFromInt(gross).Mul(pct).Div(hundred).Round(0).IntPart()
	fee := variable + s.FixedMinor

	return Split{Gross: gross, Fee: fee, Net: gross - fee}, nil
}
