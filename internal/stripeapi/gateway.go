// Package stripeapi implements the settlement gateway on the Stripe API.
package stripeapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/settlement"
)

// Metadata keys set on Stripe objects by the catalog import.
const (
	MetadataProducts = "products" // checkout session: JSON array of price ids
	MetadataAccount  = "account"  // price: connected account of the seller
	MetadataSlug     = "slug"     // product: storefront slug
)

// Payout schedule applied to newly verified connected accounts.
const (
	PayoutInterval  = "daily"
	PayoutDelayDays = 7
)

// Gateway is a settlement.Gateway backed by Stripe.
type Gateway struct {
	sc *client.API
}

var _ settlement.Gateway = (*Gateway)(nil)

// New creates a Gateway. backends may be nil to use the public API.
func New(secretKey string, backends *stripe.Backends) *Gateway {
	return &Gateway{sc: client.New(secretKey, backends)}
}

func (g *Gateway) CheckoutSession(ctx context.Context, paymentIntentID string) (settlement.Session, error) {
	params := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := g.sc.CheckoutSessions.List(params)
	if !it.Next() {
		if err := it.Err(); err != nil {
			return settlement.Session{}, fmt.Errorf("list checkout sessions: %w", err)
		}
		return settlement.Session{}, settlement.ErrSessionNotFound
	}
	cs := it.CheckoutSession()

	out := settlement.Session{ID: cs.ID}
	if raw := cs.Metadata[MetadataProducts]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.PriceIDs); err != nil {
			return settlement.Session{}, fmt.Errorf("decode session %s products: %w", cs.ID, err)
		}
	}
	if cs.CustomerDetails != nil {
		out.CustomerEmail = cs.CustomerDetails.Email
		out.CustomerName = cs.CustomerDetails.Name
	}
	return out, nil
}

func (g *Gateway) Price(ctx context.Context, priceID string) (settlement.Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	p, err := g.sc.Prices.Get(priceID, params)
	if err != nil {
		return settlement.Price{}, fmt.Errorf("retrieve price %s: %w", priceID, err)
	}

	out := settlement.Price{
		ID:          p.ID,
		UnitAmount:  p.UnitAmount,
		Destination: domain.AccountID(p.Metadata[MetadataAccount]),
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	return out, nil
}

func (g *Gateway) Product(ctx context.Context, productID string) (settlement.Product, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	p, err := g.sc.Products.Get(productID, params)
	if err != nil {
		return settlement.Product{}, fmt.Errorf("retrieve product %s: %w", productID, err)
	}

	out := settlement.Product{ID: p.ID, Name: p.Name, Slug: p.Metadata[MetadataSlug]}
	if len(p.Images) > 0 {
		out.Image = p.Images[0]
	}
	return out, nil
}

func (g *Gateway) CardCountry(ctx context.Context, paymentMethodID string) (string, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	pm, err := g.sc.PaymentMethods.Get(paymentMethodID, params)
	if err != nil {
		return "", fmt.Errorf("retrieve payment method %s: %w", paymentMethodID, err)
	}
	if pm.Card == nil {
		return "", fmt.Errorf("payment method %s is not a card", paymentMethodID)
	}
	return pm.Card.Country, nil
}

func (g *Gateway) Transfer(ctx context.Context, req settlement.TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination.String()),
	}
	if req.SourceCharge != "" {
		params.SourceTransaction = stripe.String(req.SourceCharge)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("price_id", req.PriceID)

	t, err := g.sc.Transfers.New(params)
	if err != nil {
		return "", fmt.Errorf("create transfer to %s: %w", req.Destination, err)
	}
	return t.ID, nil
}

func (g *Gateway) ConfigurePayoutSchedule(ctx context.Context, account domain.AccountID) error {
	params := &stripe.AccountParams{
		Settings: &stripe.AccountSettingsParams{
			Payouts: &stripe.AccountSettingsPayoutsParams{
				Schedule: &stripe.AccountSettingsPayoutsScheduleParams{
					Interval:  stripe.String(PayoutInterval),
					DelayDays: stripe.Int64(PayoutDelayDays),
				},
			},
		},
	}
	params.Context = ctx
	if _, err := g.sc.Accounts.Update(account.String(), params); err != nil {
		return fmt.Errorf("update payout schedule for %s: %w", account, err)
	}
	return nil
}
