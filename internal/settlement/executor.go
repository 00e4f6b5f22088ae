package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
)

// ErrSessionNotFound is returned by a Gateway when no checkout session
// produced the payment intent.
var ErrSessionNotFound = errors.New("checkout session not found")

// ErrNoDestination marks a price without a connected account to pay out to.
var ErrNoDestination = errors.New("price has no destination account")

// PaymentSucceeded is the settlement input taken from a payment intent.
type PaymentSucceeded struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	Method          domain.PaymentMethod
	PaymentMethodID string
	ChargeID        string
}

// Session is the checkout session that produced a payment intent.
type Session struct {
	ID            string
	PriceIDs      []string
	CustomerEmail string
	CustomerName  string
}

// Price is a catalog price resolved at settlement time.
type Price struct {
	ID          string
	ProductID   string
	UnitAmount  int64
	Destination domain.AccountID
}

// Product is the catalog product behind a price.
type Product struct {
	ID    string
	Name  string
	Image string
	Slug  string
}

// TransferRequest moves the net amount of one line item to a seller.
type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    domain.AccountID
	SourceCharge   string
	IdempotencyKey string
	OrderID        string
	PriceID        string
}

// Gateway is the payment processor and catalog as seen by settlement.
type Gateway interface {
	CheckoutSession(ctx context.Context, paymentIntentID string) (Session, error)
	Price(ctx context.Context, priceID string) (Price, error)
	Product(ctx context.Context, productID string) (Product, error)
	CardCountry(ctx context.Context, paymentMethodID string) (string, error)
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	ConfigurePayoutSchedule(ctx context.Context, account domain.AccountID) error
}

// Publisher hands an order to the order channel.
type Publisher interface {
	Publish(ctx context.Context, order domain.OrderMessage) (string, error)
}

// Transfer records one issued seller transfer.
type Transfer struct {
	ID          string
	PriceID     string
	Destination domain.AccountID
	Split       Split
}

// Outcome summarises one settlement run.
type Outcome struct {
	Transfers        []Transfer
	SkippedTransfers int
	SkippedItems     int
	Order            *domain.OrderMessage
	DeliveryID       string
}

// Config configures an Executor.
type Config struct {
	Fees        FeeSchedule
	Currency    string
	HomeCountry string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Executor settles succeeded payments.
type Executor struct {
	gateway   Gateway
	publisher Publisher
	fees      FeeSchedule
	currency  string
	country   string
	now       func() time.Time
	log       *slog.Logger
}

// NewExecutor creates an Executor. Zero config values fall back to MXN
// settlement with Mexican-issued cards treated as domestic.
func NewExecutor(gateway Gateway, publisher Publisher, cfg Config) *Executor {
	e := &Executor{
		gateway:   gateway,
		publisher: publisher,
		fees:      cfg.Fees,
		currency:  strings.ToLower(cfg.Currency),
		country:   strings.ToUpper(cfg.HomeCountry),
		now:       cfg.Now,
		log:       cfg.Logger,
	}
	if e.currency == "" {
		e.currency = "mxn"
	}
	if e.country == "" {
		e.country = "MX"
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Settle issues one transfer per resolvable line item and publishes the
// order. Item-level failures are logged and skipped; the returned error is
// reserved for failing to hand the order to the channel.
func (e *Executor) Settle(ctx context.Context, p PaymentSucceeded) (Outcome, error) {
	log := e.log.With("payment_intent", p.PaymentIntentID)
	var out Outcome

	session, err := e.gateway.CheckoutSession(ctx, p.PaymentIntentID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			log.Warn("No checkout session for payment intent")
			return out, nil
		}
		return out, fmt.Errorf("resolve checkout session: %w", err)
	}
	if len(session.PriceIDs) == 0 {
		log.Error("No products were found in the session metadata", "session_id", session.ID)
	}

	international, conversion := e.conditions(ctx, log, p)

	var items []domain.LineItem
	for i, priceID := range session.PriceIDs {
		ilog := log.With("price_id", priceID)

		price, err := e.gateway.Price(ctx, priceID)
		if err != nil {
			ilog.Error("Failed to resolve price, skipping item", "error", err)
			out.SkippedItems++
			continue
		}

		split, err := e.fees.Split(price.UnitAmount, p.Method, international, conversion)
		if err != nil {
			ilog.Error("Invalid price, skipping item", "error", err)
			out.SkippedItems++
			continue
		}

		product, err := e.gateway.Product(ctx, price.ProductID)
		if err != nil {
			ilog.Error("Failed to resolve product, skipping item", "product_id", price.ProductID, "error", err)
			out.SkippedItems++
			continue
		}

		// The customer paid for the item whether or not the seller payout
		// below succeeds.
		items = append(items, domain.LineItem{
			ProductName:  product.Name,
			ProductImage: product.Image,
			ProductSlug:  product.Slug,
			Amount:       split.Gross,
		})

		t, err := e.transfer(ctx, p, price, split, i)
		if err != nil {
			ilog.Error("Payout skipped or failed",
				"product_id", price.ProductID,
				"destination", price.Destination.String(),
				"net_amount", split.Net,
				"error", err,
			)
			out.SkippedTransfers++
			continue
		}
		ilog.Info("Transfer created",
			"transfer_id", t.ID,
			"product_id", price.ProductID,
			"destination", t.Destination.String(),
			"gross", split.Gross,
			"fee", split.Fee,
			"net_amount", split.Net,
			"currency", e.currency,
		)
		out.Transfers = append(out.Transfers, t)
	}

	if len(items) == 0 || session.CustomerEmail == "" {
		log.Info("No order to publish", "items", len(items), "has_email", session.CustomerEmail != "")
		return out, nil
	}

	order := domain.OrderMessage{
		OrderID:       p.PaymentIntentID,
		CustomerEmail: session.CustomerEmail,
		Items:         items,
		Total:         p.Amount,
		PaymentMethod: p.Method,
		CreatedAt:     e.now().UTC(),
		SessionID:     session.ID,
	}
	if session.CustomerName != "" {
		name := session.CustomerName
		order.CustomerName = &name
	}
	out.Order = &order

	deliveryID, err := e.publisher.Publish(ctx, order)
	if err != nil {
		log.Error("Failed to publish order", "order_id", order.OrderID, "error", err)
		return out, fmt.Errorf("publish order %s: %w", order.OrderID, err)
	}
	out.DeliveryID = deliveryID
	log.Info("Order published", "order_id", order.OrderID, "delivery_id", deliveryID, "items", len(items))

	return out, nil
}

func (e *Executor) transfer(ctx context.Context, p PaymentSucceeded, price Price, split Split, index int) (Transfer, error) {
	if !price.Destination.Present() {
		return Transfer{}, ErrNoDestination
	}
	if split.Net <= 0 {
		return Transfer{}, fmt.Errorf("net amount %d is not payable", split.Net)
	}

	id, err := e.gateway.Transfer(ctx, TransferRequest{
		Amount:         split.Net,
		Currency:       e.currency,
		Destination:    price.Destination,
		SourceCharge:   p.ChargeID,
		IdempotencyKey: fmt.Sprintf("transfer:%s:%s:%d", p.PaymentIntentID, price.ID, index),
		OrderID:        p.PaymentIntentID,
		PriceID:        price.ID,
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("create transfer: %w", err)
	}
	return Transfer{ID: id, PriceID: price.ID, Destination: price.Destination, Split: split}, nil
}

// conditions reports whether the international-card and currency-conversion
// surcharges apply. A card whose country cannot be resolved is charged as
// international.
func (e *Executor) conditions(ctx context.Context, log *slog.Logger, p PaymentSucceeded) (international, conversion bool) {
	conversion = strings.ToLower(p.Currency) != e.currency

	if p.Method != domain.PaymentMethodCard {
		return false, conversion
	}
	if p.PaymentMethodID == "" {
		return true, conversion
	}
	country, err := e.gateway.CardCountry(ctx, p.PaymentMethodID)
	if err != nil {
		log.Warn("Card country unavailable, applying international rate", "error", err)
		return true, conversion
	}
	return !strings.EqualFold(country, e.country), conversion
}
