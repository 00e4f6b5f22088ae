package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nsridhar76/go-checkoutsvc/internal/config"
	"github.com/nsridhar76/go-checkoutsvc/internal/idempotency"
	"github.com/nsridhar76/go-checkoutsvc/internal/mail"
	"github.com/nsridhar76/go-checkoutsvc/internal/messaging"
	"github.com/nsridhar76/go-checkoutsvc/internal/messaging/kafka"
	"github.com/nsridhar76/go-checkoutsvc/internal/messaging/memory"
	"github.com/nsridhar76/go-checkoutsvc/internal/orders"
	"github.com/nsridhar76/go-checkoutsvc/internal/storage/postgres"
)

const claimPrefix = "checkoutsvc:"

// app holds the infrastructure shared by the serve and consume commands.
type app struct {
	cfg *config.Config

	pool   *pgxpool.Pool
	claims *idempotency.Store
	store  *postgres.OrderStore

	publisher messaging.Publisher
	run       func(ctx context.Context) error

	closers []func() error
}

// newApp connects storage and builds the order channel. When subscribe is
// set, both subscriptions are attached and run drives them.
func newApp(ctx context.Context, cfg *config.Config, subscribe bool) (*app, error) {
	a := &app{cfg: cfg}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.store = postgres.NewOrderStore(pool)

	if cfg.RedisURL != "" {
		rdb, err := idempotency.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.claims = idempotency.NewStore(rdb, claimPrefix)
		a.closers = append(a.closers, rdb.Close)
	} else {
		slog.Warn("REDIS_URL not set, webhook replay and send claims disabled")
	}

	var subs []messaging.Subscription
	if subscribe {
		subs, err = a.subscriptions()
		if err != nil {
			a.close()
			return nil, err
		}
	}

	if cfg.UseKafka() {
		pub := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		dlq := kafka.NewDeadLetterWriter(cfg.KafkaBrokers, cfg.KafkaDeadLetterTopic)
		a.publisher = pub
		a.closers = append(a.closers, pub.Close, dlq.Close)
		if subscribe {
			consumer := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:     cfg.KafkaBrokers,
				Topic:       cfg.KafkaTopic,
				GroupPrefix: cfg.KafkaGroupPrefix,
			}, subs, dlq, slog.Default())
			a.run = consumer.Run
		}
		slog.Info("Order channel on Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return a, nil
	}

	ch := memory.New(nil, slog.Default())
	for _, sub := range subs {
		ch.Subscribe(sub)
	}
	a.publisher = ch
	a.run = ch.Run
	a.closers = append(a.closers, ch.Close)
	slog.Warn("KAFKA_BROKERS not set, using in-process order channel")
	return a, nil
}

func (a *app) subscriptions() ([]messaging.Subscription, error) {
	if a.cfg.ResendAPIKey == "" {
		return nil, errors.New("RESEND_API_KEY is not set")
	}

	// A nil *idempotency.Store must not reach the notifier as a non-nil
	// interface.
	var claims orders.Claims
	if a.claims != nil {
		claims = a.claims
	}

	persister := orders.NewPersister(a.store, slog.Default())
	notifier := orders.NewNotifier(
		a.store,
		mail.Renderer{From: a.cfg.MailFrom, Subject: a.cfg.MailSubject, Currency: a.cfg.SettlementCurrency},
		mail.NewResendSender(a.cfg.ResendAPIKey, a.cfg.MailRatePerSecond),
		claims,
		orders.NotifierConfig{Logger: slog.Default()},
	)

	backoff := a.cfg.RetryBackoff
	return []messaging.Subscription{
		{
			Name:    messaging.SubscriptionProcessOrders,
			Handler: persister.Handle,
			Retry:   messaging.RetryPolicy{MaxAttempts: a.cfg.PersistMaxAttempts, InitialBackoff: backoff, MaxBackoff: 30 * time.Second},
		},
		{
			Name:    messaging.SubscriptionSendConfirmation,
			Handler: notifier.Handle,
			Retry:   messaging.RetryPolicy{MaxAttempts: a.cfg.NotifyMaxAttempts, InitialBackoff: backoff, MaxBackoff: 30 * time.Second},
		},
	}, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("Error closing resource", "error", err)
		}
	}
	a.closers = nil
}

func requireEnv(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}
