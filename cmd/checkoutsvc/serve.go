package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nsridhar76/go-checkoutsvc/internal/config"
	"github.com/nsridhar76/go-checkoutsvc/internal/httpapi"
	"github.com/nsridhar76/go-checkoutsvc/internal/settlement"
	"github.com/nsridhar76/go-checkoutsvc/internal/stripeapi"
	"github.com/nsridhar76/go-checkoutsvc/internal/webhook"
)

func serveCmd() *cobra.Command {
	var ordersRPS float64
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook and order API and run both order subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(config.LoadConfig(), rate.Limit(ordersRPS))
		},
	}
	cmd.Flags().Float64Var(&ordersRPS, "orders-rps", 5, "per-client request rate on /orders (0 disables)")
	return cmd
}

func runServe(cfg *config.Config, ordersRate rate.Limit) error {
	if err := requireEnv(
		"STRIPE_SECRET_KEY", cfg.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET", cfg.StripeWebhookSecret,
	); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	executor := settlement.NewExecutor(stripeapi.New(cfg.StripeSecretKey, nil), a.publisher, settlement.Config{
		Fees:        cfg.Fees,
		Currency:    cfg.SettlementCurrency,
		HomeCountry: cfg.HomeCountry,
		Logger:      slog.Default(),
	})

	opts := []webhook.Option{webhook.WithLogger(slog.Default())}
	if a.claims != nil {
		opts = append(opts, webhook.WithClaims(a.claims))
	}

	router := httpapi.NewRouter(httpapi.Config{
		Webhook:     webhook.NewHandler(cfg.StripeWebhookSecret, executor, opts...),
		Publisher:   a.publisher,
		Orders:      a.store,
		AdminSecret: cfg.AdminJWTSecret,
		OrdersRate:  ordersRate,
		OrdersBurst: 10,
		Logger:      slog.Default(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The channel outlives the HTTP server so orders published by in-flight
	// webhooks are still delivered.
	channelCtx, cancelChannel := context.WithCancel(context.Background())
	defer cancelChannel()
	channelDone := make(chan error, 1)
	go func() { channelDone <- a.run(channelCtx) }()

	slog.Info("Server starting", "env", cfg.Env, "port", cfg.Port)
	serveErr := serveHTTP(ctx, srv, cfg.ShutdownTimeout)

	cancelChannel()
	if err := <-channelDone; err != nil {
		slog.Error("Order channel stopped with error", "error", err)
	}
	if serveErr != nil {
		return serveErr
	}
	slog.Info("Server exited successfully")
	return nil
}

// serveHTTP runs srv until ctx is done or it fails to serve, then shuts it
// down. It returns the serve error, if any.
func serveHTTP(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var failed error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case err := <-serverErr:
		slog.Error("Server forced to shutdown", "error", err)
		failed = fmt.Errorf("serve http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	return failed
}
