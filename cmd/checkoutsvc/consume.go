package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nsridhar76/go-checkoutsvc/internal/config"
)

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run the order persistence and confirmation subscriptions",
		Long: `Run both order channel subscriptions without the HTTP surface.

Requires KAFKA_BROKERS: the in-process channel only delivers messages
published by the same process, which is what "serve" does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(config.LoadConfig())
		},
	}
}

func runConsume(cfg *config.Config) error {
	if !cfg.UseKafka() {
		return errors.New("consume requires KAFKA_BROKERS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	slog.Info("Consumer starting", "env", cfg.Env, "topic", cfg.KafkaTopic)
	if err := a.run(ctx); err != nil {
		return err
	}
	slog.Info("Consumer exited successfully")
	return nil
}
