package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nsridhar76/go-checkoutsvc/internal/config"
	"github.com/nsridhar76/go-checkoutsvc/internal/storage/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the orders table and its indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			slog.Info("Schema applied")
			return nil
		},
	}
}
