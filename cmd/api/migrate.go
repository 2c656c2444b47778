package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/persistence"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations to Postgres.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return errors.New("migrate requires STORE_DRIVER=postgres")
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	return persistence.RunMigrations(ctx, pg.PoolHandle(), logger)
}
