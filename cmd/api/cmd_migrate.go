package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/queue-router/internal/config"
	"github.com/spec-kit/queue-router/internal/persistence"
	"github.com/spec-kit/queue-router/internal/repository/gormstore"
)

func init() {
	migrateCmd.Flags().String("dir", "", "migrations directory (defaults to POSTGRES_MIGRATIONS_DIR)")
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations for the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		switch cfg.Store.Driver {
		case config.StoreDriverPostgres:
			pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()
			if pg.Pool == nil {
				return persistence.ErrPostgresNotConfigured
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.Postgres.MigrationsDir
			}
			applied, err := persistence.RunMigrations(ctx, pg.Pool, dir, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) from %s\n", applied, dir)
		case config.StoreDriverGormPostgres, config.StoreDriverSQLite:
			driver, dsn := "postgres", cfg.Postgres.DSN
			if cfg.Store.Driver == config.StoreDriverSQLite {
				driver, dsn = "sqlite", cfg.Store.SQLiteDSN
			}
			store, err := gormstore.New(driver, dsn)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Driver)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "store driver %s has no schema\n", cfg.Store.Driver)
		}
		return nil
	},
}
