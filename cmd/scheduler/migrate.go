package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/program-scheduler/internal/persistence/sqlite"
	"github.com/example/program-scheduler/internal/persistence/sqlite/migration"
)

func newMigrateCommand(a *app) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(cmd.ErrOrStderr()); err != nil {
				return err
			}
			defer a.close()

			store, err := sqlite.Open(migration.DefaultSQLiteConfig(a.cfg.SQLiteDSN), a.logger)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			if statusOnly {
				return printMigrationStatus(cmd, store)
			}
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			a.logger.Info("database is up to date", "dsn", a.cfg.SQLiteDSN)
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "report applied and pending migrations without applying them")
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, store *sqlite.Store) error {
	status, err := store.MigrationStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}

	out := cmd.OutOrStdout()
	current := status.CurrentVersion
	if current == "" {
		current = "none"
	}
	fmt.Fprintf(out, "current version: %s\n", current)
	for _, applied := range status.AppliedMigrations {
		fmt.Fprintf(out, "applied  %s  %s\n", applied.Version, applied.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, pending := range status.PendingMigrations {
		fmt.Fprintf(out, "pending  %s  %s\n", pending.Version, pending.Description)
	}
	return nil
}
