package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
This command reads the database connection parameters from the config file
and applies all migrations that haven't been run yet.`,
	RunE: runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, cfg, err := newMigrator(cmd)
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, fmt.Sprintf("About to apply migrations to database %s@%s:%d/%s. Continue?",
		cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled by user")
		return nil
	}

	slog.Info("Applying database migrations")
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No migrations to apply, database is up to date")
			displayMigrationVersion(m)
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("Migrations applied successfully")
	displayMigrationVersion(m)
	return nil
}
