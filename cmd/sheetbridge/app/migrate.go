package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheetbridge/sheetbridge/database"
	"github.com/sheetbridge/sheetbridge/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// newMigrator loads the configuration named by the command's --config flag
// and builds a migrator for its database.
func newMigrator(cmd *cobra.Command) (database.Migrator, *config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return nil, nil, fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	m, err := database.NewFromConnectionString(connString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, cfg, nil
}

// confirm prompts on stdin unless the --yes flag is set.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	fmt.Printf("%s (yes/no): ", prompt)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y", nil
}

func displayMigrationVersion(m database.Migrator) {
	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("Failed to get migration version", "error", err)
		return
	}
	if dirty {
		slog.Warn("Database is in a dirty state, manual intervention may be required",
			"version", version)
	} else {
		slog.Info("Current migration version", "version", version)
	}
}
