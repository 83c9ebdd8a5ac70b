package migrations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// CLI exposes the migration runner as a set of cobra subcommands.
type CLI struct {
	manager       *MigrationManager
	healthChecker *HealthChecker
	logger        *slog.Logger
}

// NewCLI builds the migration CLI.
func NewCLI(manager *MigrationManager, healthChecker *HealthChecker, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}

	return &CLI{manager: manager, healthChecker: healthChecker, logger: logger}
}

// GetRootCommand returns the root cobra command.
func (cli *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management tool",
		Long:  "Apply, roll back, and inspect schema migrations for the data capture engine.",
	}

	rootCmd.AddCommand(
		cli.upCommand(),
		cli.downCommand(),
		cli.statusCommand(),
		cli.versionCommand(),
		cli.healthCommand(),
	)

	return rootCmd
}

func (cli *CLI) upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := cli.healthChecker.PreMigrationCheck(ctx); err != nil {
				return fmt.Errorf("pre-migration health check failed: %w", err)
			}

			if err := cli.manager.Up(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if err := cli.healthChecker.PostMigrationCheck(ctx); err != nil {
				return fmt.Errorf("post-migration health check failed: %w", err)
			}

			fmt.Println("migrations applied successfully")
			return nil
		},
	}
}

func (cli *CLI) downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := cli.manager.Down(ctx); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}

			fmt.Println("migrations rolled back successfully")
			return nil
		},
	}
}

func (cli *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return cli.manager.Status(ctx)
		},
	}
}

func (cli *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			version, err := cli.manager.Version(ctx)
			if err != nil {
				return fmt.Errorf("get migration version: %w", err)
			}

			fmt.Printf("current migration version: %d\n", version)
			return nil
		},
	}
}

func (cli *CLI) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run health checks against the migration database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := cli.healthChecker.PreMigrationCheck(ctx); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Println("all health checks passed")
			return nil
		},
	}
}

// Execute runs the CLI.
func (cli *CLI) Execute() error {
	return cli.GetRootCommand().Execute()
}
