package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/etl-monitor/internal/bootstrap"
	"github.com/vitaliisemenov/etl-monitor/internal/config"
	"github.com/vitaliisemenov/etl-monitor/internal/infrastructure/migrations"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "loaderctl",
	Short: "Operator CLI for the ETL monitoring platform",
	Long: `loaderctl drives the control plane's approval workflow, backfill
jobs, and signal queries, and wraps schema migrations.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML file")
	rootCmd.AddCommand(approvalCmd, backfillCmd, signalsCmd, migrateCmd())
}

// Execute runs loaderctl's root command.
func Execute() error {
	return rootCmd.Execute()
}

// connectApp loads configuration and connects to Postgres/Redis for a
// single CLI invocation. Callers must call app.Close when done.
func connectApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg, slog.Default())
}

// migrateCmd wraps internal/infrastructure/migrations' own CLI, the
// identical tree cmd/migrate mounts standalone.
func migrateCmd() *cobra.Command {
	migrationConfig, err := migrations.LoadConfig()
	if err != nil {
		return errorCommand("migrate", err)
	}
	backupConfig, err := migrations.LoadBackupConfig()
	if err != nil {
		return errorCommand("migrate", err)
	}
	healthConfig, err := migrations.LoadHealthConfig()
	if err != nil {
		return errorCommand("migrate", err)
	}

	manager, err := migrations.NewMigrationManager(migrationConfig)
	if err != nil {
		return errorCommand("migrate", err)
	}
	backupManager := migrations.NewBackupManager(backupConfig, nil, migrationConfig.Logger)
	healthChecker := migrations.NewHealthChecker(nil, healthConfig, migrationConfig.Logger)

	return migrations.NewCLI(manager, backupManager, healthChecker, migrationConfig.Logger).GetRootCommand()
}

// errorCommand stands in for a subcommand that failed to construct, so
// Execute still reports a clear error instead of a nil command panic.
func errorCommand(use string, cause error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "unavailable: " + cause.Error(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cause
		},
	}
}
