package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/stockledger-backend/pkg/config"
	"github.com/angelmondragon/stockledger-backend/pkg/db"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/migrate"
)

type rootOptions struct {
	dir string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the stockledger database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")

	root.AddCommand(
		gooseCmd(opts, "up", "Apply all pending migrations"),
		gooseCmd(opts, "down", "Roll back the latest migration"),
		gooseCmd(opts, "status", "Print the status of every migration"),
		versionCmd(opts),
		createCmd(opts),
		validateCmd(opts),
	)
	return root
}

func gooseCmd(opts *rootOptions, command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), opts, command, func(ctx context.Context, sqlDB *sql.DB, dialect string) error {
				if err := migrate.Run(ctx, sqlDB, dialect, opts.dir, command); err != nil {
					return fmt.Errorf("goose %s failed: %w", command, err)
				}
				return nil
			})
		},
	}
}

func versionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version <YYYYMMDDHHMMSS>",
		Short: "Migrate up or down to the given version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), opts, "version", func(ctx context.Context, sqlDB *sql.DB, dialect string) error {
				if err := migrate.MigrateToVersion(ctx, sqlDB, dialect, opts.dir, args[0]); err != nil {
					return fmt.Errorf("goose version migrate failed: %w", err)
				}
				return nil
			})
		},
	}
}

func createCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a timestamped SQL migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.CreateSQLMigration(opts.dir, args[0], time.Now().UTC())
			if err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	}
}

func validateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check migration file names and goose annotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate.ValidateDir(opts.dir); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	}
}

// withDatabase loads config and opens the database for commands that touch
// the schema.
func withDatabase(ctx context.Context, opts *rootOptions, command string, fn func(ctx context.Context, sqlDB *sql.DB, dialect string) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": command,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "resource not working: database", err)
		return err
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "resource not working: sql database", err)
		return err
	}

	logg.Info(ctx, "migrate ready")
	return fn(ctx, sqlDB, migrate.Dialect(cfg.DB.Driver))
}
