// Package cli implements receiptsctl, the operator tool for the receipts database.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	repo "github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// DB is an open database handle for one command.
type DB struct {
	Driver *entsql.Driver
	Ping   func(ctx context.Context) error
	Close  func()
}

// Opener connects to the database described by cfg.
type Opener func(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*DB, error)

// PostgresOpener opens the pgx pool the services use.
func PostgresOpener(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*DB, error) {
	if cfg.Database.DSN == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "DB_URL is required", common.ErrInvalidInput)
	}
	drv, pool, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         2,
		MinConns:         1,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &DB{
		Driver: drv,
		Ping:   func(ctx context.Context) error { return repo.HealthCheck(ctx, pool, 5*time.Second, logger) },
		Close:  func() { repo.Close(drv, pool, logger) },
	}, nil
}

// RootOptions holds global state shared by subcommands.
type RootOptions struct {
	Verbose bool

	open   Opener
	cfg    *common.Config
	logger *slog.Logger
}

// NewRootCommand creates receiptsctl. open is how subcommands reach the database.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "receiptsctl",
		Short:         "Administer the receipts pipeline database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if opts.Verbose {
				level = "debug"
			}
			opts.cfg = cfg
			opts.logger = common.NewLogger(cmd.ErrOrStderr(), level)
			return nil
		},
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	return cmd
}

// withDB opens the database for the duration of fn.
func (o *RootOptions) withDB(ctx context.Context, fn func(db *DB) error) error {
	db, err := o.open(ctx, o.cfg, o.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

// Execute runs receiptsctl against Postgres and exits non-zero on error.
func Execute() {
	if err := NewRootCommand(PostgresOpener).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
