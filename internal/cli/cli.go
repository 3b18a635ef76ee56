package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/sandeepkv93/crm-auth-core/internal/app"
	"github.com/sandeepkv93/crm-auth-core/internal/config"
	"github.com/sandeepkv93/crm-auth-core/internal/database"
	"github.com/sandeepkv93/crm-auth-core/internal/observability"
)

var version = "dev"

type options struct {
	loadConfig func() (*config.Config, error)
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{loadConfig: config.Load})
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crm-auth",
		Short:         "Multi-tenant authentication and session service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSessionsCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, lp, err := bootstrap(ctx, opts, true)
			if err != nil {
				return err
			}
			a, cleanup, err := app.Initialize(ctx, cfg, logger, lp)
			if err != nil {
				if lp != nil {
					_ = lp.Shutdown(context.WithoutCancel(ctx))
				}
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the credential and session tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _, err := bootstrap(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			db, err := database.Open(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			logger.Info("schema migrated")
			cmd.Println("migrations applied")
			return nil
		},
	}
}

func newSessionsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Session maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions from the durable store once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _, err := bootstrap(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			ledger, cleanup, err := app.InitializeLedger(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			n := ledger.CleanupExpiredSessions(cmd.Context())
			cmd.Printf("removed %d expired sessions\n", n)
			return nil
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("crm-auth version %s\n", version)
		},
	}
}

// bootstrap loads config and installs the process logger. OTLP log export is
// only started for long-running commands.
func bootstrap(ctx context.Context, opts *options, exportLogs bool) (*config.Config, *slog.Logger, *sdklog.LoggerProvider, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	var lp *sdklog.LoggerProvider
	if exportLogs {
		lp, err = observability.InitLogs(ctx, cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init logs: %w", err)
		}
	}
	logger := observability.NewLogger(cfg, lp)
	slog.SetDefault(logger)
	return cfg, logger, lp, nil
}
