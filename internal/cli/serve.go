package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/noveltracker/internal/config"
	"github.com/bryan-buckman/noveltracker/internal/database"
	"github.com/bryan-buckman/noveltracker/internal/logger"
	"github.com/bryan-buckman/noveltracker/internal/metrics"
	"github.com/bryan-buckman/noveltracker/internal/security"
	"github.com/bryan-buckman/noveltracker/internal/server"
	"github.com/bryan-buckman/noveltracker/internal/source"
	"github.com/bryan-buckman/noveltracker/internal/tracker"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker server and its web page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			logger.SetupDefault(cmd.OutOrStdout(), cfg.LogLevel)
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default $NOVEL_ADDR or :5000)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.SetupDefault(cmd.ErrOrStderr(), cfg.LogLevel)
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			svc := tracker.New(store, source.NewRegistry(security.NewSafeClient(cfg.FetchTimeout, cfg.AllowPrivateFetch)))
			if err := svc.EnsureSettings(cmd.Context(), cfg.LibraryDir, cfg.CoverDir); err != nil {
				return fmt.Errorf("seed settings: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s database is up to date\n", store.DatabaseType())
			return nil
		},
	}
}

// openStore opens the configured backend. Both apply migrations on open.
func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		store, err := database.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	default:
		store, err := database.New(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBURL, err)
		}
		return store, nil
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("database ready", "type", store.DatabaseType())

	for _, dir := range []string{cfg.LibraryDir, cfg.CoverDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	sources := source.NewRegistry(security.NewSafeClient(cfg.FetchTimeout, cfg.AllowPrivateFetch))
	svc := tracker.New(store, sources, tracker.WithMetrics(rec), tracker.WithLogger(slog.Default()))
	if err := svc.EnsureSettings(ctx, cfg.LibraryDir, cfg.CoverDir); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}

	srv, err := server.New(svc,
		server.WithLogger(slog.Default()),
		server.WithMetrics(rec, reg),
		server.WithRateLimit(cfg.RateLimit),
		server.WithPoller(tracker.NewPoller(svc)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Addr) }()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("serve %s: %w", cfg.Addr, serveErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}
