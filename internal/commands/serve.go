package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/klaviyo-relay/internal/handlers"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/repository"
	"github.com/telhawk-systems/klaviyo-relay/internal/retention"
	"github.com/telhawk-systems/klaviyo-relay/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the retention schedule",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("skip-migrations", false, "do not apply pending migrations on start")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if skip, _ := cmd.Flags().GetBool("skip-migrations"); !skip {
		logger.Info("Running database migrations...")
		if err := repository.Migrate(cfg.Database.Postgres.ConnString(), cfg.Database.MigrationsDir); err != nil {
			return err
		}
		logger.Info("Database migrations completed")
	}

	var cleanup closers
	defer cleanup.run()

	repo, err := newRepository(ctx)
	if err != nil {
		return err
	}
	cleanup.add(repo.Close)

	client, err := newKlaviyoClient()
	if err != nil {
		return err
	}
	analyticsSvc, err := newAnalytics(client, &cleanup)
	if err != nil {
		return err
	}
	dispatchSvc, err := newDispatch(client, repo, &cleanup)
	if err != nil {
		return err
	}

	if cfg.Retention.Enabled {
		sweeper := retention.NewSweeper(repo, cfg.Retention.Days, logger)
		sched, err := retention.NewScheduler(ctx, sweeper, cfg.Retention.Schedule, logger)
		if err != nil {
			return err
		}
		sched.Start()
		cleanup.add(func() {
			if err := sched.Shutdown(); err != nil {
				logger.Warn("retention scheduler shutdown failed", logging.Error(err))
			}
		})
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handlers.NewHandler(analyticsSvc, dispatchSvc, repo, logger)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Relay listening", "addr", srv.Addr, "bulk_mode", dispatchSvc.BulkMode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}
