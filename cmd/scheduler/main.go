// Package main is the long-running scheduler for deployments without
// EventBridge.
//
// It drives the tick, flush and cleanup tasks from in-process cron schedules
// and serves the operational HTTP API (health, manual user checks and the
// notification history). Replicas may run side by side; the job lock keeps a
// task from running twice for the same minute.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gardennotify/internal/app"
	"gardennotify/internal/config"
	"gardennotify/internal/scheduler"
)

// shutdownTimeout bounds draining of in-flight requests and cron jobs.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel).With("service", cfg.Service)
	logger.Info("scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building dependencies: %w", err)
	}
	defer a.Close()

	srv, err := a.NewServer()
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	driver, err := scheduler.NewCronDriver(a.Runner, scheduler.CronSpecs{
		Tick:    cfg.Engine.TickSpec,
		Flush:   cfg.Engine.FlushSpec,
		Cleanup: cfg.Engine.CleanupSpec,
	}, cfg.Engine.TickTimeout, logger.With("component", "cron"))
	if err != nil {
		return fmt.Errorf("building cron driver: %w", err)
	}

	return serve(ctx, srv.Handler(), driver, cfg, logger)
}

// serve runs the cron driver and the HTTP server until ctx is cancelled or
// the listener fails, then drains both.
func serve(ctx context.Context, handler http.Handler, driver *scheduler.CronDriver, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Engine.TickTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	driver.Start()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	driver.Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if runErr == nil {
		logger.Info("scheduler stopped cleanly")
	}
	return runErr
}
