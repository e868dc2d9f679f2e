// Package main provides the entry point for the moderation API server.
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

	"github.com/maauso/speechguard-api/internal/bootstrap"
	"github.com/maauso/speechguard-api/internal/config"
	"github.com/maauso/speechguard-api/internal/observe"
	"github.com/maauso/speechguard-api/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting moderation API",
		slog.String("version", version),
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Bool("beam_asr", cfg.BeamEnabled()),
		slog.Bool("diarization", cfg.DiarizationEnabled),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled),
	)

	var metrics *observe.Metrics
	otelShutdown := func(context.Context) error { return nil }
	routerConfig := server.DefaultConfig()
	if cfg.MetricsEnabled {
		otelShutdown, err = observe.InitProvider(context.Background(), observe.ProviderConfig{
			ServiceVersion: version,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		metrics = observe.DefaultMetrics()
		routerConfig.Metrics = metrics
		routerConfig.MetricsHandler = observe.Handler()
	}

	deps, err := bootstrap.NewDependencies(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	handlers := server.NewHandlers(deps.Service, logger, server.WithDefaultOptions(deps.Defaults))
	router := server.NewRouter(handlers, logger, routerConfig)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  120 * time.Second, // Large audio uploads
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	if cfg.JobRetention > 0 {
		go pruneJobs(pruneCtx, deps, cfg.JobRetention, logger)
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	stopPrune()

	// Running jobs are bounded by RUN_TIMEOUT; give them the rest of the
	// shutdown window.
	done := make(chan struct{})
	go func() {
		deps.Service.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("abandoning running moderation jobs")
	}

	if err := otelShutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("server stopped gracefully")
	return nil
}

// pruneJobs periodically forgets finished jobs older than retention.
func pruneJobs(ctx context.Context, deps *bootstrap.Dependencies, retention time.Duration, logger *slog.Logger) {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := deps.Service.PruneFinished(ctx, now.Add(-retention))
			if err != nil {
				logger.Warn("pruning finished jobs failed", slog.Any("error", err))
			}
			if n > 0 {
				logger.Info("pruned finished jobs", slog.Int("count", n))
			}
		}
	}
}
