package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/access"
	"github.com/tidestore/tidestore/pkg/api"
	"github.com/tidestore/tidestore/pkg/auth"
	"github.com/tidestore/tidestore/pkg/config"
	"github.com/tidestore/tidestore/pkg/download"
	"github.com/tidestore/tidestore/pkg/event"
	"github.com/tidestore/tidestore/pkg/folder"
	"github.com/tidestore/tidestore/pkg/lifecycle"
	"github.com/tidestore/tidestore/pkg/quota"
	"github.com/tidestore/tidestore/pkg/ratelimit"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	volredis "github.com/tidestore/tidestore/pkg/store/volatile/redis"
	"github.com/tidestore/tidestore/pkg/upload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storage server",
	Long: `Start the TideStore server: HTTP surface, lifecycle workers, and
the optional metrics endpoint. The process exits 0 on SIGINT/SIGTERM after
draining in-flight requests, 1 on startup failure.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("starting tidestore", "version", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores
	meta, err := metadata.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer meta.Close()

	cache, err := volredis.New(ctx, volredis.Config{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
		MaxRetries:  cfg.Redis.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer cache.Close()

	blobs, err := blob.New(blob.Config{
		HotPath:  cfg.Storage.HotPath,
		ColdPath: cfg.Storage.ColdPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize blob backend: %w", err)
	}

	// Event sinks: structured logs always, Prometheus when enabled
	var sink event.Sink = event.LogSink{}
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		sink = event.MultiSink{event.LogSink{}, event.NewPrometheusSink(registry)}
	}

	// Core services
	accountant := quota.New(meta)
	policy := access.NewPolicy(meta)
	authSvc := auth.New(meta, cache, cfg.Auth)
	limiter := ratelimit.New(cache, cfg.RateLimit, sink)
	gate := ratelimit.NewAbuseGate(cache, cfg.RateLimit.AbuseThreshold, cfg.RateLimit.AbuseWindow, sink)

	uploads := upload.New(meta, cache, blobs, accountant, sink, upload.Config{
		ChunkSize:      cfg.Upload.ChunkSize.Bytes(),
		SessionTTL:     cfg.Upload.SessionTTL,
		ExpiryDaysFree: cfg.Lifecycle.ExpiryDaysFree,
	})
	downloads := download.New(meta, cache, blobs, policy, accountant, sink, download.Config{
		CacheTTL:      cfg.Download.CacheTTL,
		ExtensionDays: cfg.Lifecycle.ExtensionDays,
	})
	folders := folder.NewTree(meta, blobs, cache, accountant)

	// Lifecycle workers
	workers := []interface {
		Start()
		Stop()
	}{
		lifecycle.NewExpiryWorker(meta, blobs, cache, accountant, sink, cfg.Lifecycle),
		lifecycle.NewMigrationWorker(meta, blobs, cache, sink, cfg.Lifecycle),
		lifecycle.NewCleanupWorker(meta, blobs, cache, sink, cfg.Lifecycle),
	}
	for _, w := range workers {
		w.Start()
	}

	server := api.NewServer(cfg.Server, api.Deps{
		Meta:      meta,
		Cache:     cache,
		Blobs:     blobs,
		Uploads:   uploads,
		Download:  downloads,
		Folders:   folders,
		Quota:     accountant,
		Auth:      authSvc,
		Limiter:   limiter,
		Gate:      gate,
		ChunkSize: cfg.Upload.ChunkSize.Bytes(),
	})

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Drain HTTP first so no handler races a stopping worker
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", logger.KeyError, err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", logger.KeyError, err)
		}
	}
	for _, w := range workers {
		w.Stop()
	}

	logger.Info("shutdown complete")
	return nil
}
