package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/alias"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/api"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/config"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/metrics"
	avclassNats "github.com/sgerhart/aegisflux/backend/avclass/internal/nats"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/service"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("AVCLASS_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting AegisFlux AVClass Service")
	logger.Info("Configuration loaded",
		"config_path", *configPath,
		"http_addr", cfg.HTTPAddr,
		"nats_enabled", cfg.NATS.Enabled,
		"nats_url", cfg.NATS.URL,
		"request_subject", cfg.NATS.RequestSubject,
		"result_subject", cfg.NATS.ResultSubject,
		"rules_dir", cfg.Rules.Dir,
		"dataset_path", cfg.Dataset.Path,
		"updates_dir", cfg.Dataset.UpdatesDir,
		"watch_updates", cfg.Dataset.Watch,
		"include_malpedia_dataset", cfg.IncludeAliasDataset,
		"cache_size", cfg.CacheSize)

	// Create context for graceful shutdown, cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prometheusMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	var reportCache *store.ReportCache
	if cfg.CacheSize > 0 {
		reportCache, err = store.NewReportCache(cfg.CacheSize)
		if err != nil {
			logger.Error("Failed to create report cache", "error", err)
			os.Exit(1)
		}
		logger.Info("Report cache initialized", "size", cfg.CacheSize)
	}

	svc := service.New(service.Options{
		RulesDir:            cfg.Rules.Dir,
		DatasetPath:         cfg.Dataset.Path,
		UpdatesDir:          cfg.Dataset.UpdatesDir,
		IncludeAliasDataset: cfg.IncludeAliasDataset,
	}, reportCache, prometheusMetrics, logger)

	if err := svc.Start(ctx); err != nil {
		logger.Error("Failed to start avclass service", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = avclassNats.Connect(ctx, cfg.NATS.URL, prometheusMetrics, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
	}

	// Initialize configuration manager
	configManager := config.NewManager(cfg, nc, logger)
	configManager.Subscribe(func(snapshot *config.Snapshot) {
		logger.Info("Configuration updated, applying changes",
			"include_malpedia_dataset", snapshot.IncludeAliasDataset,
			"cache_size", snapshot.CacheSize)

		svc.SetIncludeAliasDataset(snapshot.IncludeAliasDataset)

		if reportCache == nil {
			if snapshot.CacheSize > 0 {
				logger.Info("Cache size changed but caching is disabled, restart to enable", "cache_size", snapshot.CacheSize)
			}
			return
		}
		if snapshot.CacheSize == 0 {
			reportCache.Purge()
			return
		}
		if evicted := reportCache.Resize(snapshot.CacheSize); evicted > 0 {
			logger.Info("Report cache resized", "size", snapshot.CacheSize, "evicted", evicted)
		}
	})
	if err := configManager.Start(ctx); err != nil {
		logger.Warn("Failed to subscribe to configuration changes, using static configuration", "error", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Start dataset watcher if enabled
	if cfg.Dataset.Watch {
		watcher := alias.NewWatcher(cfg.Dataset.UpdatesDir,
			time.Duration(cfg.Dataset.DebounceMs)*time.Millisecond,
			svc.LoadLatest,
			logger)
		group.Go(func() error {
			// Reloads stay available through /v1/dataset/reload without the watcher
			if err := watcher.Run(groupCtx); err != nil {
				logger.Error("Alias dataset watcher stopped", "dir", cfg.Dataset.UpdatesDir, "error", err)
			}
			return nil
		})
	}

	// Create HTTP API
	httpAPI := api.NewHTTPAPI(svc, prometheusMetrics, nc, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpAPI.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP server
	group.Go(func() error {
		logger.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down avclass service...")

		// Shutdown HTTP server
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// Start NATS subscriber
	if nc != nil {
		subscriber := avclassNats.NewSubscriber(nc, svc,
			cfg.NATS.RequestSubject,
			cfg.NATS.ResultSubject,
			cfg.NATS.Queue,
			prometheusMetrics,
			logger)
		group.Go(func() error {
			logger.Info("Starting NATS subscriber")
			return subscriber.Subscribe(groupCtx)
		})
	}

	logger.Info("AVClass service started successfully")

	if err := group.Wait(); err != nil {
		logger.Error("AVClass service stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("AVClass service stopped")
}

// parseLevel maps a configured level name to a slog level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
