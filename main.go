package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata" // backfill windows use the user's IANA zone

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livmore-rook-sync/internal/backfill"
	"livmore-rook-sync/internal/cache"
	"livmore-rook-sync/internal/config"
	"livmore-rook-sync/internal/connect"
	"livmore-rook-sync/internal/dashboard"
	"livmore-rook-sync/internal/database"
	"livmore-rook-sync/internal/events"
	"livmore-rook-sync/internal/handlers"
	"livmore-rook-sync/internal/identity"
	"livmore-rook-sync/internal/ingest"
	"livmore-rook-sync/internal/metrics"
	"livmore-rook-sync/internal/rook"
	"livmore-rook-sync/internal/sentry"
	"livmore-rook-sync/internal/worker"
)

const release = "livmore-rook-sync"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting livmore-rook-sync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	hostname, _ := os.Hostname()
	if err := sentry.Init(sentry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     release,
		ServerName:  hostname,
	}, logger); err != nil {
		logger.Warn("Continuing without error reporting", "error", err)
	}
	defer sentry.Flush(2 * time.Second)

	// Open database
	db, err := database.OpenAndMigrate(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	pullCache := newCache(cfg, logger)

	// Event transport: RabbitMQ when configured, otherwise in-process
	var (
		publisher  events.Publisher
		subscriber events.Subscriber
	)
	if cfg.RabbitMQURL != "" {
		amqpPublisher := events.NewAMQPPublisher(cfg.RabbitMQURL)
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		subscriber = events.NewAMQPSubscriber(cfg.RabbitMQURL)
		logger.Info("Using RabbitMQ event transport")
	} else {
		bus := events.NewBus(256)
		publisher = bus
		subscriber = bus
		logger.Info("Using in-process event transport")
	}

	// Dashboard pulls fail fast; backfill retries and waits out 429 pauses
	pullClient := rook.NewClient(rook.Options{
		BaseURL:           cfg.RookAPIBaseURL,
		ClientUUID:        cfg.RookClientUUID,
		SecretKey:         cfg.RookSecretKey,
		Timeout:           cfg.RookTimeout,
		RequestsPerSecond: cfg.RookRequestsPerSecond,
	})
	backfillClient := rook.NewClient(rook.Options{
		BaseURL:           cfg.RookBackfillBaseURL,
		ClientUUID:        cfg.RookClientUUID,
		SecretKey:         cfg.RookSecretKey,
		Timeout:           cfg.RookTimeout,
		MaxRetries:        cfg.RookBackfillRetries,
		RequestsPerSecond: cfg.RookRequestsPerSecond,
		WaitOutPauses:     true,
	})

	pipeline := ingest.NewService(db, identity.NewResolver(db), publisher)
	dash := dashboard.NewService(db, pullClient, pullCache, publisher, dashboard.Options{
		CacheTTL:         cfg.CacheTTL,
		CacheNegativeTTL: cfg.CacheNegativeTTL,
	})
	job := backfill.NewJob(db, backfillClient, publisher, cfg.BackfillWindowDays)

	connections := connect.NewManager(cfg.RookConnectBaseURL, cfg.RookClientUUID, db)
	defer connections.Close()

	router := handlers.NewRouter(handlers.RouterDeps{
		Logger:         logger,
		InternalAPIKey: cfg.InternalAPIKey,
		ClientUUID:     cfg.RookClientUUID,
		Pipeline:       pipeline,
		Connections:    connections,
		Dashboard:      dash,
		Backfill:       job,
		Verify:         db,
		WebhookLogs:    db,
		Health:         db,
		RateLimits: map[string]handlers.RateLimitReporter{
			"pull":     pullClient,
			"backfill": backfillClient,
		},
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // backfill runs inside the request
		IdleTimeout:  120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	var wg sync.WaitGroup

	// Start event worker in background
	challenge := worker.NewChallengeSyncer(cfg.ChallengeSyncURL, cfg.RookTimeout)
	workerInstance := worker.NewWorker(subscriber, challenge.Sync, dash.Invalidate)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sentry.RecoverAndCapture(logger)
		if err := workerInstance.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event worker failed", "error", err)
		}
	}()

	// Start storage collector and metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sentry.RecoverAndCapture(logger)
			logger.Info("Starting storage collector")
			metrics.StartStorageCollector(bgCtx, db, 30*time.Second)
		}()

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	// Stop background loops after in-flight requests have published
	bgCancel()
	wg.Wait()

	logger.Info("Server stopped")
}

// newCache returns a Redis-backed cache when REDIS_ADDR is set and
// reachable, otherwise a per-process cache
func newCache(cfg *config.Config, logger *slog.Logger) cache.Cache {
	if cfg.RedisAddr != "" {
		if client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); client != nil {
			logger.Info("Using Redis pull cache", "addr", cfg.RedisAddr)
			return cache.NewRedis(client)
		}
	}
	logger.Info("Using in-memory pull cache", "max_entries", cfg.CacheMaxEntries)
	return cache.NewMemory(cfg.CacheMaxEntries)
}
