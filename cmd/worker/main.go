package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/owfn/service/config"
	"github.com/brojonat/owfn/service/db"
	"github.com/brojonat/owfn/service/helius"
	"github.com/brojonat/owfn/service/metrics"
	natspkg "github.com/brojonat/owfn/service/nats"
	"github.com/brojonat/owfn/service/presale"
	"github.com/brojonat/owfn/service/solana"
	"github.com/brojonat/owfn/service/temporal"
	"github.com/brojonat/owfn/service/upstream"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Presale history source, same selection as the gateway.
	var source presale.TransactionSource
	switch cfg.Presale.Source {
	case "rpc":
		rpcURL, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(cfg.QuickNodeRPCURL))
		if err != nil {
			logger.Error("invalid QUICKNODE_RPC_URL", "error", err)
			os.Exit(1)
		}
		source = solana.NewClient(solana.NewRPCClient(rpcURL), metricsCollector, logger)
	default:
		if cfg.HeliusAPIKey == "" {
			logger.Error("HELIUS_API_KEY is required when PRESALE_SOURCE=helius")
			os.Exit(1)
		}
		source = helius.NewClient(cfg.HeliusAPIKey, cfg.HeliusAPIURL, cfg.HeliusRPCURL,
			upstream.NewClient("helius", nil, logger, metricsCollector), logger)
	}
	logger.Info("initialized presale source", "source", cfg.Presale.Source)

	aggregator := presale.NewAggregator(source, presale.Config{
		Wallet: cfg.Presale.WalletAddress,
		Terms: presale.Terms{
			Rate:               cfg.Presale.Rate,
			BonusThresholdSOL:  cfg.Presale.BonusThresholdSOL,
			BonusPercentage:    cfg.Presale.BonusPercentage,
			MinContributionSOL: cfg.Presale.MinContributionSOL,
			MaxContributionSOL: cfg.Presale.MaxContributionSOL,
			StartTime:          cfg.Presale.StartTime,
		},
		Policy: presale.PaginationPolicy{
			PageSize:   cfg.Presale.PageSize,
			MaxPages:   cfg.Presale.MaxPages,
			MaxRecords: cfg.Presale.MaxRecords,
		},
		RequireSigner: cfg.Presale.RequireSigner,
		SourceName:    cfg.Presale.Source,
	}, logger, metricsCollector)

	// Ledger (optional): without it every polled contribution is published
	// and JetStream's duplicate window drops the repeats.
	var ledger temporal.LedgerInterface
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		ledger = db.NewStore(pool, metricsCollector)
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, contribution ledger disabled")
	}

	var publisher temporal.PublisherInterface
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, presale feed will not be published")
	}

	// Keep the schedule in line with PRESALE_FEED_INTERVAL; zero removes it.
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	if err := temporal.ReconcileSchedule(ctx, temporalClient, cfg.PresaleFeedInterval, temporal.DefaultFeedLimit, logger); err != nil {
		logger.Error("failed to reconcile presale schedule", "error", err)
		temporalClient.Close()
		os.Exit(1)
	}
	temporalClient.Close()

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Source:            aggregator,
		Ledger:            ledger,
		Publisher:         publisher,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
