package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/owfn/service/ai"
	"github.com/brojonat/owfn/service/cache"
	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/config"
	"github.com/brojonat/owfn/service/db"
	"github.com/brojonat/owfn/service/email"
	"github.com/brojonat/owfn/service/helius"
	"github.com/brojonat/owfn/service/metrics"
	natspkg "github.com/brojonat/owfn/service/nats"
	"github.com/brojonat/owfn/service/presale"
	"github.com/brojonat/owfn/service/pricing"
	"github.com/brojonat/owfn/service/server"
	"github.com/brojonat/owfn/service/solana"
	"github.com/brojonat/owfn/service/tokeninfo"
	"github.com/brojonat/owfn/service/upstream"
	"github.com/brojonat/owfn/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"presale_source", cfg.Presale.Source,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil)

	// Upstream HTTP clients. Gemini streams, so it relies on request contexts
	// rather than a client timeout.
	httpClient := &http.Client{Timeout: 20 * time.Second}
	heliusClient := helius.NewClient(cfg.HeliusAPIKey, cfg.HeliusAPIURL, cfg.HeliusRPCURL,
		upstream.NewClient("helius", httpClient, logger, metricsCollector), logger)
	jupiter := pricing.NewJupiter(cfg.JupiterPriceURL,
		upstream.NewClient("jupiter", httpClient, logger, metricsCollector), logger)
	dexscreener := pricing.NewDexscreener(cfg.DexscreenerAPIURL,
		upstream.NewClient("dexscreener", httpClient, logger, metricsCollector), logger)

	rpcURL, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(cfg.QuickNodeRPCURL))
	if err != nil {
		logger.Error("invalid QUICKNODE_RPC_URL", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(solana.NewRPCClient(rpcURL), metricsCollector, logger)
	logger.Info("initialized solana RPC client")

	var source presale.TransactionSource = heliusClient
	if cfg.Presale.Source == "rpc" {
		source = solanaClient
	}
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

	// Balance cache: Redis when configured so replicas share entries.
	var balanceCache cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL, "owfn:")
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		balanceCache = redisCache
		logger.Info("using redis balance cache")
	} else {
		memCache := cache.NewMemoryCache()
		go memCache.RunSweeper(ctx, time.Minute)
		balanceCache = memCache
		logger.Info("using in-memory balance cache")
	}
	balances := wallet.NewResolver(heliusClient, jupiter, balanceCache, logger,
		wallet.WithTTL(cfg.BalanceCacheTTL),
		wallet.WithMetrics(metricsCollector),
	)

	tokens := tokeninfo.NewResolver(solanaClient, dexscreener, logger)

	deps := server.Deps{
		Balances: balances,
		Presale:  aggregator,
		Tokens:   tokens,
	}

	// Database (optional): social cases and donation totals.
	var donations chat.DonationStats
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
		logger.Info("connected to database")

		store := db.NewStore(pool, metricsCollector)
		deps.Social = store
		donations = store
	}

	stats := chat.NewCollector(aggregator, donations)
	deps.Stats = stats

	if cfg.GeminiAPIKey != "" {
		gemini := ai.NewClient(cfg.GeminiAPIKey, cfg.GeminiAPIURL, cfg.GeminiModel,
			upstream.NewClient("gemini", &http.Client{}, logger, metricsCollector), logger)
		deps.Chat = chat.NewGateway(gemini, stats, logger, metricsCollector)
		logger.Info("initialized gemini client", "model", gemini.Model())
	}

	if cfg.ResendAPIKey != "" {
		composer, err := email.NewComposer()
		if err != nil {
			logger.Error("failed to load email templates", "error", err)
			os.Exit(1)
		}
		resend := email.NewResend(cfg.ResendAPIKey, cfg.ResendAPIURL,
			upstream.NewClient("resend", httpClient, logger, metricsCollector))
		deps.Mailer = email.NewService(composer, resend, cfg.EmailFrom, logger, metricsCollector)
	}

	if cfg.NATSURL != "" {
		subscriber, err := natspkg.NewSubscriber(cfg.NATSURL, "owfn-sse-feed", logger)
		if err != nil {
			logger.Error("failed to create NATS subscriber", "error", err)
			os.Exit(1)
		}
		defer subscriber.Close()
		deps.Feed = subscriber
	}

	httpServer := server.New(cfg.ServerAddr, cfg, deps, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"database", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"nats", cfg.NATSURL != "",
		"gemini", cfg.GeminiAPIKey != "",
		"resend", cfg.ResendAPIKey != "",
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
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
