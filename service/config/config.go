package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// Upstream credentials are optional at load time: routes that need a missing
// key answer with a configuration error instead of halting startup.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration (optional)
	DatabaseURL string

	// Upstream credentials and endpoints
	HeliusAPIKey      string
	HeliusAPIURL      string
	HeliusRPCURL      string
	QuickNodeRPCURL   string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiAPIURL      string
	ResendAPIKey      string
	ResendAPIURL      string
	EmailFrom         string
	JupiterPriceURL   string
	DexscreenerAPIURL string

	// Presale configuration
	Presale PresaleConfig

	// Cache configuration
	BalanceCacheTTL time.Duration
	RedisURL        string

	// NATS configuration (optional)
	NATSURL string

	// Temporal configuration
	TemporalHost        string
	TemporalNamespace   string
	TemporalTaskQueue   string
	PresaleFeedInterval time.Duration

	// Rate limiting for AI and email routes
	AIRateLimitRPS   float64
	AIRateLimitBurst int
}

// PresaleConfig holds the presale terms and the pagination policy used when
// scanning the presale wallet history.
type PresaleConfig struct {
	WalletAddress      string
	Rate               float64 // OWFN per SOL
	BonusThresholdSOL  float64
	BonusPercentage    float64
	MinContributionSOL float64
	MaxContributionSOL float64
	StartTime          *time.Time
	Source             string // "helius" or "rpc"
	PageSize           int
	MaxPages           int
	MaxRecords         int
	RequireSigner      bool // only count transfers whose source signed the transaction
}

// Load reads configuration from environment variables and validates all required fields.
// A .env file in the working directory is honored if present.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// Upstreams
	cfg.HeliusAPIKey = os.Getenv("HELIUS_API_KEY")
	cfg.HeliusAPIURL = getEnvOrDefault("HELIUS_API_URL", "https://api.helius.xyz")
	cfg.HeliusRPCURL = getEnvOrDefault("HELIUS_RPC_URL", "https://mainnet.helius-rpc.com")
	cfg.QuickNodeRPCURL = getEnvOrDefault("QUICKNODE_RPC_URL", "https://api.mainnet-beta.solana.com")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash")
	cfg.GeminiAPIURL = getEnvOrDefault("GEMINI_API_URL", "https://generativelanguage.googleapis.com/v1beta")
	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.ResendAPIURL = getEnvOrDefault("RESEND_API_URL", "https://api.resend.com")
	cfg.EmailFrom = getEnvOrDefault("EMAIL_FROM", "OWFN <noreply@owfn.org>")
	cfg.JupiterPriceURL = getEnvOrDefault("JUPITER_PRICE_URL", "https://lite-api.jup.ag/price/v3")
	cfg.DexscreenerAPIURL = getEnvOrDefault("DEXSCREENER_URL", "https://api.dexscreener.com")

	// Presale wallet
	cfg.Presale.WalletAddress = os.Getenv("PRESALE_WALLET_ADDRESS")
	if cfg.Presale.WalletAddress == "" {
		errs = append(errs, fmt.Errorf("PRESALE_WALLET_ADDRESS is required"))
	} else if _, err := solanago.PublicKeyFromBase58(cfg.Presale.WalletAddress); err != nil {
		errs = append(errs, fmt.Errorf("PRESALE_WALLET_ADDRESS: invalid public key %q: %w", cfg.Presale.WalletAddress, err))
	}

	// Presale terms
	floats := []struct {
		key  string
		def  float64
		dest *float64
	}{
		{"PRESALE_RATE", 10_000_000, &cfg.Presale.Rate},
		{"PRESALE_BONUS_THRESHOLD_SOL", 2, &cfg.Presale.BonusThresholdSOL},
		{"PRESALE_BONUS_PERCENTAGE", 10, &cfg.Presale.BonusPercentage},
		{"PRESALE_MIN_CONTRIBUTION_SOL", 0.0001, &cfg.Presale.MinContributionSOL},
		{"PRESALE_MAX_CONTRIBUTION_SOL", 10, &cfg.Presale.MaxContributionSOL},
		{"AI_RATE_LIMIT_RPS", 1, &cfg.AIRateLimitRPS},
	}
	for _, f := range floats {
		v, err := parseFloat(f.key, f.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dest = v
	}

	if startStr := os.Getenv("PRESALE_START_TIME"); startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRESALE_START_TIME: invalid RFC3339 time %q: %w", startStr, err))
		} else {
			cfg.Presale.StartTime = &start
		}
	}

	cfg.Presale.Source = strings.ToLower(getEnvOrDefault("PRESALE_SOURCE", "helius"))
	if cfg.Presale.Source != "helius" && cfg.Presale.Source != "rpc" {
		errs = append(errs, fmt.Errorf("PRESALE_SOURCE must be 'helius' or 'rpc', got %q", cfg.Presale.Source))
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"PRESALE_PAGE_SIZE", 100, &cfg.Presale.PageSize},
		{"PRESALE_MAX_PAGES", 10, &cfg.Presale.MaxPages},
		{"PRESALE_MAX_RECORDS", 1000, &cfg.Presale.MaxRecords},
		{"AI_RATE_LIMIT_BURST", 5, &cfg.AIRateLimitBurst},
	}
	for _, i := range ints {
		v, err := parseInt(i.key, i.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*i.dest = v
	}

	requireSigner, err := parseBool("PRESALE_REQUIRE_SIGNER", true)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Presale.RequireSigner = requireSigner

	// Cache configuration
	ttl, err := parseDuration("BALANCE_CACHE_TTL", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BalanceCacheTTL = ttl
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "owfn-presale-feed")

	feedInterval, err := parseDuration("PRESALE_FEED_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PresaleFeedInterval = feedInterval
	}

	if err := cfg.validatePresale(); err != nil {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.Presale.WalletAddress == "" {
		errs = append(errs, fmt.Errorf("Presale.WalletAddress is required"))
	}

	if c.QuickNodeRPCURL == "" {
		errs = append(errs, fmt.Errorf("QuickNodeRPCURL is required"))
	}

	if c.BalanceCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("BalanceCacheTTL must be positive"))
	}

	if c.PresaleFeedInterval > 0 && c.PresaleFeedInterval < time.Second {
		errs = append(errs, fmt.Errorf("PresaleFeedInterval must be at least 1 second"))
	}

	if err := c.validatePresale(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func (c *Config) validatePresale() error {
	p := c.Presale
	switch {
	case p.Rate <= 0:
		return fmt.Errorf("PRESALE_RATE must be positive")
	case p.BonusPercentage < 0:
		return fmt.Errorf("PRESALE_BONUS_PERCENTAGE cannot be negative")
	case p.MinContributionSOL > p.MaxContributionSOL:
		return fmt.Errorf("PRESALE_MIN_CONTRIBUTION_SOL (%v) cannot be greater than PRESALE_MAX_CONTRIBUTION_SOL (%v)",
			p.MinContributionSOL, p.MaxContributionSOL)
	case p.PageSize < 1 || p.PageSize > 1000:
		return fmt.Errorf("PRESALE_PAGE_SIZE must be between 1 and 1000")
	case p.MaxPages < 1:
		return fmt.Errorf("PRESALE_MAX_PAGES must be at least 1")
	case p.MaxRecords < 1:
		return fmt.Errorf("PRESALE_MAX_RECORDS must be at least 1")
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
