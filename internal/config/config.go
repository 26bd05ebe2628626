package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Rook API configuration
	RookClientUUID        string
	RookSecretKey         string
	RookAPIBaseURL        string
	RookBackfillBaseURL   string
	RookConnectBaseURL    string
	RookTimeout           time.Duration
	RookRequestsPerSecond float64
	RookBackfillRetries   int

	// Internal API configuration
	InternalAPIKey string

	// Pull cache configuration
	CacheTTL         time.Duration
	CacheNegativeTTL time.Duration
	CacheMaxEntries  int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Event transport and downstream sync
	RabbitMQURL      string
	ChallengeSyncURL string

	// Backfill configuration
	BackfillWindowDays int

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Error reporting
	SentryDSN         string
	SentryEnvironment string
}

// Load reads configuration from environment variables, seeded from a .env
// file in the working directory when one exists. Variables already present
// in the environment take precedence over the file.
// It fails fast if required variables are missing
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	apiBase := strings.TrimRight(getEnv("ROOK_API_BASE_URL", "https://api.rook-connect.review"), "/")

	cfg := &Config{
		// Optional values with defaults
		Host:                  getEnv("HOST", "localhost"),
		Port:                  getEnvInt("PORT", 4102),
		DatabasePath:          getEnv("DATABASE_PATH", "./livmore.db"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		RookAPIBaseURL:        apiBase,
		RookBackfillBaseURL:   strings.TrimRight(getEnv("ROOK_BACKFILL_BASE_URL", apiBase), "/"),
		RookConnectBaseURL:    strings.TrimRight(getEnv("ROOK_CONNECT_BASE_URL", "https://connections.rook-connect.review"), "/"),
		RookTimeout:           getEnvDuration("ROOK_TIMEOUT", 5*time.Second),
		RookRequestsPerSecond: getEnvFloat("ROOK_REQUESTS_PER_SECOND", 5),
		RookBackfillRetries:   getEnvInt("ROOK_BACKFILL_RETRIES", 2),
		CacheTTL:              getEnvDuration("CACHE_TTL", 30*time.Second),
		CacheNegativeTTL:      getEnvDuration("CACHE_NEGATIVE_TTL", 10*time.Second),
		CacheMaxEntries:       getEnvInt("CACHE_MAX_ENTRIES", 1024),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		RabbitMQURL:           os.Getenv("RABBITMQ_URL"),
		ChallengeSyncURL:      os.Getenv("CHALLENGE_SYNC_URL"),
		BackfillWindowDays:    getEnvInt("BACKFILL_WINDOW_DAYS", 7),
		MetricsEnabled:        getEnvBool("METRICS_ENABLED", true),
		MetricsHost:           getEnv("METRICS_HOST", "localhost"),
		MetricsPort:           getEnvInt("METRICS_PORT", 9092),
		SentryDSN:             os.Getenv("SENTRY_DSN"),
		SentryEnvironment:     getEnv("SENTRY_ENVIRONMENT", "development"),
	}

	// Required values
	cfg.RookClientUUID = os.Getenv("ROOK_CLIENT_UUID")
	cfg.RookSecretKey = os.Getenv("ROOK_SECRET_KEY")
	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required values and ranges
func (c *Config) Validate() error {
	if c.RookClientUUID == "" {
		return fmt.Errorf("ROOK_CLIENT_UUID is required")
	}
	if c.RookSecretKey == "" {
		return fmt.Errorf("ROOK_SECRET_KEY is required")
	}
	if c.InternalAPIKey == "" {
		return fmt.Errorf("INTERNAL_API_KEY is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	if c.RookTimeout <= 0 {
		return fmt.Errorf("ROOK_TIMEOUT must be positive")
	}
	if c.BackfillWindowDays < 1 {
		return fmt.Errorf("BACKFILL_WINDOW_DAYS must be at least 1")
	}
	if c.CacheMaxEntries < 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must not be negative")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvDuration accepts Go durations ("5s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}
