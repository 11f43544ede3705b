package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	SQLitePath  string
	StoragePath string

	GeminiAPIKey   string
	GeminiBaseURL  string
	GeminiModel    string
	GeminiProModel string
	GeminiTimeout  time.Duration

	BatchSize        int
	MaxConcurrency   int
	MaxRetries       int
	StuckThreshold   time.Duration
	RateLimitBackoff time.Duration
	OverloadBackoff  time.Duration
	TransientBackoff time.Duration

	RetentionTTL         time.Duration
	RetentionProbability float64
	RetentionDeleteBatch int
	PollInterval         time.Duration

	RedisAddr              string
	RedisPassword          string
	ProviderCallsPerMinute int
	AMQPURL                string
	AMQPQueue              string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		StoragePath: getEnv("STORAGE_PATH", "./data/objects"),

		GeminiAPIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:  os.Getenv("GEMINI_BASE_URL"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiProModel: getEnv("GEMINI_PRO_MODEL", "gemini-3-pro-image-preview"),
		GeminiTimeout:  getEnvSeconds("GEMINI_TIMEOUT_SECONDS", 120),

		BatchSize:        getEnvInt("PROCESS_BATCH_SIZE", 2),
		MaxConcurrency:   getEnvInt("PROCESS_MAX_CONCURRENCY", 2),
		MaxRetries:       getEnvInt("PROCESS_MAX_RETRIES", 3),
		StuckThreshold:   getEnvSeconds("PROCESS_STUCK_THRESHOLD_SECONDS", 300),
		RateLimitBackoff: getEnvSeconds("BACKOFF_RATE_LIMIT_SECONDS", 15),
		OverloadBackoff:  getEnvSeconds("BACKOFF_OVERLOAD_SECONDS", 30),
		TransientBackoff: getEnvSeconds("BACKOFF_TRANSIENT_SECONDS", 60),

		RetentionTTL:         time.Hour * time.Duration(getEnvInt("RETENTION_TTL_HOURS", 24)),
		RetentionProbability: getEnvFloat("RETENTION_SWEEP_PROBABILITY", 0.1),
		RetentionDeleteBatch: getEnvInt("RETENTION_DELETE_BATCH", 20),
		PollInterval:         getEnvSeconds("WORKER_POLL_INTERVAL_SECONDS", 60),

		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		ProviderCallsPerMinute: getEnvInt("PROVIDER_CALLS_PER_MINUTE", 0),
		AMQPURL:                os.Getenv("AMQP_URL"),
		AMQPQueue:              getEnv("AMQP_QUEUE", "lightwork.process"),

		HTTPReadTimeout:  getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout: getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 300),
		HTTPIdleTimeout:  getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("DATABASE_URL or SQLITE_PATH is required")
	}
	if cfg.RetentionProbability < 0 || cfg.RetentionProbability > 1 {
		return nil, fmt.Errorf("RETENTION_SWEEP_PROBABILITY must be between 0 and 1, got %v", cfg.RetentionProbability)
	}

	return cfg, nil
}

// UsePostgres reports whether DATABASE_URL selects the PostgreSQL store.
// It wins over SQLITE_PATH when both are set.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}
