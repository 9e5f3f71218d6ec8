package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayBaseURL   string

	GatewayTimeout     time.Duration
	StoreTimeout       time.Duration
	GatewayMaxAttempts int
	GatewayRetryBase   time.Duration
	GatewayRetryJitter float64

	CircuitMinRequests int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration

	IdempotencyTTL time.Duration
	PlanCacheTTL   time.Duration
	RateLimit      string

	ReconcileInterval     time.Duration
	ReconcileStuckAfter   time.Duration
	ReconcileAbandonAfter time.Duration
	ReconcileBatchSize    int
	LockTTL               time.Duration
	LockRetryBackoff      time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "5000"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		RazorpayKeyID:     k.String("RAZORPAY_KEY_ID"),
		RazorpayKeySecret: k.String("RAZORPAY_KEY_SECRET"),
		RazorpayBaseURL:   valueOrDefault(k.String("RAZORPAY_BASE_URL"), "https://api.razorpay.com"),

		GatewayTimeout:     parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		StoreTimeout:       parseDuration(k.String("STORE_TIMEOUT"), "5s"),
		GatewayMaxAttempts: intOrDefault(k.Int("GATEWAY_MAX_ATTEMPTS"), 3),
		GatewayRetryBase:   parseDuration(k.String("GATEWAY_RETRY_BASE"), "200ms"),
		GatewayRetryJitter: floatOrDefault(k.Float64("GATEWAY_RETRY_JITTER"), 0.2),

		CircuitMinRequests: intOrDefault(k.Int("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRate: floatOrDefault(k.Float64("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		PlanCacheTTL:   parseDuration(k.String("PLAN_CACHE_TTL"), "5m"),
		RateLimit:      valueOrDefault(k.String("RATE_LIMIT"), "60-M"),

		ReconcileInterval:     parseDuration(k.String("RECONCILE_INTERVAL"), "1m"),
		ReconcileStuckAfter:   parseDuration(k.String("RECONCILE_STUCK_AFTER"), "5m"),
		ReconcileAbandonAfter: parseDuration(k.String("RECONCILE_ABANDON_AFTER"), "30m"),
		ReconcileBatchSize:    intOrDefault(k.Int("RECONCILE_BATCH_SIZE"), 100),
		LockTTL:               parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:      parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.RazorpayKeyID == "" {
		return nil, errors.New("RAZORPAY_KEY_ID is required")
	}
	if cfg.RazorpayKeySecret == "" {
		return nil, errors.New("RAZORPAY_KEY_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "5000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
