package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/morvin2701/pixelwallsbackend/internal/config"
	"github.com/morvin2701/pixelwallsbackend/internal/gateway"
	"github.com/morvin2701/pixelwallsbackend/internal/lock"
	"github.com/morvin2701/pixelwallsbackend/internal/obs"
	"github.com/morvin2701/pixelwallsbackend/internal/reconcile"
	"github.com/morvin2701/pixelwallsbackend/internal/resilience"
	"github.com/morvin2701/pixelwallsbackend/internal/store"
)

// The worker sweeps Pending orders whose completion claim never arrived and
// settles them from the gateway's view. It runs separately from the API so a
// busy sweep never competes with request traffic.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", "reconcile-worker").
		Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "pixelwalls"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).
		WithTarget("razorpay").
		WithLogger(logger)
	razorpay := &gateway.Razorpay{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		BaseURL:   cfg.RazorpayBaseURL,
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     breaker,
			BaseBackoff: cfg.GatewayRetryBase,
			MaxAttempts: cfg.GatewayMaxAttempts,
			Jitter:      cfg.GatewayRetryJitter,
			Timeout:     cfg.GatewayTimeout,
		},
	}

	worker := &reconcile.Reconciler{
		Store:        &store.Orders{Pool: pool},
		Gateway:      razorpay,
		Locker:       lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		Logger:       logger,
		Interval:     cfg.ReconcileInterval,
		StuckAfter:   cfg.ReconcileStuckAfter,
		AbandonAfter: cfg.ReconcileAbandonAfter,
		BatchSize:    cfg.ReconcileBatchSize,
		LockTTL:      cfg.LockTTL,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Dur("interval", cfg.ReconcileInterval).
		Dur("stuck_after", cfg.ReconcileStuckAfter).
		Msg("reconcile worker starting")
	worker.Run(runCtx)
	logger.Info().Msg("reconcile worker stopped")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
