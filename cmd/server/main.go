package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/config"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/health"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/inbox"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	httptransport "github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/watchdog"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		stop()
		log.Fatalf("migrate: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	metrics.Register()

	outboxRepo := postgres.NewOutboxRepository(pool)
	inboxRepo := postgres.NewInboxRepository(pool)
	jobsRepo := postgres.NewJobsRepository(pool)
	leaseRepo := postgres.NewLeaseRepository(pool)

	// --- startup gate ---

	latch := watchdog.NewStartupLatch()
	runner := watchdog.NewStartupCheckRunner(latch, watchdog.StartupCheck{
		Name: "postgres",
		Run:  func(ctx context.Context) error { return pool.Ping(ctx) },
	})
	go func() {
		if err := runner.RunUntilReady(ctx, func(attempt int) error {
			logger.Warn("startup check failed, retrying", "attempt", attempt)
			select {
			case <-time.After(2 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}); err != nil {
			logger.Error("startup checks never passed", "error", err)
		}
	}()

	// --- health checker ---

	const pgDegradedPingThreshold = 250 * time.Millisecond

	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)
	checker.RegisterCheck(health.NewCachedCheck("postgres", health.BucketReady, func(ctx context.Context) health.CheckResult {
		start := time.Now()
		if err := pool.Ping(ctx); err != nil {
			return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
		}
		if time.Since(start) > pgDegradedPingThreshold {
			return health.CheckResult{Status: health.StatusDegraded, Error: "ping latency above threshold"}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	}, 5*time.Second, time.Second, time.Second))
	checker.RegisterCheck(health.NewCachedCheck("postgres", health.BucketDep, func(ctx context.Context) health.CheckResult {
		stat := pool.Stat()
		if stat.AcquiredConns() >= stat.MaxConns() {
			return health.CheckResult{Status: health.StatusDegraded, Error: "connection pool exhausted"}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	}, 5*time.Second, time.Second, time.Second))
	checker.RegisterCheck(health.NewCachedCheck("postgres", health.BucketLive, func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusHealthy}
	}, time.Minute, time.Minute, time.Minute))

	healthHandler := handler.NewHealthHandler(checker, latch)

	// --- webhook ingestion ---

	var auth inbox.Authenticator = inbox.NoopAuthenticator{}
	if cfg.WebhookHMACSecret != "" {
		auth = inbox.NewHMACAuthenticator([]byte(cfg.WebhookHMACSecret), cfg.WebhookHeaderName, "")
	}
	classifier := inbox.NewGenericClassifier("generic", extractJSONType)
	genericIngestor := inbox.NewIngestor("generic", auth, classifier, inboxRepo, logger)

	webhookHandler := handler.NewWebhookHandler(map[string]handler.Ingestor{
		"generic": genericIngestor,
	}, logger)

	// --- admin API ---

	adminHandler := handler.NewAdminHandler(outboxRepo, inboxRepo, jobsRepo, leaseRepo, logger)

	router := httptransport.NewRouter(logger, healthHandler, webhookHandler, adminHandler, cfg.ClerkJWKSURL, []byte(cfg.JWTSecret))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

// extractJSONType pulls a top-level "type" and "id" field out of a JSON
// webhook body — the common shape for Stripe/GitHub-style event envelopes.
// Providers with a different shape get their own EventTypeExtractor.
func extractJSONType(body []byte) (eventType string, providerEventID string, ok bool) {
	var env struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Type == "" {
		return "", "", false
	}
	return env.Type, env.ID, true
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
