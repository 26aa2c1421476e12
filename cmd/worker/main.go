package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/config"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/email"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/fanout"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/inbox"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/outbox"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/routing"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/watchdog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	metrics.Register()

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	outboxRepo := postgres.NewOutboxRepository(pool)
	inboxRepo := postgres.NewInboxRepository(pool)
	jobsRepo := postgres.NewJobsRepository(pool)
	leaseRepo := postgres.NewLeaseRepository(pool)
	fanoutRepo := postgres.NewFanoutRepository(pool)
	jobRunsQueue := postgres.NewWorkQueueEngine(pool, postgres.JobRunsTable)

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

	// --- outbox dispatcher ---

	dispatcher := outbox.NewDispatcher(outboxRepo, outboxRepo, logger,
		time.Duration(cfg.OutboxPollIntervalSec)*time.Second, cfg.OutboxBatchSize)

	executor := scheduler.NewExecutor(logger)
	dispatcher.Register("scheduler.http", scheduler.HTTPOutboxHandler(executor))

	go dispatcher.Start(ctx)

	// --- inbox worker ---

	inboxWorker := inbox.NewWorker(inboxRepo, inboxRepo, logger,
		time.Duration(cfg.InboxPollIntervalSec)*time.Second, cfg.InboxBatchSize)
	go inboxWorker.Start(ctx)

	// --- scheduler leader + run worker ---

	leader := scheduler.NewLeader(workerID, leaseRepo, jobsRepo, outboxRepo,
		time.Duration(cfg.SchedulerLeaderIntervalSec)*time.Second, logger)
	go leader.Start(ctx)

	runWorker := scheduler.NewRunWorker(jobRunsQueue, jobsRepo, jobsRepo, outboxRepo,
		time.Duration(cfg.RunWorkerPollIntervalSec)*time.Second, cfg.RunWorkerBatchSize, logger)
	go runWorker.Start(ctx)

	// --- shard discovery (spec §4.7 multi-database routing) ---

	shardSource, shardRouter, shardPools, err := newShardRouting(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect to database shards", "error", err)
	}
	defer func() {
		for _, p := range shardPools {
			p.Close()
		}
	}()

	// --- fanout slicer ---

	slicer := fanout.NewSlicer(leaseRepo, fanoutRepo, outboxRepo, shardSource, time.Duration(cfg.FanoutTickIntervalSec)*time.Second, logger)
	go slicer.Start(ctx)

	// --- reaper ---

	reaper := scheduler.NewReaper([]scheduler.ReapTarget{
		{Name: postgres.OutboxTable.Name, Store: outboxRepo},
		{Name: postgres.InboxTable.Name, Store: inboxRepo},
		{Name: postgres.JobRunsTable.Name, Store: jobRunsQueue},
	}, time.Duration(cfg.ReaperIntervalSec)*time.Second, cfg.ReaperBatchSize, logger)
	go reaper.Start(ctx)

	// --- watchdog ---

	var alertSink watchdog.AlertSink = watchdog.NewLogAlertSink(logger)
	if cfg.Env != "local" && cfg.AlertEmailTo != "" {
		sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
		alertSink = watchdog.NewFanoutSink(alertSink, watchdog.NewEmailAlertSink(sender, cfg.AlertEmailTo))
	}

	probes := []watchdog.Probe{
		staleRowsProbe("outbox", outboxRepo, 500),
		staleRowsProbe("inbox", inboxRepo, 500),
		staleRowsProbe("job_runs", jobRunsQueue, 500),
	}
	if shardRouter != nil {
		probes = append(probes, shardRouterProbe(shardRouter))
	}
	watchdogSvc := watchdog.NewService(probes, alertSink, time.Duration(cfg.WatchdogIntervalSec)*time.Second, logger)
	go watchdogSvc.Start(ctx)

	// --- metrics server ---
	//
	// The worker has no HTTP router of its own (health endpoints are
	// served by cmd/server); it exposes only /metrics for scraping.

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("worker shut down")
}

// singleShardSource is the default ShardSource for a single-tenant
// deployment: one implicit shard per policy.
func singleShardSource(_ context.Context, p *domain.FanoutPolicy) ([]string, error) {
	return []string{"default"}, nil
}

// newShardRouting builds the multi-database routing layer (spec §4.7)
// from DATABASE_SHARD_URLS: one routing.Provider per configured shard,
// a static Discovery over them, and a round-robin Router a watchdog
// probe uses to spot-check shard reachability. Returns singleShardSource
// and a nil router when no shards are configured, so a single-tenant
// deployment pays nothing for the routing layer.
func newShardRouting(ctx context.Context, cfg *config.Config, logger *slog.Logger) (fanout.ShardSource, *routing.Router[*pgxpool.Pool], []*pgxpool.Pool, error) {
	shardDSNs, err := cfg.Shards()
	if err != nil {
		return singleShardSource, nil, nil, err
	}
	if len(shardDSNs) == 0 {
		return singleShardSource, nil, nil, nil
	}

	var pools []*pgxpool.Pool
	providers := make([]routing.Provider[*pgxpool.Pool], 0, len(shardDSNs))
	for _, s := range shardDSNs {
		shardPool, err := postgres.NewPool(ctx, s.DSN)
		if err != nil {
			logger.Error("connect to shard", "shard", s.Name, "error", err)
			continue
		}
		pools = append(pools, shardPool)
		providers = append(providers, routing.Provider[*pgxpool.Pool]{Name: s.Name, Backend: shardPool})
	}

	discovery := routing.NewStaticDiscovery(providers)
	router := routing.NewRouter[*pgxpool.Pool](discovery, routing.NewRoundRobin[*pgxpool.Pool]())

	source := func(ctx context.Context, _ *domain.FanoutPolicy) ([]string, error) {
		all, err := discovery.List(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(all))
		for _, p := range all {
			names = append(names, p.Name)
		}
		return names, nil
	}

	return source, router, pools, nil
}

// shardRouterProbe pings whichever shard the router's round-robin
// strategy picks this tick, rotating coverage across every registered
// shard over successive watchdog intervals rather than always checking
// the same one.
func shardRouterProbe(router *routing.Router[*pgxpool.Pool]) watchdog.Probe {
	return watchdog.Probe{
		Name:   "shard_router",
		Bucket: "dep",
		Run: func(ctx context.Context) (bool, string, error) {
			provider, err := router.Pick(ctx)
			if err != nil {
				return false, "no shard providers available", err
			}
			if err := provider.Backend.Ping(ctx); err != nil {
				return false, "shard " + provider.Name + " unreachable", err
			}
			return true, "", nil
		},
	}
}

func staleRowsProbe(name string, store interface {
	ReapExpired(ctx context.Context, limit int) (int, error)
}, threshold int) watchdog.Probe {
	return watchdog.Probe{
		Name:   name + "_backlog",
		Bucket: "dep",
		Run: func(ctx context.Context) (bool, string, error) {
			// ReapExpired both measures and clears the expired-lease backlog;
			// a non-zero count means claims are lapsing faster than workers
			// drain them.
			count, err := store.ReapExpired(ctx, threshold)
			if err != nil {
				return false, "", err
			}
			if count >= threshold {
				return false, fmt.Sprintf("reaped %d rows, at or above threshold %d", count, threshold), nil
			}
			return true, "", nil
		},
	}
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
