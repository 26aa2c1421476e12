package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status values a check or an aggregated bucket can report. Unhealthy
// gates traffic (503); Degraded does not, but is surfaced so an operator
// can see a dependency is struggling before it fails outright.
const (
	StatusHealthy   = "Healthy"
	StatusDegraded  = "Degraded"
	StatusUnhealthy = "Unhealthy"
)

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response for one bucket.
type HealthResult struct {
	Bucket          string        `json:"bucket"`
	Status          string        `json:"status"`
	TotalDurationMs int64         `json:"totalDurationMs"`
	Checks          []CheckResult `json:"checks,omitempty"`
}

// Checker verifies that all dependencies are reachable.
type Checker struct {
	db     Pinger
	logger *slog.Logger
	gauge  *prometheus.GaugeVec

	mu     sync.Mutex
	checks []*CachedCheck
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(db Pinger, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = healthy, 0.5 = degraded, 0 = unhealthy.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		db:     db,
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Liveness returns a simple Healthy response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Bucket: string(BucketLive), Status: StatusHealthy}
}

// Readiness pings the database directly and reports per-check status,
// bypassing the registered-check/cache machinery RunBucket uses — a
// minimal probe usable before any CachedCheck has been registered.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	result := HealthResult{Bucket: string(BucketReady), Status: StatusHealthy}

	if err := c.db.Ping(checkCtx); err != nil {
		c.logger.Warn("postgres health check failed", "error", err)
		result.Status = StatusUnhealthy
		result.Checks = append(result.Checks, CheckResult{Name: "postgres", Status: StatusUnhealthy, Error: err.Error()})
		c.gauge.WithLabelValues("postgres").Set(0)
	} else {
		result.Checks = append(result.Checks, CheckResult{Name: "postgres", Status: StatusHealthy})
		c.gauge.WithLabelValues("postgres").Set(1)
	}

	result.TotalDurationMs = time.Since(start).Milliseconds()
	return result
}

// RegisterCheck adds a bucketed, TTL-cached dependency check. Checks in
// BucketLive and BucketReady gate /healthz and /readyz respectively;
// BucketDep checks are exposed on /health/dep and gate it too (spec
// §4.8: "dep ... returns 503 when any is unhealthy").
func (c *Checker) RegisterCheck(check *CachedCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// RunBucket runs every check registered under bucket and aggregates the
// result per spec §4.8: any Unhealthy check makes the bucket Unhealthy;
// otherwise any Degraded check makes it Degraded; otherwise Healthy.
func (c *Checker) RunBucket(ctx context.Context, bucket Bucket) HealthResult {
	c.mu.Lock()
	checks := make([]*CachedCheck, 0, len(c.checks))
	for _, chk := range c.checks {
		if chk.Bucket() == bucket {
			checks = append(checks, chk)
		}
	}
	c.mu.Unlock()

	start := time.Now()
	result := HealthResult{Bucket: string(bucket), Status: StatusHealthy}
	sawDegraded := false

	for _, chk := range checks {
		r := chk.Run(ctx)
		r.Name = chk.Name()
		result.Checks = append(result.Checks, r)

		switch r.Status {
		case StatusUnhealthy:
			result.Status = StatusUnhealthy
			c.gauge.WithLabelValues(chk.Name()).Set(0)
		case StatusDegraded:
			sawDegraded = true
			c.gauge.WithLabelValues(chk.Name()).Set(0.5)
		default:
			c.gauge.WithLabelValues(chk.Name()).Set(1)
		}
	}

	if result.Status != StatusUnhealthy && sawDegraded {
		result.Status = StatusDegraded
	}
	result.TotalDurationMs = time.Since(start).Milliseconds()
	return result
}
