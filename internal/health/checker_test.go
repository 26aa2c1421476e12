package health_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

func newTestChecker(p health.Pinger) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.Default()
	return health.NewChecker(p, logger, reg), reg
}

func findCheck(checks []health.CheckResult, name string) (health.CheckResult, bool) {
	for _, c := range checks {
		if c.Name == name {
			return c, true
		}
	}
	return health.CheckResult{}, false
}

func TestLiveness_AlwaysHealthy(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{err: errors.New("db down")})

	result := c.Liveness(context.Background())
	if result.Status != health.StatusHealthy {
		t.Fatalf("expected status Healthy, got %s", result.Status)
	}
	if result.Checks != nil {
		t.Fatalf("expected no checks, got %v", result.Checks)
	}
}

func TestReadiness_PostgresHealthy(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{})

	result := c.Readiness(context.Background())
	if result.Status != health.StatusHealthy {
		t.Fatalf("expected status Healthy, got %s", result.Status)
	}
	pg, ok := findCheck(result.Checks, "postgres")
	if !ok {
		t.Fatal("missing postgres check")
	}
	if pg.Status != health.StatusHealthy {
		t.Fatalf("expected postgres Healthy, got %s", pg.Status)
	}

	gauge := testGauge(t, reg, "scheduler_health_check_up", "postgres")
	if gauge != 1 {
		t.Fatalf("expected gauge 1, got %f", gauge)
	}
}

func TestReadiness_PostgresUnhealthy(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{err: errors.New("connection refused")})

	result := c.Readiness(context.Background())
	if result.Status != health.StatusUnhealthy {
		t.Fatalf("expected status Unhealthy, got %s", result.Status)
	}
	pg, _ := findCheck(result.Checks, "postgres")
	if pg.Status != health.StatusUnhealthy {
		t.Fatalf("expected postgres Unhealthy, got %s", pg.Status)
	}
	if pg.Error == "" {
		t.Fatal("expected error message")
	}

	gauge := testGauge(t, reg, "scheduler_health_check_up", "postgres")
	if gauge != 0 {
		t.Fatalf("expected gauge 0, got %f", gauge)
	}
}

func TestRunBucket_DegradedWithoutUnhealthy_ReportsDegraded(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{})
	c.RegisterCheck(health.NewCachedCheck("cache", health.BucketReady, func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusDegraded, Error: "latency above threshold"}
	}, 0, 0, 0))
	c.RegisterCheck(health.NewCachedCheck("queue", health.BucketReady, func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusHealthy}
	}, 0, 0, 0))

	result := c.RunBucket(context.Background(), health.BucketReady)
	if result.Status != health.StatusDegraded {
		t.Fatalf("expected status Degraded, got %s", result.Status)
	}
}

func TestRunBucket_AnyUnhealthyWins(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{})
	c.RegisterCheck(health.NewCachedCheck("cache", health.BucketReady, func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusDegraded}
	}, 0, 0, 0))
	c.RegisterCheck(health.NewCachedCheck("queue", health.BucketReady, func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusUnhealthy, Error: "unreachable"}
	}, 0, 0, 0))

	result := c.RunBucket(context.Background(), health.BucketReady)
	if result.Status != health.StatusUnhealthy {
		t.Fatalf("expected status Unhealthy, got %s", result.Status)
	}
}

func testGauge(t *testing.T, reg *prometheus.Registry, name, depLabel string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "dependency" && lp.GetValue() == depLabel {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{dependency=%q} not found", name, depLabel)
	return 0
}

// Silence the unused import lint for testutil if we only use Gather above.
var _ = testutil.ToFloat64
