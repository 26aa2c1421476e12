package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/workqueue"
)

// ReapTarget names one work-queue-backed table the Reaper sweeps.
type ReapTarget struct {
	Name  string // label for logs/metrics, e.g. "outbox"
	Store workqueue.Store
}

// Reaper periodically reclaims rows whose lease has lapsed across every
// registered work-queue table — generalizing the teacher's
// internal/scheduler.Reaper (which only swept the single jobs table) into
// one sweep over every ReapTarget it is given (cmd/worker registers Outbox,
// Inbox, and JobRuns; spec §4.1, testable property #6).
type Reaper struct {
	targets  []ReapTarget
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewReaper(targets []ReapTarget, interval time.Duration, batch int, logger *slog.Logger) *Reaper {
	return &Reaper{targets: targets, interval: interval, batch: batch, logger: logger.With("component", "reaper")}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "targets", len(r.targets))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reapAll(ctx)
		}
	}
}

func (r *Reaper) reapAll(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()
	for _, target := range r.targets {
		count, err := target.Store.ReapExpired(ctx, r.batch)
		if err != nil {
			r.logger.Error("reap expired", "target", target.Name, "error", err)
			continue
		}
		if count > 0 {
			metrics.ReaperRescuedTotal.WithLabelValues(target.Name).Add(float64(count))
			r.logger.Info("reaper reclaimed rows", "target", target.Name, "count", count)
		}
	}
}
