package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/workqueue"
)

// RunStore is the subset of JobsRepository the run worker needs to load a
// claimed JobRun, fetch its parent Job, and record timing.
type RunStore interface {
	GetRuns(ctx context.Context, claimed []ids.WorkItemID) ([]*domain.JobRun, error)
	MarkRunStarted(ctx context.Context, id ids.WorkItemID) error
	MarkRunEnded(ctx context.Context, id ids.WorkItemID, output string) error
}

// JobLookup resolves a JobRun's parent Job definition (topic + payload).
type JobLookup interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
}

// RunWorker claims due JobRuns and hands each off to the outbox by
// enqueuing one message for the parent Job's topic, correlated by RunID —
// decoupling "a cron instant came due" from "the handler actually ran",
// which is itself driven later by the outbox dispatcher.
type RunWorker struct {
	id           string
	queue        workqueue.Store
	runs         RunStore
	jobs         JobLookup
	outbox       OutboxEnqueuer
	pollInterval time.Duration
	batchSize    int
	leaseSeconds int
	logger       *slog.Logger
}

func NewRunWorker(queue workqueue.Store, runs RunStore, jobs JobLookup, outbox OutboxEnqueuer, pollInterval time.Duration, batchSize int, logger *slog.Logger) *RunWorker {
	hostname, _ := os.Hostname()
	return &RunWorker{
		id:           fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		queue:        queue,
		runs:         runs,
		jobs:         jobs,
		outbox:       outbox,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		leaseSeconds: 60,
		logger:       logger.With("component", "scheduler.run_worker"),
	}
}

func (w *RunWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("run worker started", "id", w.id)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("run worker shut down")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *RunWorker) processBatch(ctx context.Context) {
	owner := ids.NewOwnerToken()
	claimed, err := w.queue.Claim(ctx, owner, w.leaseSeconds, w.batchSize)
	if err != nil {
		w.logger.Error("claim job runs", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	runs, err := w.runs.GetRuns(ctx, claimed)
	if err != nil {
		w.logger.Error("load claimed job runs", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, run := range runs {
		wg.Add(1)
		go func(r *domain.JobRun) {
			defer wg.Done()
			w.fire(ctx, owner, r)
		}(run)
	}
	wg.Wait()
}

func (w *RunWorker) fire(ctx context.Context, owner ids.OwnerToken, run *domain.JobRun) {
	if err := w.runs.MarkRunStarted(ctx, run.ID); err != nil {
		w.logger.Error("mark run started", "run_id", run.RunID, "error", err)
	}

	job, err := w.jobs.Get(ctx, run.JobID)
	if err != nil {
		w.logger.Error("load job for run", "run_id", run.RunID, "job_id", run.JobID, "error", err)
		_ = w.queue.Fail(ctx, owner, []ids.WorkItemID{run.ID}, fmt.Sprintf("load job: %v", err))
		return
	}

	if _, err := w.outbox.EnqueueSimple(ctx, job.Topic, job.Payload, run.RunID, run.RunID); err != nil {
		w.logger.Error("enqueue job run", "run_id", run.RunID, "error", err)
		_ = w.queue.Abandon(ctx, owner, []ids.WorkItemID{run.ID}, fmt.Sprintf("enqueue: %v", err), 30*time.Second)
		return
	}

	if err := w.runs.MarkRunEnded(ctx, run.ID, "enqueued"); err != nil {
		w.logger.Error("mark run ended", "run_id", run.RunID, "error", err)
	}
	if err := w.queue.Ack(ctx, owner, []ids.WorkItemID{run.ID}); err != nil {
		w.logger.Error("ack job run", "run_id", run.RunID, "error", err)
	}
}
