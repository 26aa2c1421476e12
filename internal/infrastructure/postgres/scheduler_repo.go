package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var JobRunsTable = WorkQueueTable{Name: "job_runs", IDColumn: "id", StatusColumn: "status", DueColumn: "scheduled_time"}

// JobsRepository manages Jobs and Timers — both are plain definitions
// materialized by the scheduler leader, not themselves claimable via the
// work-queue engine (JobRuns is the claimable table).
type JobsRepository struct {
	pool *pgxpool.Pool
}

func NewJobsRepository(pool *pgxpool.Pool) *JobsRepository { return &JobsRepository{pool: pool} }

func (r *JobsRepository) Create(ctx context.Context, j *domain.Job) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO jobs (job_id, job_name, cron_schedule, topic, payload, is_enabled, next_due_time, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING job_id, job_name, cron_schedule, topic, payload, is_enabled,
		          next_due_time, last_run_time, last_run_status, created_at, updated_at`,
		j.JobName, j.CronSchedule, j.Topic, j.Payload, j.IsEnabled, j.NextDueTime)

	created, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateJobName
		}
		return nil, err
	}
	return created, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.JobID, &j.JobName, &j.CronSchedule, &j.Topic, &j.Payload, &j.IsEnabled,
		&j.NextDueTime, &j.LastRunTime, &j.LastRunStatus, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func (r *JobsRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT job_id, job_name, cron_schedule, topic, payload, is_enabled,
		       next_due_time, last_run_time, last_run_status, created_at, updated_at
		FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

func (r *JobsRepository) ListEnabled(ctx context.Context) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, job_name, cron_schedule, topic, payload, is_enabled,
		       next_due_time, last_run_time, last_run_status, created_at, updated_at
		FROM jobs WHERE is_enabled`)
	if err != nil {
		return nil, fmt.Errorf("list enabled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// AdvanceNextDueTime updates a job's NextDueTime and last-run bookkeeping
// after the leader computes the next cron instant. resourceName/fencingToken
// identify the leader lease guarding this write; a token a newer leader has
// since superseded is rejected rather than applied.
func (r *JobsRepository) AdvanceNextDueTime(ctx context.Context, jobID string, next time.Time, resourceName string, fencingToken ids.FencingToken) error {
	if err := assertFencingTokenCurrent(ctx, r.pool, resourceName, fencingToken); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET next_due_time = $1, updated_at = NOW() WHERE job_id = $2`, next, jobID)
	if err != nil {
		return fmt.Errorf("advance next due time: %w", err)
	}
	return nil
}

func (r *JobsRepository) RecordRunOutcome(ctx context.Context, jobID string, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET last_run_time = NOW(), last_run_status = $1, updated_at = NOW() WHERE job_id = $2`,
		status, jobID)
	if err != nil {
		return fmt.Errorf("record run outcome: %w", err)
	}
	return nil
}

// CreateRunIfAbsent inserts a JobRuns row for (jobID, scheduledTime) unless
// one already exists — the unique index on (job_id, scheduled_time) makes
// this at-most-one-run-per-scheduled-instant (spec §4.4, testable
// property #4). Guarded by the leader lease's fencing token, same as
// AdvanceNextDueTime.
func (r *JobsRepository) CreateRunIfAbsent(ctx context.Context, jobID string, scheduledTime time.Time, resourceName string, fencingToken ids.FencingToken) (bool, ids.WorkItemID, error) {
	if err := assertFencingTokenCurrent(ctx, r.pool, resourceName, fencingToken); err != nil {
		return false, ids.WorkItemID{}, err
	}
	id := ids.NewWorkItemID()
	var returnedID ids.WorkItemID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO job_runs (id, status, due_time_utc, created_at, run_id, job_id, scheduled_time)
		VALUES ($1, $2, $3, NOW(), gen_random_uuid(), $4, $3)
		ON CONFLICT (job_id, scheduled_time) DO NOTHING
		RETURNING id`,
		id, domain.StatusPending, scheduledTime, jobID).Scan(&returnedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ids.WorkItemID{}, nil // at-most-one: a run already existed
		}
		return false, ids.WorkItemID{}, fmt.Errorf("create job run: %w", err)
	}
	return true, returnedID, nil
}

func (r *JobsRepository) GetRun(ctx context.Context, id ids.WorkItemID) (*domain.JobRun, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, status, locked_until, owner_token, retry_count, last_error,
		       due_time_utc, created_at, processed_at,
		       run_id, job_id, scheduled_time, start_time, end_time, output
		FROM job_runs WHERE id = $1`, id)
	return scanJobRun(row)
}

func scanJobRun(row pgx.Row) (*domain.JobRun, error) {
	var run domain.JobRun
	err := row.Scan(&run.ID, &run.Status, &run.LockedUntil, &run.OwnerToken, &run.RetryCount, &run.LastError,
		&run.DueTimeUtc, &run.CreatedAt, &run.ProcessedAt,
		&run.RunID, &run.JobID, &run.ScheduledTime, &run.StartTime, &run.EndTime, &run.Output)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobRunNotFound
		}
		return nil, fmt.Errorf("scan job run: %w", err)
	}
	return &run, nil
}

func (r *JobsRepository) GetRuns(ctx context.Context, claimed []ids.WorkItemID) ([]*domain.JobRun, error) {
	if len(claimed) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, status, locked_until, owner_token, retry_count, last_error,
		       due_time_utc, created_at, processed_at,
		       run_id, job_id, scheduled_time, start_time, end_time, output
		FROM job_runs WHERE id = ANY($1)
		ORDER BY scheduled_time ASC, created_at ASC`, idList(claimed))
	if err != nil {
		return nil, fmt.Errorf("get job runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *JobsRepository) MarkRunStarted(ctx context.Context, id ids.WorkItemID) error {
	_, err := r.pool.Exec(ctx, `UPDATE job_runs SET start_time = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}
	return nil
}

func (r *JobsRepository) MarkRunEnded(ctx context.Context, id ids.WorkItemID, output string) error {
	_, err := r.pool.Exec(ctx, `UPDATE job_runs SET end_time = NOW(), output = $1 WHERE id = $2`, output, id)
	if err != nil {
		return fmt.Errorf("mark run ended: %w", err)
	}
	return nil
}

// --- Timers ---

func (r *JobsRepository) CreateTimer(ctx context.Context, t *domain.Timer) (ids.WorkItemID, error) {
	id := ids.NewWorkItemID()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO timers (id, status, due_time_utc, created_at, timer_id, due_time, topic, payload, correlation_id)
		VALUES ($1, $2, $3, NOW(), gen_random_uuid(), $3, $4, $5, $6)`,
		id, domain.StatusPending, t.DueTime, t.Topic, t.Payload, t.CorrelationID)
	if err != nil {
		return ids.WorkItemID{}, fmt.Errorf("create timer: %w", err)
	}
	return id, nil
}

// DueTimers returns timers whose DueTime has passed and are still Pending,
// for the leader to fire into the outbox and mark Completed.
func (r *JobsRepository) DueTimers(ctx context.Context, limit int) ([]*domain.Timer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, status, locked_until, owner_token, retry_count, last_error,
		       due_time_utc, created_at, processed_at,
		       timer_id, due_time, topic, payload, correlation_id
		FROM timers
		WHERE status = $1 AND due_time <= NOW()
		ORDER BY due_time ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, domain.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list due timers: %w", err)
	}
	defer rows.Close()

	var timers []*domain.Timer
	for rows.Next() {
		var t domain.Timer
		if err := rows.Scan(&t.ID, &t.Status, &t.LockedUntil, &t.OwnerToken, &t.RetryCount, &t.LastError,
			&t.DueTimeUtc, &t.CreatedAt, &t.ProcessedAt,
			&t.TimerID, &t.DueTime, &t.Topic, &t.Payload, &t.CorrelationID); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		timers = append(timers, &t)
	}
	return timers, rows.Err()
}

// MarkTimerCompleted is guarded by the leader lease's fencing token, same
// as AdvanceNextDueTime and CreateRunIfAbsent.
func (r *JobsRepository) MarkTimerCompleted(ctx context.Context, id ids.WorkItemID, resourceName string, fencingToken ids.FencingToken) error {
	if err := assertFencingTokenCurrent(ctx, r.pool, resourceName, fencingToken); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE timers SET status = $1, processed_at = NOW() WHERE id = $2`, domain.StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("mark timer completed: %w", err)
	}
	return nil
}
