package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrDuplicateJobName    = errors.New("job with this name already exists")
	ErrInvalidCronExpr     = errors.New("invalid cron expression")
	ErrJobRunNotFound      = errors.New("job run not found")
	ErrTimerNotFound       = errors.New("timer not found")
)

// Job is a cron-scheduled definition that materializes JobRuns.
type Job struct {
	JobID         string
	JobName       string
	CronSchedule  string
	Topic         string
	Payload       []byte
	IsEnabled     bool
	NextDueTime   time.Time
	LastRunTime   *time.Time
	LastRunStatus string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobRun is a work-item row plus the fields specific to a single
// materialized execution of a Job.
type JobRun struct {
	WorkItem
	RunID         string
	JobID         string
	ScheduledTime time.Time
	StartTime     *time.Time
	EndTime       *time.Time
	Output        string
}

// JobRunAttempt is a supplemented audit row (not in spec §3, carried over
// from the teacher's JobAttempt) recording one execution attempt of a
// JobRun's handler, used by handlers that make outbound calls such as the
// HTTP executor.
type JobRunAttempt struct {
	ID          string
	RunID       string
	AttemptNum  int
	WorkerID    string
	StartedAt   time.Time
	CompletedAt *time.Time
	StatusCode  *int
	Error       *string
	DurationMS  *int64
}

// Timer is a work-item row plus the fields specific to a one-shot, due-time
// triggered outbox emission.
type Timer struct {
	WorkItem
	TimerID       string
	DueTime       time.Time
	Topic         string
	Payload       []byte
	CorrelationID string
}
