package domain

import (
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
)

// Status is the shared work-item state machine (spec §3). Every
// work-queue-backed row — outbox, inbox, timer, job-run — carries exactly
// these fields and transitions through exactly these states.
type Status string

const (
	StatusPending         Status = "pending"
	StatusClaimed         Status = "claimed"
	StatusCompleted       Status = "completed"
	StatusFailedRetryable Status = "failed_retryable"
	StatusPoisoned        Status = "poisoned"
)

// WorkItem is the generic row shape reused by Outbox, Inbox, Timers, and
// JobRuns. Component-specific tables embed this plus their own columns.
type WorkItem struct {
	ID          ids.WorkItemID
	Status      Status
	LockedUntil *time.Time
	OwnerToken  *ids.OwnerToken
	RetryCount  int
	LastError   string
	DueTimeUtc  time.Time
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Visible reports whether the row is claimable at instant now, per the
// invariant in spec §3: Status in {Pending, FailedRetryable} AND
// DueTimeUtc <= now AND (LockedUntil is null OR LockedUntil <= now).
func (w WorkItem) Visible(now time.Time) bool {
	if w.Status != StatusPending && w.Status != StatusFailedRetryable {
		return false
	}
	if w.DueTimeUtc.After(now) {
		return false
	}
	if w.LockedUntil != nil && w.LockedUntil.After(now) {
		return false
	}
	return true
}

// ReapableClaimed reports whether a Claimed row's lease has lapsed and it
// is eligible for the reaper to recycle.
func (w WorkItem) ReapableClaimed(now time.Time) bool {
	return w.Status == StatusClaimed && w.LockedUntil != nil && w.LockedUntil.Before(now)
}

// Backoff selects the retry-delay shape used by Abandon/Reschedule.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffFixed       Backoff = "fixed"
)

// BackoffPolicy computes the delay before a retryable row becomes due
// again, capped at MaxBackoff with jitter to avoid thundering herds —
// generalized from the teacher's scheduler.retryDelay, shared by Outbox,
// Inbox, and JobRuns.
type BackoffPolicy struct {
	Kind       Backoff
	Base       time.Duration
	MaxBackoff time.Duration
	MaxAttempts int
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Kind:        BackoffExponential,
		Base:        30 * time.Second,
		MaxBackoff:  1 * time.Hour,
		MaxAttempts: 8,
	}
}
