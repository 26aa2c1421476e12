// Package workqueue defines the single set of primitive operations shared
// by Outbox, Inbox, and JobRuns (spec §4.1; Timers are fired by the
// scheduler leader through their own query). The engine itself is
// just this contract — concrete implementations live in
// internal/infrastructure/postgres, one per backing table, all built from
// the same UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP LOCKED)
// RETURNING template the teacher's job_repo.Claim uses.
package workqueue

import (
	"context"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
)

// Store is implemented once per work-queue-backed table.
type Store interface {
	// Claim selects up to batchSize visible rows in due-time order (ties
	// broken by creation order), marks them Claimed under owner, and
	// returns their identifiers. Concurrent claimants never receive the
	// same row (testable property #1).
	Claim(ctx context.Context, owner ids.OwnerToken, leaseSeconds int, batchSize int) ([]ids.WorkItemID, error)

	// Ack transitions owned Claimed rows to Completed. Rows no longer
	// owned by owner (lease expired, reclaimed by someone else) are
	// silently skipped (testable property #5).
	Ack(ctx context.Context, owner ids.OwnerToken, workItemIDs []ids.WorkItemID) error

	// Abandon transitions owned rows back to FailedRetryable, bumping
	// RetryCount and setting a new DueTimeUtc. Used when the worker
	// cannot process now but the work is still valid.
	Abandon(ctx context.Context, owner ids.OwnerToken, workItemIDs []ids.WorkItemID, lastErr string, delay time.Duration) error

	// Fail transitions owned rows to the terminal Poisoned state.
	Fail(ctx context.Context, owner ids.OwnerToken, workItemIDs []ids.WorkItemID, lastErr string) error

	// ReapExpired moves any Claimed row whose LockedUntil has lapsed back
	// to FailedRetryable and clears its owner. Idempotent (testable
	// property #6): running twice with no intervening changes has the
	// same effect as running once.
	ReapExpired(ctx context.Context, limit int) (int, error)

	// Reschedule is Abandon for a single, already-identified row —
	// used by a dispatcher that wants to retry a specific id with an
	// explicit delay and error, without needing to still hold the claim
	// under the original owner (e.g. a leader recomputing due times).
	Reschedule(ctx context.Context, id ids.WorkItemID, delay time.Duration, lastErr string) error
}
