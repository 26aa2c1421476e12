// Package exactlyonce implements the idempotency-keyed exactly-once
// executor of spec §4.9: wrap an arbitrary operation so that, no matter
// how many times Execute is called with the same key, the operation's
// side effect runs to completion at most once.
package exactlyonce

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// Store is the subset of IdempotencyRepository the executor needs.
type Store interface {
	TryBegin(ctx context.Context, key string) (*domain.IdempotencyRecord, bool, error)
	Complete(ctx context.Context, key string) error
	Fail(ctx context.Context, key string) error
}

// Probe lets a caller recover from a crash between "operation ran" and
// "Complete was recorded": when TryBegin finds an existing InProgress
// record (meaning a prior attempt started but never finished), Probe
// checks whether the operation's side effect actually happened, so the
// executor can mark it Complete without re-running it.
type Probe func(ctx context.Context, key string) (alreadyDone bool, err error)

// Operation is the guarded side effect.
type Operation func(ctx context.Context) error

// Executor runs Operations under Store's idempotency guarantee.
type Executor struct {
	store Store
}

func NewExecutor(store Store) *Executor { return &Executor{store: store} }

// Outcome reports what Execute decided to do.
type Outcome int

const (
	// Ran means this call actually invoked the operation.
	Ran Outcome = iota
	// AlreadyCompleted means a prior call already finished the operation;
	// this call did nothing.
	AlreadyCompleted
	// RecoveredInProgress means a prior attempt started but never
	// recorded a terminal state, Probe confirmed the side effect already
	// happened, and this call marked it Complete without re-running it.
	RecoveredInProgress
	// Contended means another in-flight attempt currently owns this key;
	// the caller should retry later rather than treat this as failure.
	Contended
)

var ErrContended = fmt.Errorf("exactly-once key is currently owned by another in-flight attempt")

// Execute runs op under key's idempotency guarantee. probe may be nil, in
// which case a found in-progress record is treated as Contended rather
// than recovered.
func (e *Executor) Execute(ctx context.Context, key string, op Operation, probe Probe) (Outcome, error) {
	record, began, err := e.store.TryBegin(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("try begin idempotency record: %w", err)
	}

	if began {
		if err := op(ctx); err != nil {
			if failErr := e.store.Fail(ctx, key); failErr != nil {
				return 0, fmt.Errorf("operation failed (%w) and recording failure also failed: %v", err, failErr)
			}
			return 0, err
		}
		if err := e.store.Complete(ctx, key); err != nil {
			return 0, fmt.Errorf("complete idempotency record: %w", err)
		}
		return Ran, nil
	}

	switch record.State {
	case domain.IdempotencyCompleted:
		return AlreadyCompleted, nil
	case domain.IdempotencyFailed:
		return 0, fmt.Errorf("exactly-once key %q previously failed permanently", key)
	case domain.IdempotencyInProgress:
		if probe == nil {
			return Contended, ErrContended
		}
		done, err := probe(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("probe in-progress idempotency record: %w", err)
		}
		if !done {
			return Contended, ErrContended
		}
		if err := e.store.Complete(ctx, key); err != nil {
			return 0, fmt.Errorf("complete recovered idempotency record: %w", err)
		}
		return RecoveredInProgress, nil
	default:
		return 0, fmt.Errorf("unknown idempotency state %q", record.State)
	}
}
