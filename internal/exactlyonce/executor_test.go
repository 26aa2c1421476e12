package exactlyonce_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/exactlyonce"
)

type fakeStore struct {
	records map[string]*domain.IdempotencyRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*domain.IdempotencyRecord)}
}

func (s *fakeStore) TryBegin(_ context.Context, key string) (*domain.IdempotencyRecord, bool, error) {
	if rec, ok := s.records[key]; ok {
		return rec, false, nil
	}
	rec := &domain.IdempotencyRecord{Key: key, State: domain.IdempotencyInProgress}
	s.records[key] = rec
	return rec, true, nil
}

func (s *fakeStore) Complete(_ context.Context, key string) error {
	s.records[key].State = domain.IdempotencyCompleted
	return nil
}

func (s *fakeStore) Fail(_ context.Context, key string) error {
	s.records[key].State = domain.IdempotencyFailed
	return nil
}

// TestExecute_RepeatedRetries_SideEffectRunsAtMostOnce is testable
// property #3: across repeated sequential retries under the same key, the
// number of successful domain effects is exactly 0 or 1.
func TestExecute_RepeatedRetries_SideEffectRunsAtMostOnce(t *testing.T) {
	store := newFakeStore()
	exec := exactlyonce.NewExecutor(store)

	var sideEffects int
	op := func(_ context.Context) error {
		sideEffects++
		return nil
	}

	outcome, err := exec.Execute(context.Background(), "key-1", op, nil)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if outcome != exactlyonce.Ran {
		t.Fatalf("first execute outcome = %v, want Ran", outcome)
	}

	for i := 0; i < 5; i++ {
		outcome, err := exec.Execute(context.Background(), "key-1", op, nil)
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if outcome != exactlyonce.AlreadyCompleted {
			t.Fatalf("replay %d outcome = %v, want AlreadyCompleted", i, outcome)
		}
	}

	if sideEffects != 1 {
		t.Fatalf("side effect ran %d times, want exactly 1", sideEffects)
	}
}

func TestExecute_FailedOperation_RecordsFailureAndPropagatesError(t *testing.T) {
	store := newFakeStore()
	exec := exactlyonce.NewExecutor(store)
	opErr := errors.New("boom")

	_, err := exec.Execute(context.Background(), "key-2", func(context.Context) error {
		return opErr
	}, nil)
	if !errors.Is(err, opErr) {
		t.Fatalf("want wrapped opErr, got %v", err)
	}
	if store.records["key-2"].State != domain.IdempotencyFailed {
		t.Fatalf("state = %v, want Failed", store.records["key-2"].State)
	}
}

func TestExecute_InProgressWithoutProbe_ReturnsContended(t *testing.T) {
	store := newFakeStore()
	store.records["key-3"] = &domain.IdempotencyRecord{Key: "key-3", State: domain.IdempotencyInProgress}
	exec := exactlyonce.NewExecutor(store)

	outcome, err := exec.Execute(context.Background(), "key-3", func(context.Context) error {
		t.Fatal("operation must not run while contended")
		return nil
	}, nil)
	if !errors.Is(err, exactlyonce.ErrContended) {
		t.Fatalf("want ErrContended, got %v", err)
	}
	if outcome != exactlyonce.Contended {
		t.Fatalf("outcome = %v, want Contended", outcome)
	}
}

func TestExecute_InProgressWithProbeConfirming_RecoversWithoutRerunning(t *testing.T) {
	store := newFakeStore()
	store.records["key-4"] = &domain.IdempotencyRecord{Key: "key-4", State: domain.IdempotencyInProgress}
	exec := exactlyonce.NewExecutor(store)

	probe := func(context.Context, string) (bool, error) { return true, nil }

	outcome, err := exec.Execute(context.Background(), "key-4", func(context.Context) error {
		t.Fatal("operation must not re-run once probe confirms the side effect already happened")
		return nil
	}, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != exactlyonce.RecoveredInProgress {
		t.Fatalf("outcome = %v, want RecoveredInProgress", outcome)
	}
	if store.records["key-4"].State != domain.IdempotencyCompleted {
		t.Fatalf("state = %v, want Completed", store.records["key-4"].State)
	}
}

func TestExecute_InProgressWithProbeDenying_ReturnsContended(t *testing.T) {
	store := newFakeStore()
	store.records["key-5"] = &domain.IdempotencyRecord{Key: "key-5", State: domain.IdempotencyInProgress}
	exec := exactlyonce.NewExecutor(store)

	probe := func(context.Context, string) (bool, error) { return false, nil }

	outcome, err := exec.Execute(context.Background(), "key-5", func(context.Context) error {
		t.Fatal("operation must not run while the other attempt is still genuinely in flight")
		return nil
	}, probe)
	if !errors.Is(err, exactlyonce.ErrContended) {
		t.Fatalf("want ErrContended, got %v", err)
	}
	if outcome != exactlyonce.Contended {
		t.Fatalf("outcome = %v, want Contended", outcome)
	}
}

func TestExecute_PreviouslyFailed_ReturnsError(t *testing.T) {
	store := newFakeStore()
	store.records["key-6"] = &domain.IdempotencyRecord{Key: "key-6", State: domain.IdempotencyFailed}
	exec := exactlyonce.NewExecutor(store)

	_, err := exec.Execute(context.Background(), "key-6", func(context.Context) error {
		t.Fatal("operation must not run for a permanently failed key")
		return nil
	}, nil)
	if err == nil {
		t.Fatal("expected an error for a previously failed key")
	}
}
