package lease_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/lease"
)

// fakeFencedStore hands out strictly increasing fencing tokens and can be
// told to fail every subsequent renewal, simulating another process having
// stolen the lock.
type fakeFencedStore struct {
	mu          sync.Mutex
	nextToken   ids.FencingToken
	renewErr    error
	released    bool
	renewCalls  int
}

func (s *fakeFencedStore) AcquireFenced(_ context.Context, resourceName string, owner ids.OwnerToken, leaseDuration time.Duration, _ []byte) (*domain.DistributedLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToken = s.nextToken.Next()
	return &domain.DistributedLock{
		ResourceName:  resourceName,
		OwnerToken:    owner,
		FencingToken:  s.nextToken,
		LeaseUntilUtc: time.Now().Add(leaseDuration),
	}, nil
}

func (s *fakeFencedStore) RenewFenced(_ context.Context, resourceName string, owner ids.OwnerToken, leaseDuration time.Duration) (*domain.DistributedLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewCalls++
	if s.renewErr != nil {
		return nil, s.renewErr
	}
	s.nextToken = s.nextToken.Next()
	return &domain.DistributedLock{
		ResourceName:  resourceName,
		OwnerToken:    owner,
		FencingToken:  s.nextToken,
		LeaseUntilUtc: time.Now().Add(leaseDuration),
	}, nil
}

func (s *fakeFencedStore) ReleaseFenced(context.Context, string, ids.OwnerToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAcquire_Succeeds_FencingTokenAdvances(t *testing.T) {
	store := &fakeFencedStore{}
	ml, err := lease.Acquire(context.Background(), store, "scheduler-leader", time.Hour, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ml.Close(context.Background())

	first := ml.FencingToken()
	if first == 0 {
		t.Fatal("fencing token must advance past the zero value on acquire")
	}

	if err := ml.TryRenewNow(context.Background()); err != nil {
		t.Fatalf("unexpected renew error: %v", err)
	}
	if !first.Less(ml.FencingToken()) {
		t.Fatalf("fencing token did not advance across renewal: %v -> %v", first, ml.FencingToken())
	}
}

// TestTryRenewNow_StoreRejects_MarksLeaseLost is testable property #2
// (fencing monotonicity) plus scenario S5: once the backing store refuses a
// renewal (another process holds a newer token), the lease is marked lost
// and every subsequent guarded write must observe that via ThrowIfLost.
func TestTryRenewNow_StoreRejects_MarksLeaseLost(t *testing.T) {
	store := &fakeFencedStore{}
	ml, err := lease.Acquire(context.Background(), store, "scheduler-leader", time.Hour, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.mu.Lock()
	store.renewErr = errors.New("fencing token stale")
	store.mu.Unlock()

	if err := ml.TryRenewNow(context.Background()); err == nil {
		t.Fatal("expected an error once the store rejects renewal")
	}
	if err := ml.ThrowIfLost(); err == nil {
		t.Fatal("ThrowIfLost must report the lease as lost once a renewal has failed")
	}
}

func TestMarkLost_Idempotent_KeepsFirstError(t *testing.T) {
	store := &fakeFencedStore{}
	ml, err := lease.Acquire(context.Background(), store, "scheduler-leader", time.Hour, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.mu.Lock()
	store.renewErr = errors.New("first failure")
	store.mu.Unlock()
	_ = ml.TryRenewNow(context.Background())
	firstErr := ml.ThrowIfLost()

	store.mu.Lock()
	store.renewErr = errors.New("second failure")
	store.mu.Unlock()
	_ = ml.TryRenewNow(context.Background())
	secondErr := ml.ThrowIfLost()

	if firstErr.Error() != secondErr.Error() {
		t.Fatalf("lease-lost error must latch on the first failure, got %q then %q", firstErr, secondErr)
	}
}

func TestClose_ReleasesLease_WhenNotLost(t *testing.T) {
	store := &fakeFencedStore{}
	ml, err := lease.Acquire(context.Background(), store, "scheduler-leader", time.Hour, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ml.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if !store.released {
		t.Fatal("Close must release the lease when it was never lost")
	}
}

func TestClose_DoesNotRelease_WhenAlreadyLost(t *testing.T) {
	store := &fakeFencedStore{}
	ml, err := lease.Acquire(context.Background(), store, "scheduler-leader", time.Hour, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.mu.Lock()
	store.renewErr = errors.New("stolen")
	store.mu.Unlock()
	_ = ml.TryRenewNow(context.Background())

	if err := ml.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.released {
		t.Fatal("Close must not release a lease another owner has already taken over")
	}
}
