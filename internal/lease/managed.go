// Package lease provides a client-side wrapper around the fenced lease
// primitive stored in postgres (spec §4.6): a self-renewing ManagedLease
// that records a failed renewal as lease loss. It does not push a signal
// to the caller; the holder learns of the loss by calling ThrowIfLost or
// TryRenewNow before its next guarded write.
package lease

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/werrors"
)

// FencedStore is the subset of LeaseRepository a ManagedLease renews
// against.
type FencedStore interface {
	AcquireFenced(ctx context.Context, resourceName string, owner ids.OwnerToken, leaseDuration time.Duration, contextJSON []byte) (*domain.DistributedLock, error)
	RenewFenced(ctx context.Context, resourceName string, owner ids.OwnerToken, leaseDuration time.Duration) (*domain.DistributedLock, error)
	ReleaseFenced(ctx context.Context, resourceName string, owner ids.OwnerToken) error
}

// ManagedLease acquires a fenced lock and renews it on a background timer
// at a fraction of the lease duration, so a renew failure is detected well
// before the lease would actually expire. Callers performing guarded work
// should call ThrowIfLost before each write and treat its error as fatal
// to the current attempt.
type ManagedLease struct {
	store        FencedStore
	resourceName string
	owner        ids.OwnerToken
	leaseDuration time.Duration
	renewEvery   time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	current  *domain.DistributedLock
	lost     bool
	lostErr  error

	cancel context.CancelFunc
	done   chan struct{}
}

// Acquire makes one attempt to obtain the lease and, on success, starts the
// background renewal loop. A store error (e.g. domain.ErrLockNotAcquired
// when another owner holds it) is returned without retrying.
func Acquire(ctx context.Context, store FencedStore, resourceName string, leaseDuration time.Duration, logger *slog.Logger) (*ManagedLease, error) {
	owner := ids.NewOwnerToken()
	lock, err := store.AcquireFenced(ctx, resourceName, owner, leaseDuration, nil)
	if err != nil {
		metrics.LeaseAcquisitionsTotal.WithLabelValues(resourceName, "denied").Inc()
		return nil, err
	}
	metrics.LeaseAcquisitionsTotal.WithLabelValues(resourceName, "acquired").Inc()

	renewCtx, cancel := context.WithCancel(context.Background())
	ml := &ManagedLease{
		store:         store,
		resourceName:  resourceName,
		owner:         owner,
		leaseDuration: leaseDuration,
		renewEvery:    leaseDuration / 3,
		logger:        logger.With("component", "lease.managed", "resource", resourceName),
		current:       lock,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go ml.renewLoop(renewCtx)
	return ml, nil
}

func (m *ManagedLease) renewLoop(ctx context.Context) {
	defer close(m.done)

	jitter := time.Duration(rand.Int63n(int64(m.renewEvery / 4)))
	ticker := time.NewTicker(m.renewEvery - m.renewEvery/8 + jitter)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tryRenew(ctx)
		}
	}
}

func (m *ManagedLease) tryRenew(ctx context.Context) {
	lock, err := m.store.RenewFenced(ctx, m.resourceName, m.owner, m.leaseDuration)
	if err != nil {
		metrics.LeaseAcquisitionsTotal.WithLabelValues(m.resourceName, "lost").Inc()
		m.markLost(werrors.LeaseLost(err))
		return
	}
	metrics.LeaseAcquisitionsTotal.WithLabelValues(m.resourceName, "renewed").Inc()
	m.mu.Lock()
	m.current = lock
	m.mu.Unlock()
}

// TryRenewNow forces an immediate renewal attempt outside the background
// timer — useful right before a high-stakes write.
func (m *ManagedLease) TryRenewNow(ctx context.Context) error {
	m.tryRenew(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lost {
		return m.lostErr
	}
	return nil
}

func (m *ManagedLease) markLost(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lost {
		m.lost = true
		m.lostErr = err
		m.logger.Error("lease lost", "error", err)
	}
}

// ThrowIfLost returns the lease-loss error if a prior renewal failed.
func (m *ManagedLease) ThrowIfLost() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lost {
		return m.lostErr
	}
	return nil
}

// FencingToken returns the most recently observed fencing token, for
// attaching to guarded writes.
func (m *ManagedLease) FencingToken() ids.FencingToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.FencingToken
}

// Close stops the renewal loop and releases the lease if it is still
// held.
func (m *ManagedLease) Close(ctx context.Context) error {
	m.cancel()
	<-m.done
	if m.ThrowIfLost() != nil {
		return nil // nothing to release, another owner already holds it
	}
	return m.store.ReleaseFenced(ctx, m.resourceName, m.owner)
}
