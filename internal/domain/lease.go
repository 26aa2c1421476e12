package domain

import (
	"errors"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
)

var (
	ErrLeaseNotHeld    = errors.New("lease is not held by this owner")
	ErrLockNotAcquired = errors.New("distributed lock was not acquired")
	ErrStaleFencingToken = errors.New("fencing token is stale")
)

// CoarseLease backs named leader-election style leases (e.g.
// "scheduler-leader").
type CoarseLease struct {
	Name         string
	Owner        string
	LeaseUntilUtc time.Time
}

// DistributedLock is the fine-grained, fenced resource lock (spec §3/§4.6).
type DistributedLock struct {
	ResourceName  string
	OwnerToken    ids.OwnerToken
	FencingToken  ids.FencingToken
	LeaseUntilUtc time.Time
	ContextJSON   []byte
}
