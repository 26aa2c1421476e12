package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseRepository backs both the coarse named-leader lease and the
// fine-grained, fenced DistributedLock (spec §4.6).
type LeaseRepository struct {
	pool *pgxpool.Pool
}

func NewLeaseRepository(pool *pgxpool.Pool) *LeaseRepository { return &LeaseRepository{pool: pool} }

// AcquireOrRenew is an upsert: if the lease is free or already owned by
// owner, it is (re)claimed for leaseDuration; otherwise the current holder
// is returned unchanged so the caller can tell it lost the race.
func (r *LeaseRepository) AcquireOrRenew(ctx context.Context, name, owner string, leaseDuration time.Duration) (*domain.CoarseLease, bool, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO coarse_lease (name, owner, lease_until_utc)
		VALUES ($1, $2, NOW() + $3)
		ON CONFLICT (name) DO UPDATE SET
			owner = CASE WHEN coarse_lease.owner = $2 OR coarse_lease.lease_until_utc < NOW()
			             THEN $2 ELSE coarse_lease.owner END,
			lease_until_utc = CASE WHEN coarse_lease.owner = $2 OR coarse_lease.lease_until_utc < NOW()
			             THEN NOW() + $3 ELSE coarse_lease.lease_until_utc END
		RETURNING name, owner, lease_until_utc`,
		name, owner, leaseDuration)

	var l domain.CoarseLease
	if err := row.Scan(&l.Name, &l.Owner, &l.LeaseUntilUtc); err != nil {
		return nil, false, fmt.Errorf("acquire or renew coarse lease: %w", err)
	}
	return &l, l.Owner == owner, nil
}

func (r *LeaseRepository) Release(ctx context.Context, name, owner string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM coarse_lease WHERE name = $1 AND owner = $2`, name, owner)
	if err != nil {
		return fmt.Errorf("release coarse lease: %w", err)
	}
	return nil
}

func (r *LeaseRepository) GetCoarse(ctx context.Context, name string) (*domain.CoarseLease, error) {
	row := r.pool.QueryRow(ctx, `SELECT name, owner, lease_until_utc FROM coarse_lease WHERE name = $1`, name)
	var l domain.CoarseLease
	if err := row.Scan(&l.Name, &l.Owner, &l.LeaseUntilUtc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coarse lease: %w", err)
	}
	return &l, nil
}

// --- fenced distributed lock ---

// AcquireFenced grants resourceName to owner if free or expired, issuing a
// fencing token strictly greater than any previously issued for this
// resource — stale holders that present an older token are rejected by
// downstream writers, not by the lock itself (spec §4.6, testable
// property #13).
func (r *LeaseRepository) AcquireFenced(ctx context.Context, resourceName string, owner ids.OwnerToken, leaseDuration time.Duration, contextJSON []byte) (*domain.DistributedLock, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin fenced lock tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingOwner ids.OwnerToken
	var leaseUntil time.Time
	var fencing ids.FencingToken
	err = tx.QueryRow(ctx, `
		SELECT owner_token, lease_until_utc, fencing_token
		FROM distributed_lock WHERE resource_name = $1 FOR UPDATE`, resourceName).
		Scan(&existingOwner, &leaseUntil, &fencing)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		next := ids.FencingToken(1)
		row := tx.QueryRow(ctx, `
			INSERT INTO distributed_lock (resource_name, owner_token, fencing_token, lease_until_utc, context_json)
			VALUES ($1, $2, $3, NOW() + $4, $5)
			RETURNING resource_name, owner_token, fencing_token, lease_until_utc, context_json`,
			resourceName, owner, next, leaseDuration, contextJSON)
		lock, err := scanDistributedLock(row)
		if err != nil {
			return nil, err
		}
		return lock, tx.Commit(ctx)
	case err != nil:
		return nil, fmt.Errorf("read distributed lock: %w", err)
	}

	if existingOwner != owner && leaseUntil.After(time.Now()) {
		return nil, domain.ErrLockNotAcquired
	}

	next := fencing.Next()
	row := tx.QueryRow(ctx, `
		UPDATE distributed_lock
		SET owner_token = $2, fencing_token = $3, lease_until_utc = NOW() + $4, context_json = $5
		WHERE resource_name = $1
		RETURNING resource_name, owner_token, fencing_token, lease_until_utc, context_json`,
		resourceName, owner, next, leaseDuration, contextJSON)
	lock, err := scanDistributedLock(row)
	if err != nil {
		return nil, err
	}
	return lock, tx.Commit(ctx)
}

func scanDistributedLock(row pgx.Row) (*domain.DistributedLock, error) {
	var l domain.DistributedLock
	if err := row.Scan(&l.ResourceName, &l.OwnerToken, &l.FencingToken, &l.LeaseUntilUtc, &l.ContextJSON); err != nil {
		return nil, fmt.Errorf("scan distributed lock: %w", err)
	}
	return &l, nil
}

// RenewFenced extends the lease without changing the fencing token,
// provided owner still holds it.
func (r *LeaseRepository) RenewFenced(ctx context.Context, resourceName string, owner ids.OwnerToken, leaseDuration time.Duration) (*domain.DistributedLock, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE distributed_lock
		SET lease_until_utc = NOW() + $3
		WHERE resource_name = $1 AND owner_token = $2
		RETURNING resource_name, owner_token, fencing_token, lease_until_utc, context_json`,
		resourceName, owner, leaseDuration)

	lock, err := scanDistributedLock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLeaseNotHeld
		}
		return nil, err
	}
	return lock, nil
}

func (r *LeaseRepository) ReleaseFenced(ctx context.Context, resourceName string, owner ids.OwnerToken) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE distributed_lock SET lease_until_utc = NOW()
		WHERE resource_name = $1 AND owner_token = $2`, resourceName, owner)
	if err != nil {
		return fmt.Errorf("release distributed lock: %w", err)
	}
	return nil
}

func (r *LeaseRepository) GetFenced(ctx context.Context, resourceName string) (*domain.DistributedLock, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT resource_name, owner_token, fencing_token, lease_until_utc, context_json
		FROM distributed_lock WHERE resource_name = $1`, resourceName)
	lock, err := scanDistributedLock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return lock, nil
}
