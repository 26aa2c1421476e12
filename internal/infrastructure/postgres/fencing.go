package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// assertFencingTokenCurrent rejects token if a newer owner has since
// acquired or renewed resourceName's distributed lock. The lock service
// itself cannot stop a stalled former leader from still issuing writes —
// every write a lease is meant to guard must re-check its token against
// the latest one on record here (spec §4.6, testable property #2).
func assertFencingTokenCurrent(ctx context.Context, pool *pgxpool.Pool, resourceName string, token ids.FencingToken) error {
	var current ids.FencingToken
	err := pool.QueryRow(ctx, `SELECT fencing_token FROM distributed_lock WHERE resource_name = $1`, resourceName).
		Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil // no lock has ever been issued for this resource; nothing to fence against
	}
	if err != nil {
		return fmt.Errorf("check fencing token: %w", err)
	}
	if token.Less(current) {
		return domain.ErrStaleFencingToken
	}
	return nil
}
