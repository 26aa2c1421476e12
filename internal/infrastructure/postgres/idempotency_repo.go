package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepository backs the exactly-once executor's state machine
// (spec §4.9): TryBegin/Complete/Fail over a single Key -> State row.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// TryBegin inserts an InProgress row for key, or returns the existing
// record unchanged if one is already present — the caller distinguishes
// "I own this attempt" from "someone already started/finished it" by
// comparing the returned record's State to InProgress plus whether this
// call actually inserted it.
func (r *IdempotencyRepository) TryBegin(ctx context.Context, key string) (rec *domain.IdempotencyRecord, began bool, err error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO idempotency (key, state, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE SET key = idempotency.key
		RETURNING key, state, created_at, updated_at, (xmax = 0) AS inserted`,
		key, domain.IdempotencyInProgress)

	var inserted bool
	var record domain.IdempotencyRecord
	if err := row.Scan(&record.Key, &record.State, &record.CreatedAt, &record.UpdatedAt, &inserted); err != nil {
		return nil, false, fmt.Errorf("try begin idempotency record: %w", err)
	}
	return &record, inserted, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT key, state, created_at, updated_at FROM idempotency WHERE key = $1`, key)
	var record domain.IdempotencyRecord
	if err := row.Scan(&record.Key, &record.State, &record.CreatedAt, &record.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &record, nil
}

func (r *IdempotencyRepository) Complete(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE idempotency SET state = $1, updated_at = NOW() WHERE key = $2`,
		domain.IdempotencyCompleted, key)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Fail(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE idempotency SET state = $1, updated_at = NOW() WHERE key = $2`,
		domain.IdempotencyFailed, key)
	if err != nil {
		return fmt.Errorf("fail idempotency record: %w", err)
	}
	return nil
}

// Reset clears a Failed record so a subsequent TryBegin can retry the
// operation under the same key.
func (r *IdempotencyRepository) Reset(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM idempotency WHERE key = $1 AND state = $2`,
		key, domain.IdempotencyFailed)
	if err != nil {
		return fmt.Errorf("reset idempotency record: %w", err)
	}
	return nil
}
