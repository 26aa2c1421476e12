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

var InboxTable = WorkQueueTable{Name: "inbox", IDColumn: "id", StatusColumn: "status", DueColumn: "due_time_utc"}

type InboxRepository struct {
	pool *pgxpool.Pool
	*WorkQueueEngine
}

func NewInboxRepository(pool *pgxpool.Pool) *InboxRepository {
	return &InboxRepository{pool: pool, WorkQueueEngine: NewWorkQueueEngine(pool, InboxTable)}
}

// Upsert inserts a new inbox row keyed by (source, message_id), or, on
// conflict, advances LastSeenUtc and returns the existing row — this is
// the dedupe behavior of spec §4.3/testable property #10.
func (r *InboxRepository) Upsert(ctx context.Context, source, messageID, hash, eventType string, payload []byte) (*domain.InboxMessage, bool, error) {
	id := ids.NewWorkItemID()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO inbox (
			id, status, due_time_utc, created_at, source, message_id, hash,
			event_type, payload, first_seen_utc, last_seen_utc, attempts
		) VALUES ($1, $2, NOW(), NOW(), $3, $4, $5, $6, $7, NOW(), NOW(), 0)
		ON CONFLICT (source, message_id) DO UPDATE
			SET last_seen_utc = NOW()
		RETURNING id, status, locked_until, owner_token, retry_count, last_error,
		          due_time_utc, created_at, processed_at,
		          source, message_id, hash, event_type, payload,
		          first_seen_utc, last_seen_utc, processed_utc, attempts,
		          (xmax = 0) AS inserted`,
		id, domain.StatusPending, source, messageID, hash, eventType, payload)

	var inserted bool
	m, err := scanInboxMessage(row, &inserted)
	if err != nil {
		return nil, false, err
	}
	return m, inserted, nil
}

func scanInboxMessage(row pgx.Row, insertedOut *bool) (*domain.InboxMessage, error) {
	var m domain.InboxMessage
	var inserted bool
	err := row.Scan(
		&m.ID, &m.Status, &m.LockedUntil, &m.OwnerToken, &m.RetryCount, &m.LastError,
		&m.DueTimeUtc, &m.CreatedAt, &m.ProcessedAt,
		&m.Source, &m.MessageID, &m.Hash, &m.EventType, &m.Payload,
		&m.FirstSeenUtc, &m.LastSeenUtc, &m.ProcessedUtc, &m.Attempts,
		&inserted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInboxMessageNotFound
		}
		return nil, fmt.Errorf("scan inbox message: %w", err)
	}
	if insertedOut != nil {
		*insertedOut = inserted
	}
	return &m, nil
}

func (r *InboxRepository) Get(ctx context.Context, id ids.WorkItemID) (*domain.InboxMessage, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, status, locked_until, owner_token, retry_count, last_error,
		       due_time_utc, created_at, processed_at,
		       source, message_id, hash, event_type, payload,
		       first_seen_utc, last_seen_utc, processed_utc, attempts, false
		FROM inbox WHERE id = $1`, id)
	return scanInboxMessage(row, nil)
}

func (r *InboxRepository) GetMany(ctx context.Context, claimed []ids.WorkItemID) ([]*domain.InboxMessage, error) {
	if len(claimed) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, status, locked_until, owner_token, retry_count, last_error,
		       due_time_utc, created_at, processed_at,
		       source, message_id, hash, event_type, payload,
		       first_seen_utc, last_seen_utc, processed_utc, attempts, false
		FROM inbox WHERE id = ANY($1)
		ORDER BY due_time_utc ASC, created_at ASC`, idList(claimed))
	if err != nil {
		return nil, fmt.Errorf("get inbox messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.InboxMessage
	for rows.Next() {
		m, err := scanInboxMessage(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IncrementAttempts bumps the attempt counter before a background worker
// invokes the handler, so Attempts reflects in-flight tries even before a
// terminal outcome is recorded.
func (r *InboxRepository) IncrementAttempts(ctx context.Context, id ids.WorkItemID) error {
	_, err := r.pool.Exec(ctx, `UPDATE inbox SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment inbox attempts: %w", err)
	}
	return nil
}

func (r *InboxRepository) MarkProcessed(ctx context.Context, id ids.WorkItemID) error {
	_, err := r.pool.Exec(ctx, `UPDATE inbox SET processed_utc = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark inbox processed: %w", err)
	}
	return nil
}
