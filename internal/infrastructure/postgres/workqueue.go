package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkQueueTable names the shared columns of a work-item-shaped table so
// one engine implementation serves Outbox, Inbox, and JobRuns alike (the
// timers table has the same shape but is read by JobsRepository.DueTimers,
// not through this engine) — generalizing the teacher's job_repo.Claim from one hardcoded
// table to any table with this column shape.
type WorkQueueTable struct {
	Name         string // e.g. "outbox"
	IDColumn     string // e.g. "id"
	StatusColumn string // e.g. "status"
	DueColumn    string // e.g. "due_time_utc"
}

const (
	statusPending         = "pending"
	statusClaimed         = "claimed"
	statusCompleted       = "completed"
	statusFailedRetryable = "failed_retryable"
	statusPoisoned        = "poisoned"
)

// WorkQueueEngine is the postgres-backed implementation of
// workqueue.Store, parameterized by table.
type WorkQueueEngine struct {
	pool  *pgxpool.Pool
	table WorkQueueTable
}

func NewWorkQueueEngine(pool *pgxpool.Pool, table WorkQueueTable) *WorkQueueEngine {
	return &WorkQueueEngine{pool: pool, table: table}
}

func (e *WorkQueueEngine) Claim(ctx context.Context, owner ids.OwnerToken, leaseSeconds int, batchSize int) ([]ids.WorkItemID, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET    status       = $1,
		       owner_token  = $2,
		       locked_until = NOW() + make_interval(secs => $3)
		WHERE  %s IN (
			SELECT %s FROM %s
			WHERE  %s IN ($4, $5)
			  AND  %s <= NOW()
			  AND  (locked_until IS NULL OR locked_until <= NOW())
			ORDER BY %s ASC, created_at ASC
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`,
		e.table.Name, e.table.IDColumn, e.table.IDColumn, e.table.Name,
		e.table.StatusColumn, e.table.DueColumn, e.table.DueColumn, e.table.IDColumn)

	rows, err := e.pool.Query(ctx, query,
		statusClaimed, owner, leaseSeconds, statusPending, statusFailedRetryable, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", e.table.Name, err)
	}
	defer rows.Close()

	var claimed []ids.WorkItemID
	for rows.Next() {
		var id ids.WorkItemID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimed id: %w", err)
		}
		claimed = append(claimed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed %s: %w", e.table.Name, err)
	}
	return claimed, nil
}

func (e *WorkQueueEngine) Ack(ctx context.Context, owner ids.OwnerToken, workItemIDs []ids.WorkItemID) error {
	if len(workItemIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET    status       = $1,
		       processed_at = NOW(),
		       locked_until = NULL,
		       owner_token  = NULL
		WHERE  %s = ANY($2) AND status = $3 AND owner_token = $4`,
		e.table.Name, e.table.IDColumn)

	_, err := e.pool.Exec(ctx, query, statusCompleted, idList(workItemIDs), statusClaimed, owner)
	if err != nil {
		return fmt.Errorf("ack %s: %w", e.table.Name, err)
	}
	return nil
}

func (e *WorkQueueEngine) Abandon(ctx context.Context, owner ids.OwnerToken, workItemIDs []ids.WorkItemID, lastErr string, delay time.Duration) error {
	if len(workItemIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET    status       = $1,
		       retry_count  = retry_count + 1,
		       last_error   = $2,
		       %s           = NOW() + $3,
		       locked_until = NULL,
		       owner_token  = NULL
		WHERE  %s = ANY($4) AND status = $5 AND owner_token = $6`,
		e.table.Name, e.table.DueColumn, e.table.IDColumn)

	_, err := e.pool.Exec(ctx, query, statusFailedRetryable, lastErr, delay, idList(workItemIDs), statusClaimed, owner)
	if err != nil {
		return fmt.Errorf("abandon %s: %w", e.table.Name, err)
	}
	return nil
}

func (e *WorkQueueEngine) Fail(ctx context.Context, owner ids.OwnerToken, workItemIDs []ids.WorkItemID, lastErr string) error {
	if len(workItemIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET    status       = $1,
		       last_error   = $2,
		       locked_until = NULL,
		       owner_token  = NULL
		WHERE  %s = ANY($3) AND status = $4 AND owner_token = $5`,
		e.table.Name, e.table.IDColumn)

	_, err := e.pool.Exec(ctx, query, statusPoisoned, lastErr, idList(workItemIDs), statusClaimed, owner)
	if err != nil {
		return fmt.Errorf("fail %s: %w", e.table.Name, err)
	}
	return nil
}

func (e *WorkQueueEngine) ReapExpired(ctx context.Context, limit int) (int, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET    status       = $1,
		       retry_count  = retry_count + 1,
		       last_error   = 'lease expired: reaped',
		       locked_until = NULL,
		       owner_token  = NULL
		WHERE %s IN (
			SELECT %s FROM %s
			WHERE status = $2 AND locked_until < NOW()
			ORDER BY locked_until ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)`,
		e.table.Name, e.table.IDColumn, e.table.IDColumn, e.table.Name)

	tag, err := e.pool.Exec(ctx, query, statusFailedRetryable, statusClaimed, limit)
	if err != nil {
		return 0, fmt.Errorf("reap %s: %w", e.table.Name, err)
	}
	return int(tag.RowsAffected()), nil
}

func (e *WorkQueueEngine) Reschedule(ctx context.Context, id ids.WorkItemID, delay time.Duration, lastErr string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET    status       = $1,
		       retry_count  = retry_count + 1,
		       last_error   = $2,
		       %s           = NOW() + $3,
		       locked_until = NULL,
		       owner_token  = NULL
		WHERE  %s = $4`,
		e.table.Name, e.table.DueColumn, e.table.IDColumn)

	_, err := e.pool.Exec(ctx, query, statusFailedRetryable, lastErr, delay, id)
	if err != nil {
		return fmt.Errorf("reschedule %s row: %w", e.table.Name, err)
	}
	return nil
}

func idList(workItemIDs []ids.WorkItemID) []string {
	out := make([]string, len(workItemIDs))
	for i, id := range workItemIDs {
		out[i] = id.String()
	}
	return out
}
