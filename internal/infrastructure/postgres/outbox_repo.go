package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting Enqueue
// participate in the caller's transaction when one is supplied (spec §4.2).
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var OutboxTable = WorkQueueTable{Name: "outbox", IDColumn: "id", StatusColumn: "status", DueColumn: "due_time_utc"}

type OutboxRepository struct {
	pool *pgxpool.Pool
	*WorkQueueEngine
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool, WorkQueueEngine: NewWorkQueueEngine(pool, OutboxTable)}
}

type EnqueueOptions struct {
	Tx            pgx.Tx
	CorrelationID string
	DueTime       *time.Time
	JoinID        *string
}

func (r *OutboxRepository) Enqueue(ctx context.Context, topic string, payload []byte, messageID string, opts EnqueueOptions) (ids.WorkItemID, error) {
	var q querier = r.pool
	if opts.Tx != nil {
		q = opts.Tx
	}

	due := time.Now().UTC()
	if opts.DueTime != nil {
		due = *opts.DueTime
	}

	id := ids.NewWorkItemID()
	_, err := q.Exec(ctx, `
		INSERT INTO outbox (
			id, status, due_time_utc, created_at, topic, payload,
			correlation_id, message_id, join_id
		) VALUES ($1, $2, $3, NOW(), $4, $5, $6, $7, $8)`,
		id, statusPending, due, topic, payload, opts.CorrelationID, messageID, opts.JoinID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ids.WorkItemID{}, domain.ErrDuplicateMessageID
		}
		return ids.WorkItemID{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return id, nil
}

// EnqueueSimple is Enqueue without transaction participation or explicit
// due-time/join wiring — the shape internal/scheduler's Leader needs to
// fire due Timers without importing this package's option struct.
func (r *OutboxRepository) EnqueueSimple(ctx context.Context, topic string, payload []byte, messageID, correlationID string) (ids.WorkItemID, error) {
	return r.Enqueue(ctx, topic, payload, messageID, EnqueueOptions{CorrelationID: correlationID})
}

func (r *OutboxRepository) Get(ctx context.Context, id ids.WorkItemID) (*domain.OutboxMessage, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, status, locked_until, owner_token, retry_count, last_error,
		       due_time_utc, created_at, processed_at,
		       topic, payload, correlation_id, message_id, join_id
		FROM outbox WHERE id = $1`, id)
	return scanOutboxMessage(row)
}

func scanOutboxMessage(row pgx.Row) (*domain.OutboxMessage, error) {
	var m domain.OutboxMessage
	err := row.Scan(
		&m.ID, &m.Status, &m.LockedUntil, &m.OwnerToken, &m.RetryCount, &m.LastError,
		&m.DueTimeUtc, &m.CreatedAt, &m.ProcessedAt,
		&m.Topic, &m.Payload, &m.CorrelationID, &m.MessageID, &m.JoinID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOutboxMessageNotFound
		}
		return nil, fmt.Errorf("scan outbox message: %w", err)
	}
	m.IsProcessed = m.Status == domain.StatusCompleted
	return &m, nil
}

func (r *OutboxRepository) GetMany(ctx context.Context, claimed []ids.WorkItemID) ([]*domain.OutboxMessage, error) {
	if len(claimed) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, status, locked_until, owner_token, retry_count, last_error,
		       due_time_utc, created_at, processed_at,
		       topic, payload, correlation_id, message_id, join_id
		FROM outbox WHERE id = ANY($1)
		ORDER BY due_time_utc ASC, created_at ASC`, idList(claimed))
	if err != nil {
		return nil, fmt.Errorf("get outbox messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- saga joins ---

func (r *OutboxRepository) StartJoin(ctx context.Context, joinID, tenantID string, expectedSteps int, metadata map[string]string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO outbox_join (join_id, tenant_id, expected_steps, completed_steps, failed_steps, status, metadata, created_at)
		VALUES ($1, $2, $3, 0, 0, $4, $5, NOW())`,
		joinID, tenantID, expectedSteps, domain.JoinOpen, metadata)
	if err != nil {
		return fmt.Errorf("start join: %w", err)
	}
	return nil
}

func (r *OutboxRepository) AttachMessageToJoin(ctx context.Context, joinID string, messageID ids.WorkItemID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO outbox_join_member (join_id, outbox_message_id, step_status)
		VALUES ($1, $2, NULL)`, joinID, messageID)
	if err != nil {
		return fmt.Errorf("attach message to join: %w", err)
	}
	return nil
}

// ReportStep records a step outcome and, if the join is now fully
// reported, resolves its terminal status in the same transaction — this
// keeps the completion check race-free under concurrent reporters
// (spec §4.2).
func (r *OutboxRepository) ReportStep(ctx context.Context, joinID string, messageID ids.WorkItemID, outcome domain.StepStatus) (*domain.OutboxJoin, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin join report tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE outbox_join_member SET step_status = $1
		WHERE join_id = $2 AND outbox_message_id = $3 AND step_status IS NULL`,
		outcome, joinID, messageID)
	if err != nil {
		return nil, fmt.Errorf("record join step: %w", err)
	}

	column := "completed_steps"
	if outcome == domain.StepFailed {
		column = "failed_steps"
	}
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE outbox_join
		SET %s = %s + 1
		WHERE join_id = $1
		RETURNING join_id, tenant_id, expected_steps, completed_steps, failed_steps, status, metadata, created_at`,
		column, column), joinID)

	j, err := scanJoin(row)
	if err != nil {
		return nil, err
	}

	if j.Done() && j.Status == domain.JoinOpen {
		resolved := j.ResolvedStatus()
		if _, err := tx.Exec(ctx, `UPDATE outbox_join SET status = $1 WHERE join_id = $2`, resolved, joinID); err != nil {
			return nil, fmt.Errorf("resolve join status: %w", err)
		}
		j.Status = resolved

		if topic := j.Metadata["continuation_topic"]; topic != "" {
			if err := r.enqueueContinuation(ctx, tx, j, topic); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit join report: %w", err)
	}
	return j, nil
}

// continuationPayload is the body of the outbox message enqueued once a
// join resolves, when its metadata names a continuation_topic (spec §4.2
// Open Question #3): the next saga step learns the join's outcome
// without re-querying outbox_join itself.
type continuationPayload struct {
	JoinID   string            `json:"join_id"`
	TenantID string            `json:"tenant_id"`
	Status   domain.JoinStatus `json:"status"`
}

// enqueueContinuation fires the join's continuation message in the same
// transaction that resolved it, so the two either both commit or both
// roll back.
func (r *OutboxRepository) enqueueContinuation(ctx context.Context, tx pgx.Tx, j *domain.OutboxJoin, topic string) error {
	payload, err := json.Marshal(continuationPayload{JoinID: j.JoinID, TenantID: j.TenantID, Status: j.Status})
	if err != nil {
		return fmt.Errorf("encode join continuation payload: %w", err)
	}
	messageID := "join-continuation:" + j.JoinID
	if _, err := r.Enqueue(ctx, topic, payload, messageID, EnqueueOptions{Tx: tx, CorrelationID: j.JoinID}); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessageID) {
			return nil // continuation already enqueued by a prior resolution attempt
		}
		return fmt.Errorf("enqueue join continuation: %w", err)
	}
	return nil
}

func (r *OutboxRepository) GetJoin(ctx context.Context, joinID string) (*domain.OutboxJoin, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT join_id, tenant_id, expected_steps, completed_steps, failed_steps, status, metadata, created_at
		FROM outbox_join WHERE join_id = $1`, joinID)
	return scanJoin(row)
}

func scanJoin(row pgx.Row) (*domain.OutboxJoin, error) {
	var j domain.OutboxJoin
	err := row.Scan(&j.JoinID, &j.TenantID, &j.ExpectedSteps, &j.CompletedSteps, &j.FailedSteps, &j.Status, &j.Metadata, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJoinNotFound
		}
		return nil, fmt.Errorf("scan join: %w", err)
	}
	return &j, nil
}
