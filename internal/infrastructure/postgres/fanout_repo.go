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

// FanoutRepository backs FanoutPolicy definitions and the per-shard
// FanoutCursor watermarks the slicer advances (spec §4.5).
type FanoutRepository struct {
	pool *pgxpool.Pool
}

func NewFanoutRepository(pool *pgxpool.Pool) *FanoutRepository { return &FanoutRepository{pool: pool} }

func (r *FanoutRepository) ListPolicies(ctx context.Context) ([]*domain.FanoutPolicy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fanout_topic, cron, default_every_seconds, jitter_seconds,
		       lease_duration_seconds, work_key, max_catchup_windows
		FROM fanout_policy`)
	if err != nil {
		return nil, fmt.Errorf("list fanout policies: %w", err)
	}
	defer rows.Close()

	var policies []*domain.FanoutPolicy
	for rows.Next() {
		var p domain.FanoutPolicy
		var leaseSeconds int
		if err := rows.Scan(&p.FanoutTopic, &p.Cron, &p.DefaultEverySeconds, &p.JitterSeconds,
			&leaseSeconds, &p.WorkKey, &p.MaxCatchupWindows); err != nil {
			return nil, fmt.Errorf("scan fanout policy: %w", err)
		}
		p.LeaseDuration = time.Duration(leaseSeconds) * time.Second
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

func (r *FanoutRepository) UpsertPolicy(ctx context.Context, p *domain.FanoutPolicy) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO fanout_policy (fanout_topic, cron, default_every_seconds, jitter_seconds,
		                           lease_duration_seconds, work_key, max_catchup_windows)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fanout_topic) DO UPDATE SET
			cron = $2, default_every_seconds = $3, jitter_seconds = $4,
			lease_duration_seconds = $5, work_key = $6, max_catchup_windows = $7`,
		p.FanoutTopic, p.Cron, p.DefaultEverySeconds, p.JitterSeconds,
		int(p.LeaseDuration/time.Second), p.WorkKey, p.MaxCatchupWindows)
	if err != nil {
		return fmt.Errorf("upsert fanout policy: %w", err)
	}
	return nil
}

// CursorFor returns the last emitted window watermark for (topic, shard),
// or the zero time if the shard has never emitted.
func (r *FanoutRepository) CursorFor(ctx context.Context, topic, shardKey string) (*domain.FanoutCursor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT fanout_topic, shard_key, last_emitted_window_start
		FROM fanout_cursor WHERE fanout_topic = $1 AND shard_key = $2`, topic, shardKey)

	var c domain.FanoutCursor
	if err := row.Scan(&c.FanoutTopic, &c.ShardKey, &c.LastEmittedWindowStart); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.FanoutCursor{FanoutTopic: topic, ShardKey: shardKey}, nil
		}
		return nil, fmt.Errorf("get fanout cursor: %w", err)
	}
	return &c, nil
}

// AdvanceCursor moves the watermark forward only if newWindowStart is
// later than the stored one, making concurrent advances from stale
// readers no-ops. resourceName/fencingToken identify the per-topic fanout
// lease guarding this write (spec §4.5/§4.6): a slicer that has lost its
// lease to a newer holder has its write rejected even if it is still
// running.
func (r *FanoutRepository) AdvanceCursor(ctx context.Context, topic, shardKey string, newWindowStart time.Time, resourceName string, fencingToken ids.FencingToken) error {
	if err := assertFencingTokenCurrent(ctx, r.pool, resourceName, fencingToken); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO fanout_cursor (fanout_topic, shard_key, last_emitted_window_start)
		VALUES ($1, $2, $3)
		ON CONFLICT (fanout_topic, shard_key) DO UPDATE SET
			last_emitted_window_start = $3
			WHERE fanout_cursor.last_emitted_window_start < $3`,
		topic, shardKey, newWindowStart)
	if err != nil {
		return fmt.Errorf("advance fanout cursor: %w", err)
	}
	return nil
}
