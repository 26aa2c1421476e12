// Package fanout implements the periodic per-shard slice emission
// described in spec §4.5: for each FanoutPolicy, on a cron or jittered
// interval schedule, emit one outbox message per shard covering the
// window since that shard's last emitted cursor, bounded by
// MaxCatchupWindows so a long outage does not replay an unbounded burst.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/lease"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/robfig/cron/v3"
)

func encodeSlice(s domain.FanoutSlice) ([]byte, error) { return json.Marshal(s) }

func fanoutLeaseResource(topic string) string { return "fanout:" + topic }

// CursorStore is the subset of FanoutRepository the slicer needs. Writes
// are guarded by the per-topic fanout lease's fencing token (spec §4.5:
// "a fanout worker holds a lease per FanoutTopic").
type CursorStore interface {
	ListPolicies(ctx context.Context) ([]*domain.FanoutPolicy, error)
	CursorFor(ctx context.Context, topic, shardKey string) (*domain.FanoutCursor, error)
	AdvanceCursor(ctx context.Context, topic, shardKey string, newWindowStart time.Time, resourceName string, fencingToken ids.FencingToken) error
}

// OutboxEnqueuer is the narrow enqueue surface the slicer needs.
type OutboxEnqueuer interface {
	EnqueueSimple(ctx context.Context, topic string, payload []byte, messageID, correlationID string) (ids.WorkItemID, error)
}

// ShardSource supplies the set of shard keys a policy fans out over — for
// example, one shard key per tenant or per registered database, resolved
// at tick time so shard membership can change without restarting the
// slicer.
type ShardSource func(ctx context.Context, policy *domain.FanoutPolicy) ([]string, error)

// Slicer drives the tick loop. One Slicer instance serves every
// registered FanoutPolicy, holding one fenced lease per FanoutTopic so
// two slicer processes never emit the same window twice.
type Slicer struct {
	leaseStore lease.FencedStore
	cursors    CursorStore
	outbox     OutboxEnqueuer
	shards     ShardSource
	tick       time.Duration
	logger     *slog.Logger

	leases map[string]*lease.ManagedLease
}

func NewSlicer(leaseStore lease.FencedStore, cursors CursorStore, outbox OutboxEnqueuer, shards ShardSource, tick time.Duration, logger *slog.Logger) *Slicer {
	return &Slicer{
		leaseStore: leaseStore,
		cursors:    cursors,
		outbox:     outbox,
		shards:     shards,
		tick:       tick,
		logger:     logger.With("component", "fanout.slicer"),
		leases:     make(map[string]*lease.ManagedLease),
	}
}

func (s *Slicer) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("fanout slicer started", "tick", s.tick)

	for {
		select {
		case <-ctx.Done():
			for topic, ml := range s.leases {
				if err := ml.Close(context.Background()); err != nil {
					s.logger.Error("release fanout lease", "topic", topic, "error", err)
				}
			}
			s.logger.Info("fanout slicer shut down")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Slicer) runOnce(ctx context.Context) {
	policies, err := s.cursors.ListPolicies(ctx)
	if err != nil {
		s.logger.Error("list fanout policies", "error", err)
		return
	}

	for _, p := range policies {
		ml, err := s.leaseFor(ctx, p)
		if err != nil {
			if !errors.Is(err, domain.ErrLockNotAcquired) {
				s.logger.Error("acquire fanout lease", "topic", p.FanoutTopic, "error", err)
			}
			continue // another slicer holds this topic's lease
		}
		if err := ml.ThrowIfLost(); err != nil {
			s.logger.Warn("fanout lease lost", "topic", p.FanoutTopic, "error", err)
			delete(s.leases, p.FanoutTopic)
			continue
		}

		shardKeys, err := s.shards(ctx, p)
		if err != nil {
			s.logger.Error("resolve shards", "topic", p.FanoutTopic, "error", err)
			continue
		}
		policyCtx := log.WithLeaseResource(ctx, fanoutLeaseResource(p.FanoutTopic))
		for _, shard := range shardKeys {
			if s.leases[p.FanoutTopic] == nil {
				break // lease lost partway through this policy's shards
			}
			s.emitShard(policyCtx, p, shard, ml)
		}
	}
}

// leaseFor returns the held lease for p's topic, acquiring one if this
// slicer does not already hold it.
func (s *Slicer) leaseFor(ctx context.Context, p *domain.FanoutPolicy) (*lease.ManagedLease, error) {
	if ml, ok := s.leases[p.FanoutTopic]; ok {
		return ml, nil
	}
	resource := fanoutLeaseResource(p.FanoutTopic)
	ml, err := lease.Acquire(ctx, s.leaseStore, resource, p.LeaseDuration, s.logger)
	if err != nil {
		return nil, err
	}
	s.leases[p.FanoutTopic] = ml
	return ml, nil
}

func (s *Slicer) nextWindowStart(p *domain.FanoutPolicy, lastWindowStart time.Time) (time.Time, bool) {
	now := time.Now().UTC()

	if p.Cron != "" {
		sched, err := cron.ParseStandard(p.Cron)
		if err != nil {
			return time.Time{}, false
		}
		next := sched.Next(lastWindowStart)
		if next.After(now) {
			return time.Time{}, false
		}
		return next, true
	}

	every := time.Duration(p.DefaultEverySeconds) * time.Second
	if every <= 0 {
		return time.Time{}, false
	}
	next := lastWindowStart.Add(every)
	if next.After(now) {
		return time.Time{}, false
	}
	if p.JitterSeconds > 0 {
		next = next.Add(time.Duration(rand.Intn(p.JitterSeconds)) * time.Second)
	}
	return next, true
}

func (s *Slicer) emitShard(ctx context.Context, p *domain.FanoutPolicy, shardKey string, ml *lease.ManagedLease) {
	cursor, err := s.cursors.CursorFor(ctx, p.FanoutTopic, shardKey)
	if err != nil {
		s.logger.Error("get fanout cursor", "topic", p.FanoutTopic, "shard", shardKey, "error", err)
		return
	}

	windows := s.pendingWindows(p, cursor.LastEmittedWindowStart)
	if len(windows) == 0 {
		return
	}

	dropped := 0
	if p.MaxCatchupWindows > 0 && len(windows) > p.MaxCatchupWindows {
		dropped = len(windows) - p.MaxCatchupWindows
		windows = windows[dropped:]
	}
	if dropped > 0 {
		metrics.FanoutCatchupWindowsDropped.WithLabelValues(p.FanoutTopic).Add(float64(dropped))
		s.logger.Warn("dropped stale fanout catch-up windows", "topic", p.FanoutTopic, "shard", shardKey, "dropped", dropped)
	}

	for _, windowStart := range windows {
		slice := domain.FanoutSlice{
			FanoutTopic: p.FanoutTopic,
			ShardKey:    shardKey,
			WorkKey:     p.WorkKey,
			WindowStart: windowStart,
		}
		payload, err := encodeSlice(slice)
		if err != nil {
			s.logger.Error("encode fanout slice", "error", err)
			continue
		}
		messageID := fmt.Sprintf("%s:%s:%d", p.FanoutTopic, shardKey, windowStart.Unix())
		topic := fmt.Sprintf("fanout:%s:%s", p.FanoutTopic, p.WorkKey)
		if _, err := s.outbox.EnqueueSimple(ctx, topic, payload, messageID, ""); err != nil {
			s.logger.Error("enqueue fanout slice", "topic", p.FanoutTopic, "shard", shardKey, "error", err)
			continue
		}
		resource := fanoutLeaseResource(p.FanoutTopic)
		if err := s.cursors.AdvanceCursor(ctx, p.FanoutTopic, shardKey, windowStart, resource, ml.FencingToken()); err != nil {
			if errors.Is(err, domain.ErrStaleFencingToken) {
				s.logger.Warn("fanout fencing token superseded", "topic", p.FanoutTopic, "shard", shardKey, "error", err)
				delete(s.leases, p.FanoutTopic)
				return
			}
			s.logger.Error("advance fanout cursor", "topic", p.FanoutTopic, "shard", shardKey, "error", err)
			continue
		}
		metrics.FanoutSlicesEmittedTotal.WithLabelValues(p.FanoutTopic).Inc()
	}
}

// pendingWindows returns every window start from lastEmitted (exclusive)
// up to now (inclusive), in order.
func (s *Slicer) pendingWindows(p *domain.FanoutPolicy, lastEmitted time.Time) []time.Time {
	var windows []time.Time
	cursor := lastEmitted
	for {
		next, ok := s.nextWindowStart(p, cursor)
		if !ok {
			break
		}
		windows = append(windows, next)
		cursor = next
		if len(windows) > 10_000 {
			break // pathological cron/interval misconfiguration guard
		}
	}
	return windows
}
