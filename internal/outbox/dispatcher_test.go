package outbox_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/outbox"
)

// fakeQueue is a single-owner in-memory stand-in for workqueue.Store: it
// only needs to record what the dispatcher called, not enforce the
// SKIP-LOCKED claim semantics a real postgres-backed Store would (those
// are exercised against the database directly).
type fakeQueue struct {
	mu       sync.Mutex
	pending  []ids.WorkItemID
	acked    []ids.WorkItemID
	abandoned []ids.WorkItemID
	failed   []ids.WorkItemID
	lastDelay time.Duration
}

func (q *fakeQueue) Claim(_ context.Context, _ ids.OwnerToken, _ int, batchSize int) ([]ids.WorkItemID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if n > batchSize {
		n = batchSize
	}
	claimed := q.pending[:n]
	q.pending = q.pending[n:]
	return claimed, nil
}

func (q *fakeQueue) Ack(_ context.Context, _ ids.OwnerToken, workItemIDs []ids.WorkItemID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, workItemIDs...)
	return nil
}

func (q *fakeQueue) Abandon(_ context.Context, _ ids.OwnerToken, workItemIDs []ids.WorkItemID, _ string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abandoned = append(q.abandoned, workItemIDs...)
	q.lastDelay = delay
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, _ ids.OwnerToken, workItemIDs []ids.WorkItemID, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, workItemIDs...)
	return nil
}

func (q *fakeQueue) ReapExpired(context.Context, int) (int, error) { return 0, nil }

func (q *fakeQueue) Reschedule(context.Context, ids.WorkItemID, time.Duration, string) error {
	return nil
}

type fakeMessageStore struct {
	messages map[ids.WorkItemID]*domain.OutboxMessage
	joins    map[string]*domain.OutboxJoin
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[ids.WorkItemID]*domain.OutboxMessage), joins: make(map[string]*domain.OutboxJoin)}
}

func (s *fakeMessageStore) GetMany(_ context.Context, claimed []ids.WorkItemID) ([]*domain.OutboxMessage, error) {
	out := make([]*domain.OutboxMessage, 0, len(claimed))
	for _, id := range claimed {
		out = append(out, s.messages[id])
	}
	return out, nil
}

func (s *fakeMessageStore) ReportStep(_ context.Context, joinID string, _ ids.WorkItemID, outcome domain.StepStatus) (*domain.OutboxJoin, error) {
	j := s.joins[joinID]
	if outcome == domain.StepSucceeded {
		j.CompletedSteps++
	} else {
		j.FailedSteps++
	}
	if j.Done() {
		j.Status = j.ResolvedStatus()
	}
	return j, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newMsg(id ids.WorkItemID, topic string) *domain.OutboxMessage {
	return &domain.OutboxMessage{WorkItem: domain.WorkItem{ID: id, Status: domain.StatusClaimed}, Topic: topic}
}

// waitFor polls until cond returns true or the timeout elapses, avoiding a
// fixed sleep in a test that depends on goroutines started by Start.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatcher_SuccessHandler_Acks(t *testing.T) {
	id := ids.NewWorkItemID()
	queue := &fakeQueue{pending: []ids.WorkItemID{id}}
	store := newFakeMessageStore()
	store.messages[id] = newMsg(id, "orders.created")

	d := outbox.NewDispatcher(queue, store, testLogger(), time.Millisecond, 10)
	d.Register("orders.created", func(context.Context, *domain.OutboxMessage) domain.HandlerResult {
		return domain.HandlerResult{Outcome: domain.Success}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	waitFor(t, time.Second, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.acked) == 1
	})
}

func TestDispatcher_TransientFailure_Abandons(t *testing.T) {
	id := ids.NewWorkItemID()
	queue := &fakeQueue{pending: []ids.WorkItemID{id}}
	store := newFakeMessageStore()
	store.messages[id] = newMsg(id, "orders.created")

	d := outbox.NewDispatcher(queue, store, testLogger(), time.Millisecond, 10)
	d.Register("orders.created", func(context.Context, *domain.OutboxMessage) domain.HandlerResult {
		return domain.HandlerResult{Outcome: domain.TransientFailure, Delay: 5 * time.Second}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	waitFor(t, time.Second, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.abandoned) == 1
	})
	if queue.lastDelay != 5*time.Second {
		t.Errorf("delay = %v, want 5s (explicit HandlerResult.Delay must win over the backoff policy)", queue.lastDelay)
	}
}

func TestDispatcher_PermanentFailure_Fails(t *testing.T) {
	id := ids.NewWorkItemID()
	queue := &fakeQueue{pending: []ids.WorkItemID{id}}
	store := newFakeMessageStore()
	store.messages[id] = newMsg(id, "orders.created")

	d := outbox.NewDispatcher(queue, store, testLogger(), time.Millisecond, 10)
	d.Register("orders.created", func(context.Context, *domain.OutboxMessage) domain.HandlerResult {
		return domain.HandlerResult{Outcome: domain.PermanentFailure}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	waitFor(t, time.Second, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.failed) == 1
	})
}

func TestDispatcher_UnregisteredTopic_FailsPermanently(t *testing.T) {
	id := ids.NewWorkItemID()
	queue := &fakeQueue{pending: []ids.WorkItemID{id}}
	store := newFakeMessageStore()
	store.messages[id] = newMsg(id, "unknown.topic")

	d := outbox.NewDispatcher(queue, store, testLogger(), time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	waitFor(t, time.Second, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.failed) == 1
	})
}

// TestDispatcher_JoinMember_ReportsStepOnResolution exercises the saga
// join path: a message that resolves Success and is the last expected
// step moves its OutboxJoin to Completed.
func TestDispatcher_JoinMember_ReportsStepOnResolution(t *testing.T) {
	id := ids.NewWorkItemID()
	joinID := "join-1"
	queue := &fakeQueue{pending: []ids.WorkItemID{id}}
	store := newFakeMessageStore()
	msg := newMsg(id, "orders.created")
	msg.JoinID = &joinID
	store.messages[id] = msg
	store.joins[joinID] = &domain.OutboxJoin{JoinID: joinID, ExpectedSteps: 1, Status: domain.JoinOpen}

	d := outbox.NewDispatcher(queue, store, testLogger(), time.Millisecond, 10)
	d.Register("orders.created", func(context.Context, *domain.OutboxMessage) domain.HandlerResult {
		return domain.HandlerResult{Outcome: domain.Success}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	waitFor(t, time.Second, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.acked) == 1
	})

	if store.joins[joinID].Status != domain.JoinCompleted {
		t.Fatalf("join status = %v, want Completed", store.joins[joinID].Status)
	}
}
