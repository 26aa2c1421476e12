// Package outbox implements the transactional-outbox dispatcher (spec
// §4.2): a poll loop that claims due OutboxMessage rows via the shared
// work-queue engine, invokes a topic-registered handler for each, and
// resolves the outcome back through Ack/Abandon/Fail — generalizing the
// teacher's internal/scheduler worker/dispatcher pair from one hardcoded
// HTTP call per job to an arbitrary per-topic handler.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/werrors"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/workqueue"
)

// Handler processes one claimed message and reports how the dispatcher
// should resolve it. Handlers must be idempotent: a crash between a
// successful side effect and the Ack can cause at-least-once redelivery
// (spec §4.2 invariants).
type Handler func(ctx context.Context, msg *domain.OutboxMessage) domain.HandlerResult

// MessageStore is the subset of OutboxRepository the dispatcher needs to
// read claimed rows and resolve saga joins.
type MessageStore interface {
	GetMany(ctx context.Context, claimed []ids.WorkItemID) ([]*domain.OutboxMessage, error)
	ReportStep(ctx context.Context, joinID string, messageID ids.WorkItemID, outcome domain.StepStatus) (*domain.OutboxJoin, error)
}

// Dispatcher polls the outbox table for due messages and runs them
// through registered topic handlers.
type Dispatcher struct {
	id           string
	queue        workqueue.Store
	store        MessageStore
	handlers     map[string]Handler
	backoff      domain.BackoffPolicy
	pollInterval time.Duration
	batchSize    int
	leaseSeconds int
	logger       *slog.Logger

	mu sync.RWMutex
}

func NewDispatcher(queue workqueue.Store, store MessageStore, logger *slog.Logger, pollInterval time.Duration, batchSize int) *Dispatcher {
	hostname, _ := os.Hostname()
	return &Dispatcher{
		id:           fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		queue:        queue,
		store:        store,
		handlers:     make(map[string]Handler),
		backoff:      domain.DefaultBackoffPolicy(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		leaseSeconds: 60,
		logger:       logger.With("component", "outbox.dispatcher"),
	}
}

// Register binds a handler to a topic. Registering the same topic twice
// replaces the previous handler — intended for wiring at startup, not
// runtime reconfiguration.
func (d *Dispatcher) Register(topic string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = h
}

func (d *Dispatcher) handlerFor(topic string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[topic]
	return h, ok
}

func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started", "id", d.id, "poll_interval", d.pollInterval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher shut down")
			return
		case <-ticker.C:
			d.dispatchBatch(ctx)
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) {
	owner := ids.NewOwnerToken()
	claimed, err := d.queue.Claim(ctx, owner, d.leaseSeconds, d.batchSize)
	if err != nil {
		d.logger.Error("claim outbox batch", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	messages, err := d.store.GetMany(ctx, claimed)
	if err != nil {
		d.logger.Error("load claimed outbox messages", "error", err)
		return
	}

	d.logger.Info("outbox dispatcher claimed batch", "count", len(messages))

	var wg sync.WaitGroup
	for _, msg := range messages {
		wg.Add(1)
		go func(m *domain.OutboxMessage) {
			defer wg.Done()
			d.process(ctx, owner, m)
		}(msg)
	}
	wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, owner ids.OwnerToken, msg *domain.OutboxMessage) {
	ctx = log.WithOwnerToken(ctx, owner.String())
	start := time.Now()
	handler, ok := d.handlerFor(msg.Topic)
	var result domain.HandlerResult
	if !ok {
		result = domain.HandlerResult{
			Outcome: domain.PermanentFailure,
			Err:     fmt.Errorf("no handler registered for topic %q", msg.Topic),
		}
	} else {
		result = func() (r domain.HandlerResult) {
			defer werrors.RecoverTransient(func(err error) {
				r = domain.HandlerResult{Outcome: domain.TransientFailure, Err: err}
			})
			return handler(ctx, msg)
		}()
	}
	metrics.OutboxHandlerDuration.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())

	if msg.JoinID != nil {
		step := domain.StepSucceeded
		if result.Outcome != domain.Success {
			step = domain.StepFailed
		}
		if _, err := d.store.ReportStep(ctx, *msg.JoinID, msg.ID, step); err != nil {
			d.logger.Error("report join step", "join_id", *msg.JoinID, "error", err)
		}
	}

	switch result.Outcome {
	case domain.Success:
		if err := d.queue.Ack(ctx, owner, []ids.WorkItemID{msg.ID}); err != nil {
			d.logger.Error("ack outbox message", "id", msg.ID, "error", err)
			return
		}
		metrics.OutboxMessagesTotal.WithLabelValues(msg.Topic, "success").Inc()
	case domain.TransientFailure:
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		if d.backoff.ExhaustedRetries(msg.RetryCount) {
			if err := d.queue.Fail(ctx, owner, []ids.WorkItemID{msg.ID}, errMsg); err != nil {
				d.logger.Error("fail outbox message", "id", msg.ID, "error", err)
				return
			}
			metrics.OutboxMessagesTotal.WithLabelValues(msg.Topic, "poisoned").Inc()
			d.logger.Error("outbox message exhausted retries, poisoned", "id", msg.ID, "topic", msg.Topic, "retry_count", msg.RetryCount, "error", errMsg)
			return
		}

		delay := result.Delay
		if delay == 0 {
			delay = d.backoff.Delay(msg.RetryCount)
		}
		if err := d.queue.Abandon(ctx, owner, []ids.WorkItemID{msg.ID}, errMsg, delay); err != nil {
			d.logger.Error("abandon outbox message", "id", msg.ID, "error", err)
			return
		}
		metrics.OutboxMessagesTotal.WithLabelValues(msg.Topic, "retry").Inc()
		d.logger.Warn("outbox message failed, will retry", "id", msg.ID, "topic", msg.Topic, "retry_count", msg.RetryCount+1, "delay", delay)
	case domain.PermanentFailure:
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		if err := d.queue.Fail(ctx, owner, []ids.WorkItemID{msg.ID}, errMsg); err != nil {
			d.logger.Error("fail outbox message", "id", msg.ID, "error", err)
			return
		}
		metrics.OutboxMessagesTotal.WithLabelValues(msg.Topic, "poisoned").Inc()
		d.logger.Error("outbox message permanently failed", "id", msg.ID, "topic", msg.Topic, "error", errMsg)
	}
}
