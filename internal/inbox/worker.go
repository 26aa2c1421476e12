package inbox

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
	"github.com/ErlanBelekov/dist-job-scheduler/internal/workqueue"
)

// EventHandler processes one accepted, deduped inbox message exactly
// once per MessageID (spec §4.3 invariant: handler execution is
// idempotent with respect to redelivery of the same MessageID, even
// though the handler itself may be invoked more than once if a prior
// attempt crashed after doing work but before Ack).
type EventHandler func(ctx context.Context, msg *domain.InboxMessage) domain.HandlerResult

// MessageStore is the subset of InboxRepository the worker needs.
type MessageStore interface {
	GetMany(ctx context.Context, claimed []ids.WorkItemID) ([]*domain.InboxMessage, error)
	IncrementAttempts(ctx context.Context, id ids.WorkItemID) error
	MarkProcessed(ctx context.Context, id ids.WorkItemID) error
}

// Worker claims accepted inbox rows in the background and dispatches them
// to a handler registered by EventType, mirroring the outbox dispatcher's
// claim/process/resolve loop but without saga-join bookkeeping.
type Worker struct {
	id           string
	queue        workqueue.Store
	store        MessageStore
	handlers     map[string]EventHandler
	backoff      domain.BackoffPolicy
	pollInterval time.Duration
	batchSize    int
	leaseSeconds int
	logger       *slog.Logger

	mu sync.RWMutex
}

func NewWorker(queue workqueue.Store, store MessageStore, logger *slog.Logger, pollInterval time.Duration, batchSize int) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		id:           fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		queue:        queue,
		store:        store,
		handlers:     make(map[string]EventHandler),
		backoff:      domain.DefaultBackoffPolicy(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		leaseSeconds: 60,
		logger:       logger.With("component", "inbox.worker"),
	}
}

func (w *Worker) Register(eventType string, h EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[eventType] = h
}

func (w *Worker) handlerFor(eventType string) (EventHandler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[eventType]
	return h, ok
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("inbox worker started", "id", w.id)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox worker shut down")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	owner := ids.NewOwnerToken()
	claimed, err := w.queue.Claim(ctx, owner, w.leaseSeconds, w.batchSize)
	if err != nil {
		w.logger.Error("claim inbox batch", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	messages, err := w.store.GetMany(ctx, claimed)
	if err != nil {
		w.logger.Error("load claimed inbox messages", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, msg := range messages {
		wg.Add(1)
		go func(m *domain.InboxMessage) {
			defer wg.Done()
			w.process(ctx, owner, m)
		}(msg)
	}
	wg.Wait()
}

func (w *Worker) process(ctx context.Context, owner ids.OwnerToken, msg *domain.InboxMessage) {
	ctx = log.WithOwnerToken(ctx, owner.String())
	if err := w.store.IncrementAttempts(ctx, msg.ID); err != nil {
		w.logger.Error("increment inbox attempts", "id", msg.ID, "error", err)
	}

	start := time.Now()
	handler, ok := w.handlerFor(msg.EventType)
	var result domain.HandlerResult
	if !ok {
		result = domain.HandlerResult{
			Outcome: domain.PermanentFailure,
			Err:     fmt.Errorf("no handler registered for event type %q", msg.EventType),
		}
	} else {
		result = handler(ctx, msg)
	}
	metrics.InboxHandlerDuration.WithLabelValues(msg.EventType).Observe(time.Since(start).Seconds())

	switch result.Outcome {
	case domain.Success:
		if err := w.queue.Ack(ctx, owner, []ids.WorkItemID{msg.ID}); err != nil {
			w.logger.Error("ack inbox message", "id", msg.ID, "error", err)
			return
		}
		if err := w.store.MarkProcessed(ctx, msg.ID); err != nil {
			w.logger.Error("mark inbox message processed", "id", msg.ID, "error", err)
		}
	case domain.TransientFailure:
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		if w.backoff.ExhaustedRetries(msg.RetryCount) {
			if err := w.queue.Fail(ctx, owner, []ids.WorkItemID{msg.ID}, errMsg); err != nil {
				w.logger.Error("fail inbox message", "id", msg.ID, "error", err)
			}
			w.logger.Error("inbox message exhausted retries, poisoned", "id", msg.ID, "event_type", msg.EventType, "retry_count", msg.RetryCount, "error", errMsg)
			return
		}

		delay := result.Delay
		if delay == 0 {
			delay = w.backoff.Delay(msg.RetryCount)
		}
		if err := w.queue.Abandon(ctx, owner, []ids.WorkItemID{msg.ID}, errMsg, delay); err != nil {
			w.logger.Error("abandon inbox message", "id", msg.ID, "error", err)
		}
	case domain.PermanentFailure:
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		if err := w.queue.Fail(ctx, owner, []ids.WorkItemID{msg.ID}, errMsg); err != nil {
			w.logger.Error("fail inbox message", "id", msg.ID, "error", err)
		}
	}
}
