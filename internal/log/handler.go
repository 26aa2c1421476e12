package log

import (
	"context"
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/requestid"
)

type ctxKey int

const (
	ownerTokenKey ctxKey = iota
	leaseResourceKey
)

// WithOwnerToken attaches the work-queue owner token the current
// goroutine is claiming/processing under, so every log line emitted
// while handling that claim carries it without being threaded through
// every function signature.
func WithOwnerToken(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerTokenKey, owner)
}

// WithLeaseResource attaches the name of the distributed lock resource a
// fenced write is currently guarded by (spec §4.6), e.g. "scheduler-leader"
// or "fanout:<topic>".
func WithLeaseResource(ctx context.Context, resource string) context.Context {
	return context.WithValue(ctx, leaseResourceKey, resource)
}

// ContextHandler wraps an slog.Handler and automatically extracts
// request_id, owner_token, and lease_resource from the context of each
// log record.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler returns a handler that enriches every record with
// context values (request_id, owner_token, lease_resource) before
// delegating to inner.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if owner, ok := ctx.Value(ownerTokenKey).(string); ok && owner != "" {
		r.AddAttrs(slog.String("owner_token", owner))
	}
	if resource, ok := ctx.Value(leaseResourceKey).(string); ok && resource != "" {
		r.AddAttrs(slog.String("lease_resource", resource))
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
