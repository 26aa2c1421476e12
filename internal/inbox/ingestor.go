package inbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/werrors"
)

// Store is the subset of InboxRepository the ingestor needs.
type Store interface {
	Upsert(ctx context.Context, source, messageID, hash, eventType string, payload []byte) (*domain.InboxMessage, bool, error)
}

// Ingestor is the fast path invoked directly from the webhook HTTP
// handler: authenticate, classify, dedupe-upsert, return quickly. Handler
// execution happens later, off the request path, in Worker (spec §4.3).
type Ingestor struct {
	source string
	auth   Authenticator
	class  Classifier
	store  Store
	logger *slog.Logger
}

func NewIngestor(source string, auth Authenticator, class Classifier, store Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		source: source,
		auth:   auth,
		class:  class,
		store:  store,
		logger: logger.With("component", "inbox.ingestor", "source", source),
	}
}

// Ingest runs the fast path for one delivery and returns the outcome a
// caller uses to pick an HTTP status: Accepted/Ignored map to 2xx,
// Rejected to 4xx, and a returned error (auth failure, store failure) also
// maps to 4xx/5xx depending on werrors.KindOf.
func (i *Ingestor) Ingest(ctx context.Context, env *domain.WebhookEnvelope, body []byte) (domain.IngestDecision, *domain.InboxMessage, error) {
	if err := i.auth.Verify(env.Headers, body); err != nil {
		i.logger.WarnContext(ctx, "inbound delivery failed authentication", "error", err)
		metrics.InboxIngestedTotal.WithLabelValues(i.source, "rejected_auth").Inc()
		return domain.Rejected, nil, err
	}

	result := i.class.Classify(env, body)
	switch result.Decision {
	case domain.Rejected:
		metrics.InboxIngestedTotal.WithLabelValues(i.source, "rejected").Inc()
		i.logger.InfoContext(ctx, "inbound delivery rejected", "reason", result.Reason)
		return domain.Rejected, nil, werrors.Invalid(fmt.Errorf("rejected: %s", result.Reason))
	case domain.Ignored:
		metrics.InboxIngestedTotal.WithLabelValues(i.source, "ignored").Inc()
		return domain.Ignored, nil, nil
	}

	hash := HashPayload(i.source, body)
	msg, inserted, err := i.store.Upsert(ctx, i.source, result.MessageID, hash, result.EventType, body)
	if err != nil {
		metrics.InboxIngestedTotal.WithLabelValues(i.source, "error").Inc()
		return domain.Rejected, nil, werrors.Transient(fmt.Errorf("upsert inbox message: %w", err))
	}

	if inserted {
		metrics.InboxIngestedTotal.WithLabelValues(i.source, "accepted").Inc()
	} else {
		metrics.InboxIngestedTotal.WithLabelValues(i.source, "duplicate").Inc()
	}
	return domain.Accepted, msg, nil
}
