package handler

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/werrors"
	"github.com/gin-gonic/gin"
)

// Ingestor is the subset of inbox.Ingestor the webhook handler needs,
// defined at point of use to avoid importing internal/inbox's full
// dependency surface (Authenticator, Classifier, Store) into this package.
type Ingestor interface {
	Ingest(ctx context.Context, env *domain.WebhookEnvelope, body []byte) (domain.IngestDecision, *domain.InboxMessage, error)
}

// WebhookHandler is the fast-path HTTP entrypoint for inbound deliveries
// (spec §4.3/§6): one Ingestor per provider, keyed by the path's
// :provider segment.
type WebhookHandler struct {
	ingestors map[string]Ingestor
	logger    *slog.Logger
}

func NewWebhookHandler(ingestors map[string]Ingestor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{ingestors: ingestors, logger: logger.With("component", "webhook_handler")}
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")
	ingestor, ok := h.ingestors[provider]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown webhook provider"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	env := &domain.WebhookEnvelope{
		Provider:        provider,
		ReceivedAt:      time.Now().UTC(),
		Method:          c.Request.Method,
		Path:            c.Request.URL.Path,
		Query:           c.Request.URL.RawQuery,
		Headers:         headers,
		ContentType:     c.ContentType(),
		BodyBytesBase64: base64.StdEncoding.EncodeToString(body),
	}

	decision, _, err := ingestor.Ingest(c.Request.Context(), env, body)
	if err != nil {
		if kind := werrors.KindOf(err); kind == werrors.KindInvalidInput || kind == werrors.KindAuthRejected {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "ingest webhook delivery", "provider", provider, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	switch decision {
	case domain.Accepted:
		c.JSON(http.StatusAccepted, gin.H{"decision": decision.String()})
	case domain.Ignored:
		c.JSON(http.StatusOK, gin.H{"decision": decision.String()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"decision": decision.String()})
	}
}
