package inbox

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// Classifier inspects an authenticated envelope and decides whether the
// inbox should accept, ignore, or reject it, and what dedupe key and event
// type it carries if accepted (spec §4.3).
type Classifier interface {
	Classify(env *domain.WebhookEnvelope, body []byte) ClassifyResult
}

// ClassifyResult is the classifier's verdict plus the derived fields
// needed to upsert the inbox row.
type ClassifyResult struct {
	Decision  domain.IngestDecision
	EventType string
	MessageID string // provider event id if present, else derived
	Reason    string // set when Decision != Accepted, for logging/audit
}

// HashPayload is the weak fallback dedupe key (spec §9) used when a
// provider does not supply a stable event id: the hash of (provider,
// body), so two distinct providers emitting byte-identical payloads never
// collide (Open Question decision, see DESIGN.md).
func HashPayload(provider string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0}) // separator so "ab"+"c" != "a"+"bc"
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// EventTypeExtractor pulls a provider-specific event-type discriminator
// out of a decoded body, e.g. a JSON "type" field.
type EventTypeExtractor func(body []byte) (eventType string, providerEventID string, ok bool)

// GenericClassifier accepts everything an EventTypeExtractor recognizes,
// ignores anything on a configured ignore-list, and rejects everything
// else. It is the default wired for providers without bespoke rules.
type GenericClassifier struct {
	Provider  string
	Extract   EventTypeExtractor
	IgnoreSet map[string]bool
}

func NewGenericClassifier(provider string, extract EventTypeExtractor, ignore ...string) *GenericClassifier {
	set := make(map[string]bool, len(ignore))
	for _, t := range ignore {
		set[t] = true
	}
	return &GenericClassifier{Provider: provider, Extract: extract, IgnoreSet: set}
}

func (c *GenericClassifier) Classify(env *domain.WebhookEnvelope, body []byte) ClassifyResult {
	eventType, providerEventID, ok := c.Extract(body)
	if !ok {
		return ClassifyResult{Decision: domain.Rejected, Reason: "could not extract event type"}
	}
	if c.IgnoreSet[eventType] {
		return ClassifyResult{Decision: domain.Ignored, EventType: eventType, Reason: "event type is on the ignore list"}
	}

	messageID := providerEventID
	if messageID == "" {
		messageID = HashPayload(c.Provider, body)
	}
	return ClassifyResult{Decision: domain.Accepted, EventType: eventType, MessageID: messageID}
}
