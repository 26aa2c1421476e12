package domain

import (
	"errors"
	"time"
)

var (
	ErrInboxMessageNotFound = errors.New("inbox message not found")
)

// InboxMessage is a work-item row plus the fields specific to inbound
// dedupe-tracked events (spec §3). (Source, MessageID) is the dedupe key;
// Hash is the weak fallback discussed in spec §9.
type InboxMessage struct {
	WorkItem
	Source       string
	MessageID    string
	Hash         string
	EventType    string
	Payload      []byte
	FirstSeenUtc time.Time
	LastSeenUtc  time.Time
	ProcessedUtc *time.Time
	Attempts     int
}

// IngestDecision is the classifier's verdict on an inbound event.
type IngestDecision int

const (
	Accepted IngestDecision = iota
	Ignored
	Rejected
)

func (d IngestDecision) String() string {
	switch d {
	case Accepted:
		return "Accepted"
	case Ignored:
		return "Ignored"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// RejectionRetentionPolicy controls what, if anything, an ingestor
// persists about a rejected event. This configures the ingestor, not the
// inbox table (spec §4.3).
type RejectionRetentionPolicy int

const (
	RejectNothing RejectionRetentionPolicy = iota
	RejectFullEnvelope
	RejectHeadersOnly
)

// WebhookEnvelope is the stable wire shape for inbound webhook deliveries
// (spec §6).
type WebhookEnvelope struct {
	Provider        string            `json:"provider"`
	ReceivedAt      time.Time         `json:"receivedAt"`
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	Query           string            `json:"query"`
	Headers         map[string]string `json:"headers"`
	ContentType     string            `json:"contentType"`
	BodyBytesBase64 string            `json:"bodyBytesBase64"`
}

// WebhookEventRecord is the classified, decoded form of an accepted
// WebhookEnvelope (spec §6).
type WebhookEventRecord struct {
	Provider        string            `json:"provider"`
	DedupeKey       string            `json:"dedupeKey"`
	ProviderEventID string            `json:"providerEventId,omitempty"`
	EventType       string            `json:"eventType"`
	Headers         map[string]string `json:"headers"`
	Body            []byte            `json:"body"`
	ContentType     string            `json:"contentType"`
	ReceivedAt      time.Time         `json:"receivedAt"`
}
