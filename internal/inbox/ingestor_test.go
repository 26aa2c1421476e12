package inbox_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/inbox"
)

type fakeAuthenticator struct{ err error }

func (a fakeAuthenticator) Verify(map[string]string, []byte) error { return a.err }

type fakeClassifier struct{ result inbox.ClassifyResult }

func (c fakeClassifier) Classify(*domain.WebhookEnvelope, []byte) inbox.ClassifyResult {
	return c.result
}

// fakeInboxStore mimics the (source, message_id) upsert dedupe semantics
// of InboxRepository.Upsert without a database (property #10).
type fakeInboxStore struct {
	rows map[string]*domain.InboxMessage
}

func newFakeInboxStore() *fakeInboxStore {
	return &fakeInboxStore{rows: make(map[string]*domain.InboxMessage)}
}

func (s *fakeInboxStore) Upsert(_ context.Context, source, messageID, hash, eventType string, payload []byte) (*domain.InboxMessage, bool, error) {
	key := source + "|" + messageID
	if existing, ok := s.rows[key]; ok {
		existing.LastSeenUtc = existing.LastSeenUtc.Add(1) // stand-in for NOW() advancing
		return existing, false, nil
	}
	msg := &domain.InboxMessage{Source: source, MessageID: messageID, Hash: hash, EventType: eventType, Payload: payload}
	s.rows[key] = msg
	return msg, true, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestIngest_AuthFailure_Rejected(t *testing.T) {
	store := newFakeInboxStore()
	i := inbox.NewIngestor("test", fakeAuthenticator{err: errors.New("bad sig")}, fakeClassifier{}, store, testLogger())

	decision, msg, err := i.Ingest(context.Background(), &domain.WebhookEnvelope{}, []byte("body"))
	if decision != domain.Rejected {
		t.Fatalf("decision = %v, want Rejected", decision)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
	if msg != nil {
		t.Fatal("expected no inbox row for a rejected auth")
	}
	if len(store.rows) != 0 {
		t.Fatal("auth failure must not reach the store")
	}
}

func TestIngest_ClassifierIgnored_NoRowCreated(t *testing.T) {
	store := newFakeInboxStore()
	class := fakeClassifier{result: inbox.ClassifyResult{Decision: domain.Ignored}}
	i := inbox.NewIngestor("test", fakeAuthenticator{}, class, store, testLogger())

	decision, msg, err := i.Ingest(context.Background(), &domain.WebhookEnvelope{}, []byte("body"))
	if decision != domain.Ignored || err != nil || msg != nil {
		t.Fatalf("got (%v, %v, %v), want (Ignored, nil, nil)", decision, msg, err)
	}
	if len(store.rows) != 0 {
		t.Fatal("ignored events must not reach the store")
	}
}

func TestIngest_ClassifierRejected_NoRowCreated(t *testing.T) {
	store := newFakeInboxStore()
	class := fakeClassifier{result: inbox.ClassifyResult{Decision: domain.Rejected, Reason: "malformed"}}
	i := inbox.NewIngestor("test", fakeAuthenticator{}, class, store, testLogger())

	decision, _, err := i.Ingest(context.Background(), &domain.WebhookEnvelope{}, []byte("body"))
	if decision != domain.Rejected || err == nil {
		t.Fatalf("decision=%v err=%v, want Rejected with an error", decision, err)
	}
}

// TestIngest_SameMessageTwice_OneRowAndUpdatedLastSeen is testable
// property #10 plus end-to-end scenario S7: ingesting the same
// (Source, MessageId) twice yields exactly one inbox row and advances
// LastSeenUtc, while the fast-ack decision (Accepted) is unchanged.
func TestIngest_SameMessageTwice_OneRowAndUpdatedLastSeen(t *testing.T) {
	store := newFakeInboxStore()
	class := fakeClassifier{result: inbox.ClassifyResult{Decision: domain.Accepted, EventType: "order.created", MessageID: "evt-1"}}
	i := inbox.NewIngestor("test", fakeAuthenticator{}, class, store, testLogger())

	decision1, msg1, err := i.Ingest(context.Background(), &domain.WebhookEnvelope{}, []byte("body"))
	if err != nil || decision1 != domain.Accepted {
		t.Fatalf("first ingest: decision=%v err=%v", decision1, err)
	}
	firstLastSeen := msg1.LastSeenUtc

	decision2, msg2, err := i.Ingest(context.Background(), &domain.WebhookEnvelope{}, []byte("body"))
	if err != nil || decision2 != domain.Accepted {
		t.Fatalf("second ingest: decision=%v err=%v", decision2, err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("row count = %d, want 1", len(store.rows))
	}
	if msg1 != msg2 {
		t.Fatal("second ingest must return the same underlying row as the first")
	}
	if !msg2.LastSeenUtc.After(firstLastSeen) {
		t.Fatal("LastSeenUtc should have advanced on the duplicate delivery")
	}
}
