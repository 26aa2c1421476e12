package inbox_test

import (
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/inbox"
)

func extractType(body []byte) (string, string, bool) {
	s := string(body)
	switch s {
	case "no-type":
		return "", "", false
	case "ping":
		return "ping", "evt-1", true
	case "order.created":
		return "order.created", "evt-2", true
	case "no-id":
		return "order.created", "", true
	}
	return "", "", false
}

func TestGenericClassifier_NoExtractableType_Rejected(t *testing.T) {
	c := inbox.NewGenericClassifier("test", extractType)
	result := c.Classify(&domain.WebhookEnvelope{}, []byte("no-type"))
	if result.Decision != domain.Rejected {
		t.Fatalf("Decision = %v, want Rejected", result.Decision)
	}
}

func TestGenericClassifier_IgnoreListedType_Ignored(t *testing.T) {
	c := inbox.NewGenericClassifier("test", extractType, "ping")
	result := c.Classify(&domain.WebhookEnvelope{}, []byte("ping"))
	if result.Decision != domain.Ignored {
		t.Fatalf("Decision = %v, want Ignored", result.Decision)
	}
	if result.EventType != "ping" {
		t.Errorf("EventType = %q, want ping", result.EventType)
	}
}

func TestGenericClassifier_Accepted_UsesProviderEventID(t *testing.T) {
	c := inbox.NewGenericClassifier("test", extractType)
	result := c.Classify(&domain.WebhookEnvelope{}, []byte("order.created"))
	if result.Decision != domain.Accepted {
		t.Fatalf("Decision = %v, want Accepted", result.Decision)
	}
	if result.MessageID != "evt-2" {
		t.Errorf("MessageID = %q, want evt-2", result.MessageID)
	}
}

// TestGenericClassifier_Accepted_NoProviderEventID_FallsBackToHash covers
// the Open Question decision that the dedupe hash includes the provider
// name, so two providers emitting byte-identical bodies never collide.
func TestGenericClassifier_Accepted_NoProviderEventID_FallsBackToHash(t *testing.T) {
	c1 := inbox.NewGenericClassifier("provider-a", extractType)
	c2 := inbox.NewGenericClassifier("provider-b", extractType)

	r1 := c1.Classify(&domain.WebhookEnvelope{}, []byte("no-id"))
	r2 := c2.Classify(&domain.WebhookEnvelope{}, []byte("no-id"))

	if r1.MessageID == "" || r2.MessageID == "" {
		t.Fatal("expected a derived message id for both")
	}
	if r1.MessageID == r2.MessageID {
		t.Fatal("different providers hashing the same body must not collide on message id")
	}
}

func TestHashPayload_SameProviderSameBody_Stable(t *testing.T) {
	a := inbox.HashPayload("p", []byte("body"))
	b := inbox.HashPayload("p", []byte("body"))
	if a != b {
		t.Fatal("hashing the same (provider, body) twice must be stable")
	}
}

func TestHashPayload_ConcatenationAmbiguity_Distinguished(t *testing.T) {
	// "ab" + "c" vs "a" + "bc": without a separator these would collide.
	a := inbox.HashPayload("ab", []byte("c"))
	b := inbox.HashPayload("a", []byte("bc"))
	if a == b {
		t.Fatal("HashPayload must not let provider/body concatenation collide across boundaries")
	}
}
