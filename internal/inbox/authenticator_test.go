package inbox_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/inbox"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHMACAuthenticator_ValidSignature_Passes(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"hello":"world"}`)
	auth := inbox.NewHMACAuthenticator(secret, "X-Signature", "")

	err := auth.Verify(map[string]string{"X-Signature": sign(secret, body)}, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHMACAuthenticator_MissingHeader_Rejected(t *testing.T) {
	auth := inbox.NewHMACAuthenticator([]byte("shh"), "X-Signature", "")
	if err := auth.Verify(map[string]string{}, []byte("body")); err == nil {
		t.Fatal("expected an error for a missing signature header")
	}
}

func TestHMACAuthenticator_WrongSecret_Rejected(t *testing.T) {
	body := []byte("body")
	auth := inbox.NewHMACAuthenticator([]byte("shh"), "X-Signature", "")
	err := auth.Verify(map[string]string{"X-Signature": sign([]byte("different"), body)}, body)
	if err == nil {
		t.Fatal("expected an error for a signature computed with the wrong secret")
	}
}

func TestHMACAuthenticator_TamperedBody_Rejected(t *testing.T) {
	secret := []byte("shh")
	auth := inbox.NewHMACAuthenticator(secret, "X-Signature", "")
	sig := sign(secret, []byte("original"))
	err := auth.Verify(map[string]string{"X-Signature": sig}, []byte("tampered"))
	if err == nil {
		t.Fatal("expected an error for a body that does not match the signature")
	}
}

func TestHMACAuthenticator_PrefixedSignature(t *testing.T) {
	secret := []byte("shh")
	body := []byte("body")
	auth := inbox.NewHMACAuthenticator(secret, "X-Hub-Signature-256", "sha256=")

	err := auth.Verify(map[string]string{"X-Hub-Signature-256": "sha256=" + sign(secret, body)}, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = auth.Verify(map[string]string{"X-Hub-Signature-256": sign(secret, body)}, body)
	if err == nil {
		t.Fatal("expected an error when the required prefix is missing")
	}
}

func TestNoopAuthenticator_AlwaysPasses(t *testing.T) {
	if err := (inbox.NoopAuthenticator{}).Verify(nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
