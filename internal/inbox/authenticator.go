// Package inbox implements the transactional-inbox ingestion path (spec
// §4.3): authenticate an inbound webhook delivery, classify it, dedupe it
// into the inbox table, and hand accepted events to a background worker
// that invokes per-event-type handlers exactly once.
package inbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/werrors"
)

// Authenticator verifies an inbound delivery's signature before it is
// trusted enough to classify or dedupe.
type Authenticator interface {
	Verify(headers map[string]string, body []byte) error
}

// HMACAuthenticator verifies a hex-encoded HMAC-SHA256 signature carried in
// a configurable header, the common shape used by GitHub/Stripe-style
// webhook providers.
type HMACAuthenticator struct {
	Secret       []byte
	HeaderName   string
	SignaturePrefix string // e.g. "sha256=" for GitHub-style headers; empty if none
}

func NewHMACAuthenticator(secret []byte, headerName, prefix string) *HMACAuthenticator {
	return &HMACAuthenticator{Secret: secret, HeaderName: headerName, SignaturePrefix: prefix}
}

func (a *HMACAuthenticator) Verify(headers map[string]string, body []byte) error {
	provided, ok := headers[a.HeaderName]
	if !ok {
		return werrors.AuthRejected(fmt.Errorf("missing signature header %q", a.HeaderName))
	}
	if a.SignaturePrefix != "" {
		if len(provided) <= len(a.SignaturePrefix) || provided[:len(a.SignaturePrefix)] != a.SignaturePrefix {
			return werrors.AuthRejected(fmt.Errorf("signature header %q missing expected prefix", a.HeaderName))
		}
		provided = provided[len(a.SignaturePrefix):]
	}

	mac := hmac.New(sha256.New, a.Secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return werrors.AuthRejected(fmt.Errorf("signature mismatch"))
	}
	return nil
}

// NoopAuthenticator accepts every delivery unconditionally — used for
// providers with no signing scheme or in local development.
type NoopAuthenticator struct{}

func (NoopAuthenticator) Verify(map[string]string, []byte) error { return nil }
