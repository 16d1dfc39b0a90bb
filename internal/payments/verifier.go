package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Header names carried by gateway and internal callers.
const (
	SignatureHeader = "X-Webhook-Signature"
	APIKeyHeader    = "X-API-Key"
)

// Verifier authenticates the source of a payment event before anything
// about the event is looked up.
type Verifier interface {
	Authenticate(event *Event) bool
}

// HMACVerifier checks a hex HMAC-SHA256 of the raw body.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Authenticate(event *Event) bool {
	if v == nil || len(v.secret) == 0 || event == nil || len(event.Payload) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(event.Signature))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(v.secret, event.Payload))
}

// Sign returns the HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// SharedSecretVerifier compares the API key header to a configured secret.
type SharedSecretVerifier struct {
	secret []byte
}

func NewSharedSecretVerifier(secret string) *SharedSecretVerifier {
	return &SharedSecretVerifier{secret: []byte(secret)}
}

func (v *SharedSecretVerifier) Authenticate(event *Event) bool {
	if v == nil || len(v.secret) == 0 || event == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(event.APIKey), v.secret) == 1
}
