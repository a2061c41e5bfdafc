package queue

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/calliope-studio/calliope/internal/config"
)

// SignatureHeader carries the queue's delivery signature.
const SignatureHeader = "Upstash-Signature"

// ErrBadSignature reports a delivery whose signature matched neither valid
// signing key.
var ErrBadSignature = errors.New("queue signature verification failed")

// Verifier checks delivery signatures against the two concurrently valid
// signing keys. During rotation the next key becomes current and a fresh
// next key is issued, so deliveries signed shortly before the rotation still
// verify.
type Verifier struct {
	currentKey []byte
	nextKey    []byte
}

// NewVerifier creates a signature verifier. At least the current key must be
// set.
func NewVerifier(cfg config.QueueConfig) (*Verifier, error) {
	if cfg.CurrentSigningKey == "" {
		return nil, errors.New("current signing key is required")
	}
	v := &Verifier{currentKey: []byte(cfg.CurrentSigningKey)}
	if cfg.NextSigningKey != "" {
		v.nextKey = []byte(cfg.NextSigningKey)
	}
	return v, nil
}

// Verify checks signature against the raw request body. The signature is the
// base64url-encoded HMAC-SHA256 of the body; either signing key is accepted.
func (v *Verifier) Verify(body []byte, signature string) error {
	if signature == "" {
		return ErrBadSignature
	}

	sig, err := base64.RawURLEncoding.DecodeString(trimBase64Padding(signature))
	if err != nil {
		return ErrBadSignature
	}

	if verifyKey(v.currentKey, body, sig) {
		return nil
	}
	if len(v.nextKey) > 0 && verifyKey(v.nextKey, body, sig) {
		return nil
	}
	return ErrBadSignature
}

func verifyKey(key, body, sig []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	expected := mac.Sum(nil)
	return subtle.ConstantTimeCompare(expected, sig) == 1
}

// Sign computes the base64url signature for a body with the given key.
// Exported for tests and local tooling that simulate queue deliveries.
func Sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func trimBase64Padding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}
