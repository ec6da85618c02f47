// Package auth verifies signed gateway requests against a hot-reloaded key table.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Request headers carrying the signature.
const (
	HeaderKey       = "X-API-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// DefaultReplayWindow is the accepted clock skew.
const DefaultReplayWindow = 300 * time.Second

// KeyLookup finds a credential by key identifier.
type KeyLookup interface {
	Lookup(keyID string) (Credential, bool)
}

// Verifier checks HMAC-SHA256(secret, key_id || timestamp) signatures.
type Verifier struct {
	keys   KeyLookup
	window time.Duration
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithReplayWindow sets the accepted clock skew.
func WithReplayWindow(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.window = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier creates a verifier over keys.
func NewVerifier(keys KeyLookup, opts ...VerifierOption) *Verifier {
	v := &Verifier{keys: keys, window: DefaultReplayWindow, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the three header values and returns the caller's credential.
func (v *Verifier) Verify(keyID, timestamp, signature string) (Credential, error) {
	keyID, timestamp, signature = strings.TrimSpace(keyID), strings.TrimSpace(timestamp), strings.TrimSpace(signature)
	if keyID == "" || timestamp == "" || signature == "" {
		return Credential{}, ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %q", ErrStaleTimestamp, timestamp)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.window {
		return Credential{}, fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew.Truncate(time.Second))
	}

	cred, ok := v.keys.Lookup(keyID)
	if !ok {
		return Credential{}, ErrUnknownKey
	}

	expected := Signature(cred.Secret, keyID, timestamp)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return Credential{}, ErrBadSignature
	}
	return cred, nil
}

// VerifyRequest reads the signature headers from r.
func (v *Verifier) VerifyRequest(r *http.Request) (Credential, error) {
	return v.Verify(r.Header.Get(HeaderKey), r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature))
}

// Signature returns the hex HMAC-SHA256 of keyID || timestamp under secret.
func Signature(secret, keyID, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(keyID + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign sets the signature headers on r for the given instant.
func Sign(r *http.Request, keyID, secret string, at time.Time) {
	ts := strconv.FormatInt(at.Unix(), 10)
	r.Header.Set(HeaderKey, keyID)
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, Signature(secret, keyID, ts))
}
