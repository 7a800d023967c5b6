// Package qrtoken signs and verifies the QR payloads shown by employees and
// read by the security checkpoint.  A token binds a user id to the instant
// it was issued:
//
//	{userID}|{issuedAt ISO-8601}|{hex HMAC-SHA-256}
//
// The codec never records consumed tokens; replay inside the validity
// window is bounded only by the freshness check.
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrMalformedToken is returned when a token cannot be split into its
	// three fields or a field is empty or unparseable.
	ErrMalformedToken = errors.New("qr token malformed")
	// ErrInvalidSignature is returned when the signature does not match the
	// user id and issue time.
	ErrInvalidSignature = errors.New("qr token signature invalid")
	// ErrExpired is returned when the token was issued too far from now, in
	// either direction.
	ErrExpired = errors.New("qr token expired")
	// ErrNoSecret is returned when no signing secret is configured.
	ErrNoSecret = errors.New("qr signing secret not configured")
)

const (
	separator = "|"
	// issuedAtLayout matches the millisecond ISO-8601 form clients already
	// produce (e.g. 2026-10-16T00:00:00.000Z).
	issuedAtLayout = "2006-01-02T15:04:05.000Z07:00"

	// DefaultValidity is the freshness window enforced at scan time.
	DefaultValidity = 60 * time.Second
)

// Codec encodes and decodes QR tokens with a shared secret.
type Codec struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// New returns a Codec.  An empty secret yields ErrNoSecret so a missing
// configuration is caught before traffic is accepted.  A non-positive
// validity falls back to DefaultValidity.
func New(secret string, validity time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Codec{secret: []byte(secret), validity: validity, now: time.Now}, nil
}

// WithClock replaces the clock used by Encode.  It returns the codec for
// chaining in tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Sign computes the hex signature for a user id and the raw issuedAt string.
func (c *Codec) Sign(userID, issuedAt string) (string, error) {
	if c == nil || len(c.secret) == 0 {
		return "", ErrNoSecret
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(userID + separator + issuedAt))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Encode issues a token for userID at the current instant.  The returned
// ttl is informational for clients; Decode callers enforce freshness.
func (c *Codec) Encode(userID string) (token string, ttl time.Duration, err error) {
	if userID == "" || strings.Contains(userID, separator) {
		return "", 0, ErrMalformedToken
	}
	issuedAt := c.now().UTC().Format(issuedAtLayout)
	sig, err := c.Sign(userID, issuedAt)
	if err != nil {
		return "", 0, err
	}
	return userID + separator + issuedAt + separator + sig, c.validity, nil
}

// Decode verifies the token and returns the user id and issue instant.
// Freshness is not checked here; see CheckFreshness.
func (c *Codec) Decode(token string) (userID string, issuedAt time.Time, err error) {
	parts := strings.Split(token, separator)
	if len(parts) != 3 {
		return "", time.Time{}, ErrMalformedToken
	}
	userID, rawIssued, sig := parts[0], parts[1], parts[2]
	if userID == "" || sig == "" {
		return "", time.Time{}, ErrMalformedToken
	}
	issuedAt, err = time.Parse(time.RFC3339Nano, rawIssued)
	if err != nil {
		return "", time.Time{}, ErrMalformedToken
	}
	expected, err := c.Sign(userID, rawIssued)
	if err != nil {
		return "", time.Time{}, err
	}
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", time.Time{}, ErrInvalidSignature
	}
	return userID, issuedAt.UTC(), nil
}

// CheckFreshness rejects tokens issued more than the validity window away
// from now.  The window is symmetric to tolerate clock skew between the
// issuing and scanning devices, and inclusive at its boundary.
func (c *Codec) CheckFreshness(issuedAt, now time.Time) error {
	d := now.Sub(issuedAt)
	if d < 0 {
		d = -d
	}
	if d > c.validity {
		return ErrExpired
	}
	return nil
}
