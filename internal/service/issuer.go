package service

import (
	"context"
	"time"

	"github.com/iliyamo/presensi-qr/internal/qrtoken"
	"github.com/iliyamo/presensi-qr/internal/ratelimit"
)

// IssuedToken is a QR payload and how long a checkpoint will accept it.
type IssuedToken struct {
	Token     string        `json:"qr"`
	ExpiresIn time.Duration `json:"-"`
}

// ExpiresInMs is the validity in milliseconds as shown to clients.
func (t IssuedToken) ExpiresInMs() int64 { return t.ExpiresIn.Milliseconds() }

// Issuer hands out QR tokens, throttled per user.
type Issuer struct {
	codec   *qrtoken.Codec
	limiter ratelimit.Limiter
	now     func() time.Time
}

func NewIssuer(codec *qrtoken.Codec, limiter ratelimit.Limiter) *Issuer {
	return &Issuer{codec: codec, limiter: limiter, now: time.Now}
}

func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue returns a fresh token for userID, or ratelimit.ErrRateLimited when
// the previous one was issued less than the limiter interval ago.  A token
// that cannot be encoded is not counted against the user.
func (i *Issuer) Issue(ctx context.Context, userID string) (IssuedToken, error) {
	tok, ttl, err := i.codec.Encode(userID)
	if err != nil {
		return IssuedToken{}, err
	}
	if err := i.limiter.Allow(ctx, userID, i.now()); err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: tok, ExpiresIn: ttl}, nil
}
