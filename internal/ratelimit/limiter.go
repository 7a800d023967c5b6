// Package ratelimit throttles QR issuance per key.  A request is rejected
// when less than the configured interval has passed since the last accepted
// request for the same key.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned by Allow when the key is still cooling down.
var ErrRateLimited = errors.New("rate limited")

// DefaultInterval is the minimum gap between two accepted requests.
const DefaultInterval = 10 * time.Second

// Limiter decides whether a request keyed by key may proceed at now.
// Accepted requests record now as the key's last timestamp.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) error
}
