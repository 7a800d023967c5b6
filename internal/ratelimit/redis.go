package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript compares the caller-supplied clock against the stored last
// timestamp so every instance applies the same rule as Memory.  The key
// expires after one interval, which is exactly when it stops mattering.
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local interval_ms = tonumber(ARGV[2])

	local last = tonumber(redis.call('GET', key))
	if last ~= nil and (now_ms - last) < interval_ms then
		return 0
	end

	redis.call('SET', key, now_ms, 'PX', interval_ms)
	return 1
`)

// Redis shares limiter state between server instances.
type Redis struct {
	rdb      *redis.Client
	interval time.Duration
	prefix   string
}

// NewRedis returns a Redis-backed limiter storing keys under prefix.
func NewRedis(rdb *redis.Client, interval time.Duration, prefix string) *Redis {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if prefix == "" {
		prefix = "qr-issue"
	}
	return &Redis{rdb: rdb, interval: interval, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string, now time.Time) error {
	res, err := allowScript.Run(ctx, r.rdb, []string{r.prefix + ":" + key},
		now.UnixMilli(), r.interval.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("rate limit script: %w", err)
	}
	if res == 0 {
		return ErrRateLimited
	}
	return nil
}
