package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/presensi-qr/internal/config"
)

// gcraScript is a generic cell rate limiter.  The key holds the
// theoretical arrival time (TAT) in unix milliseconds: the instant the
// caller's budget would be fully restored.  A request at now passes when
// now >= TAT - burst*every + every, and then moves the TAT forward by
// every.  It returns {allowed, remaining, retry_after_ms}.
var gcraScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local every = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local tat = now
local stored = redis.call('GET', KEYS[1])
if stored then
	tat = math.max(tonumber(stored), now)
end

local window = burst * every
local earliest = tat + every - window
if now < earliest then
	return {0, 0, earliest - now}
end

tat = tat + every
redis.call('SET', KEYS[1], tat, 'PX', tat - now)
return {1, math.floor((now - (tat - window)) / every), 0}
`)

// verdict is one limiter decision.
type verdict struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

func check(ctx context.Context, rdb *redis.Client, cfg config.RateLimitConfig, key string, now time.Time) (verdict, error) {
	out, err := gcraScript.Run(ctx, rdb, []string{key},
		now.UnixMilli(), cfg.Every.Milliseconds(), cfg.Burst).Int64Slice()
	if err != nil {
		return verdict{}, err
	}
	if len(out) != 3 {
		return verdict{}, fmt.Errorf("gcra: got %d values, want 3", len(out))
	}
	return verdict{
		allowed:   out[0] == 1,
		remaining: out[1],
		retry:     time.Duration(out[2]) * time.Millisecond,
	}, nil
}

// NewRateLimiter throttles API calls per caller: cfg.Burst requests at
// once, then one per cfg.Every.  Paths in cfg.ExemptPaths are never
// counted.  Without Redis, or when the script fails, requests pass through.
func NewRateLimiter(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	limit := strconv.Itoa(cfg.Burst)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.ExemptPaths[c.Request().URL.Path] {
				return next(c)
			}
			key := buildRateKey(cfg, c)
			v, err := check(c.Request().Context(), rdb, cfg, key, time.Now())
			if err != nil {
				if cfg.Debug {
					c.Logger().Warnf("ratelimit: key=%s: %v", key, err)
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))
			if v.allowed {
				return next(c)
			}

			wait := max(int64(math.Ceil(v.retry.Seconds())), 1)
			h.Set("Retry-After", strconv.FormatInt(wait, 10))
			if cfg.Debug {
				c.Logger().Infof("ratelimit: block key=%s retry=%s", key, v.retry)
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":   "RATE_LIMITED",
				"message": fmt.Sprintf("too many requests, retry in %ds", wait),
			})
		}
	}
}

// buildRateKey scopes a bucket by the configured strategy: ip, user,
// ip_user, or (default) ip_user_route.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", rateSubject(c))
	case "ip_user":
		parts = append(parts, "ip", ip, "user", rateSubject(c))
	default:
		parts = append(parts, "ip", ip, "user", rateSubject(c), "route", c.Request().Method+" "+c.Path())
	}
	return strings.Join(parts, ":")
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
