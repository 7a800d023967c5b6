package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig configures the HTTP request limiter in front of the API.
// It is separate from the per-user QR issuance interval in QRConfig.  A
// caller may send Burst requests back to back and then one more per Every.
type RateLimitConfig struct {
	Enabled     bool
	Burst       int
	Every       time.Duration
	KeyStrategy string // ip, user, ip_user, ip_user_route
	Prefix      string
	ExemptPaths map[string]bool // request paths never throttled
	Debug       bool
}

func LoadRateLimitConfig() RateLimitConfig {
	every := envDur("RATE_LIMIT_EVERY", time.Second)
	if every <= 0 {
		every = time.Second
	}
	return RateLimitConfig{
		Enabled:     envBool("RATE_LIMIT_ENABLED", true),
		Burst:       max(envInt("RATE_LIMIT_BURST", 60), 1),
		Every:       every,
		KeyStrategy: envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:      envStr("RATE_LIMIT_PREFIX", "rl"),
		ExemptPaths: parseSet(envStr("RATE_LIMIT_EXEMPT_PATHS", "/healthz,/readyz"), false),
		Debug:       envBool("RATE_LIMIT_DEBUG", false),
	}
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
