package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T, interval time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, interval, "test"), mr
}

func TestLimiterSequence(t *testing.T) {
	base := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	steps := []struct {
		name    string
		key     string
		offset  time.Duration
		allowed bool
	}{
		{"first request", "u1", 0, true},
		{"9.999s later", "u1", 9999 * time.Millisecond, false},
		{"other key unaffected", "u2", 9999 * time.Millisecond, true},
		{"exactly one interval later", "u1", 10 * time.Second, true},
		{"rejected request does not extend window", "u1", 15 * time.Second, false},
		{"one interval after last accepted", "u1", 20 * time.Second, true},
	}

	redisLimiter, _ := newRedisLimiter(t, DefaultInterval)
	limiters := map[string]Limiter{
		"memory": NewMemory(DefaultInterval),
		"redis":  redisLimiter,
	}
	for name, l := range limiters {
		t.Run(name, func(t *testing.T) {
			for _, s := range steps {
				err := l.Allow(context.Background(), s.key, base.Add(s.offset))
				if s.allowed && err != nil {
					t.Fatalf("%s: err = %v, want nil", s.name, err)
				}
				if !s.allowed && !errors.Is(err, ErrRateLimited) {
					t.Fatalf("%s: err = %v, want ErrRateLimited", s.name, err)
				}
			}
		})
	}
}

func TestMemoryConcurrentSameKey(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Allow(context.Background(), "same", now) == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 1 {
		t.Fatalf("allowed = %d, want 1", allowed)
	}
}

func TestMemoryPrune(t *testing.T) {
	m := NewMemory(10 * time.Second)
	base := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	_ = m.Allow(context.Background(), "old", base)
	_ = m.Allow(context.Background(), "fresh", base.Add(5*time.Second))

	if n := m.Prune(base.Add(12 * time.Second)); n != 1 {
		t.Fatalf("Prune removed %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	if err := m.Allow(context.Background(), "fresh", base.Add(12*time.Second)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("fresh key after prune: err = %v, want ErrRateLimited", err)
	}
}

func TestRedisKeyExpires(t *testing.T) {
	l, mr := newRedisLimiter(t, 10*time.Second)
	if err := l.Allow(context.Background(), "u1", time.Now()); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !mr.Exists("test:u1") {
		t.Fatal("expected key test:u1 to exist")
	}
	mr.FastForward(11 * time.Second)
	if mr.Exists("test:u1") {
		t.Fatal("expected key test:u1 to expire")
	}
}

func TestRedisUnavailable(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Second)
	mr.Close()
	err := l.Allow(context.Background(), "u1", time.Now())
	if err == nil || errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want infrastructure error", err)
	}
}
