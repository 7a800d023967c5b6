package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory keeps the last accepted timestamp per key in process memory.  It is
// only correct when a single server instance issues tokens.
type Memory struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemory returns an in-process limiter.  A non-positive interval falls
// back to DefaultInterval.
func NewMemory(interval time.Duration) *Memory {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Memory{interval: interval, last: make(map[string]time.Time)}
}

func (m *Memory) Allow(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.last[key]; ok && now.Sub(prev) < m.interval {
		return ErrRateLimited
	}
	m.last[key] = now
	return nil
}

// Prune drops keys whose last request is at least one interval older than
// now and returns how many were removed.  Pruned keys behave exactly like
// keys never seen before.
func (m *Memory) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, t := range m.last {
		if now.Sub(t) >= m.interval {
			delete(m.last, k)
			n++
		}
	}
	return n
}

// Len reports the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}
