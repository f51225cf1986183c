package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type memEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one x/time/rate bucket per key in process memory.
// Idle keys are dropped after ttl by a background sweeper.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memEntry
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewMemoryLimiter(ttl, cleanupEvery time.Duration) *MemoryLimiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	ml := &MemoryLimiter{
		buckets: make(map[string]*memEntry),
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go ml.sweep(cleanupEvery)
	return ml
}

func (m *MemoryLimiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.evictIdle()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryLimiter) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.buckets {
		if now.Sub(e.lastSeen) > m.ttl {
			delete(m.buckets, k)
		}
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, rule Rule) (Decision, error) {
	now := m.now()
	burst := int(math.Ceil(rule.Burst))

	m.mu.Lock()
	e := m.buckets[key]
	if e == nil || e.lim.Limit() != rate.Limit(rule.RPS) || e.lim.Burst() != burst {
		e = &memEntry{lim: rate.NewLimiter(rate.Limit(rule.RPS), burst)}
		m.buckets[key] = e
	}
	e.lastSeen = now
	lim := e.lim
	m.mu.Unlock()

	cost := rule.cost()
	allowed := lim.AllowN(now, int(math.Ceil(cost)))
	remaining := math.Max(0, lim.TokensAt(now))

	dec := Decision{
		Allowed:   allowed,
		Remaining: remaining,
		LimitRPS:  rule.RPS,
		Burst:     rule.Burst,
	}
	if !allowed {
		dec.RetryAfterSeconds = retryAfter(cost-remaining, rule.RPS)
	}
	return dec, nil
}

func (m *MemoryLimiter) Backend() string { return "memory" }

func (m *MemoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}
