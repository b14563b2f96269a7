// Package ratelimit provides per-subscription dispatch budgets over rolling
// windows. Checking a budget never consumes it; consumption happens only
// when the attempt is actually dispatched.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
)

// Limiter gates dispatches per subscription id.
type Limiter interface {
	// Allow reports whether a dispatch would currently be admitted. It
	// does not consume a slot.
	Allow(id string, limit hook.RateLimit) bool
	// Consume atomically claims a slot, returning false (and leaving the
	// counter untouched) when the window is exhausted.
	Consume(id string, limit hook.RateLimit) bool
	// Usage returns the number of slots consumed in the current window.
	Usage(id string) int
}

const shardCount = 32

type window struct {
	start time.Time
	count int
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// LocalLimiter is the in-process implementation: a sharded window-counter
// map so concurrent subscriptions never contend on one mutex.
type LocalLimiter struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter() *LocalLimiter {
	l := &LocalLimiter{now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return l
}

// SetClock overrides the time source, for tests.
func (l *LocalLimiter) SetClock(now func() time.Time) { l.now = now }

func (l *LocalLimiter) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return l.shards[h.Sum32()%shardCount]
}

func (l *LocalLimiter) Allow(id string, limit hook.RateLimit) bool {
	if limit.MaxRequests <= 0 || limit.Window <= 0 {
		return true
	}
	s := l.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[id]
	if !ok || l.now().Sub(w.start) >= limit.Window {
		return true
	}
	return w.count < limit.MaxRequests
}

func (l *LocalLimiter) Consume(id string, limit hook.RateLimit) bool {
	if limit.MaxRequests <= 0 || limit.Window <= 0 {
		return true
	}
	s := l.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	w, ok := s.windows[id]
	if !ok || now.Sub(w.start) >= limit.Window {
		s.windows[id] = &window{start: now, count: 1}
		return true
	}
	if w.count >= limit.MaxRequests {
		return false
	}
	w.count++
	return true
}

func (l *LocalLimiter) Usage(id string) int {
	s := l.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[id]; ok {
		return w.count
	}
	return 0
}

var _ Limiter = (*LocalLimiter)(nil)
