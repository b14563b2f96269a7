package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/tidehook/tidehook/internal/hook"
)

func newRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(srv.Close)

	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedisLimiter(rdb, "test:ratelimit:")
	now := time.Unix(1700000000, 0)
	l.SetClock(func() time.Time { return now })
	return l, srv
}

func TestRedisLimiterConsume(t *testing.T) {
	l, _ := newRedisLimiter(t)
	limit := hook.RateLimit{Window: time.Minute, MaxRequests: 3}

	for i := 0; i < 3; i++ {
		if !l.Allow("sub-1", limit) {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
		if !l.Consume("sub-1", limit) {
			t.Fatalf("Consume() #%d = false, want true", i+1)
		}
	}

	if l.Allow("sub-1", limit) {
		t.Error("Allow() after window exhausted = true, want false")
	}
	if l.Consume("sub-1", limit) {
		t.Error("Consume() after window exhausted = true, want false")
	}
	if got := l.UsageFor("sub-1", limit); got != 3 {
		t.Errorf("UsageFor() = %d, want 3 (rejected consume must undo its claim)", got)
	}
}

func TestRedisLimiterWindowRollover(t *testing.T) {
	l, _ := newRedisLimiter(t)
	now := time.Unix(1700000000, 0)
	l.SetClock(func() time.Time { return now })
	limit := hook.RateLimit{Window: time.Minute, MaxRequests: 1}

	if !l.Consume("sub-1", limit) {
		t.Fatal("first consume failed")
	}
	if l.Consume("sub-1", limit) {
		t.Fatal("Consume() over limit = true, want false")
	}

	// A later clock lands in a new bucket with a fresh budget.
	now = now.Add(2 * time.Minute)
	if !l.Consume("sub-1", limit) {
		t.Error("Consume() in new window = false, want true")
	}
}

func TestRedisLimiterIndependentIDs(t *testing.T) {
	l, _ := newRedisLimiter(t)
	limit := hook.RateLimit{Window: time.Minute, MaxRequests: 1}

	if !l.Consume("sub-1", limit) {
		t.Fatal("first consume for sub-1 failed")
	}
	if !l.Consume("sub-2", limit) {
		t.Error("sub-2 budget affected by sub-1 consumption")
	}
}

func TestRedisLimiterFailOpen(t *testing.T) {
	l, srv := newRedisLimiter(t)
	limit := hook.RateLimit{Window: time.Minute, MaxRequests: 1}

	srv.Close()

	// A dead Redis must not stall deliveries.
	if !l.Allow("sub-1", limit) {
		t.Error("Allow() with dead redis = false, want true")
	}
	if !l.Consume("sub-1", limit) {
		t.Error("Consume() with dead redis = false, want true")
	}
}
