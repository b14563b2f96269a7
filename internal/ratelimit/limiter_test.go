package ratelimit

import (
	"testing"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
)

func TestLocalLimiterConsume(t *testing.T) {
	l := NewLocalLimiter()
	now := time.Unix(1700000000, 0)
	l.SetClock(func() time.Time { return now })
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
	if got := l.Usage("sub-1"); got != 3 {
		t.Errorf("Usage() = %d, want 3 (rejected consume must not count)", got)
	}
}

func TestLocalLimiterAllowDoesNotConsume(t *testing.T) {
	l := NewLocalLimiter()
	limit := hook.RateLimit{Window: time.Minute, MaxRequests: 1}

	for i := 0; i < 5; i++ {
		if !l.Allow("sub-1", limit) {
			t.Fatalf("Allow() #%d = false; checks must not consume budget", i+1)
		}
	}
	if got := l.Usage("sub-1"); got != 0 {
		t.Errorf("Usage() after Allow-only calls = %d, want 0", got)
	}
}

func TestLocalLimiterWindowRollover(t *testing.T) {
	l := NewLocalLimiter()
	now := time.Unix(1700000000, 0)
	l.SetClock(func() time.Time { return now })
	limit := hook.RateLimit{Window: time.Minute, MaxRequests: 2}

	if !l.Consume("sub-1", limit) || !l.Consume("sub-1", limit) {
		t.Fatal("initial window consumes failed")
	}
	if l.Consume("sub-1", limit) {
		t.Fatal("Consume() over limit = true, want false")
	}

	now = now.Add(61 * time.Second)
	if !l.Allow("sub-1", limit) {
		t.Error("Allow() after window elapsed = false, want true")
	}
	if !l.Consume("sub-1", limit) {
		t.Error("Consume() after window elapsed = false, want true")
	}
	if got := l.Usage("sub-1"); got != 1 {
		t.Errorf("Usage() in fresh window = %d, want 1", got)
	}
}

func TestLocalLimiterIndependentIDs(t *testing.T) {
	l := NewLocalLimiter()
	limit := hook.RateLimit{Window: time.Minute, MaxRequests: 1}

	if !l.Consume("sub-1", limit) {
		t.Fatal("first consume for sub-1 failed")
	}
	if !l.Consume("sub-2", limit) {
		t.Error("sub-2 budget affected by sub-1 consumption")
	}
}

func TestLocalLimiterZeroLimitDisables(t *testing.T) {
	l := NewLocalLimiter()
	limit := hook.RateLimit{}

	for i := 0; i < 100; i++ {
		if !l.Consume("sub-1", limit) {
			t.Fatal("zero-valued limit should admit everything")
		}
	}
}
