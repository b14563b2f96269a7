package router

import (
	"testing"

	"github.com/tidehook/tidehook/internal/hook"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name  string
		sub   hook.Subscription
		event hook.Event
		want  bool
	}{
		{
			name:  "type match without filters",
			sub:   hook.Subscription{ID: "s1", Active: true, Events: []string{"user.created"}},
			event: hook.Event{Type: "user.created"},
			want:  true,
		},
		{
			name:  "type mismatch",
			sub:   hook.Subscription{ID: "s1", Active: true, Events: []string{"user.created"}},
			event: hook.Event{Type: "user.deleted"},
			want:  false,
		},
		{
			name:  "inactive subscription never matches",
			sub:   hook.Subscription{ID: "s1", Active: false, Events: []string{"user.created"}},
			event: hook.Event{Type: "user.created"},
			want:  false,
		},
		{
			name: "scalar filter equality",
			sub: hook.Subscription{
				ID: "s1", Active: true, Events: []string{"order.placed"},
				Filters: map[string]any{"region": "eu"},
			},
			event: hook.Event{Type: "order.placed", Data: map[string]any{"region": "eu"}},
			want:  true,
		},
		{
			name: "scalar filter mismatch",
			sub: hook.Subscription{
				ID: "s1", Active: true, Events: []string{"order.placed"},
				Filters: map[string]any{"region": "eu"},
			},
			event: hook.Event{Type: "order.placed", Data: map[string]any{"region": "us"}},
			want:  false,
		},
		{
			name: "missing filter key",
			sub: hook.Subscription{
				ID: "s1", Active: true, Events: []string{"order.placed"},
				Filters: map[string]any{"region": "eu"},
			},
			event: hook.Event{Type: "order.placed", Data: map[string]any{"amount": 10}},
			want:  false,
		},
		{
			name: "list filter membership",
			sub: hook.Subscription{
				ID: "s1", Active: true, Events: []string{"order.placed"},
				Filters: map[string]any{"region": []any{"eu", "us"}},
			},
			event: hook.Event{Type: "order.placed", Data: map[string]any{"region": "us"}},
			want:  true,
		},
		{
			name: "list filter non-member",
			sub: hook.Subscription{
				ID: "s1", Active: true, Events: []string{"order.placed"},
				Filters: map[string]any{"region": []any{"eu", "us"}},
			},
			event: hook.Event{Type: "order.placed", Data: map[string]any{"region": "apac"}},
			want:  false,
		},
		{
			name: "numeric filter survives json float64 decoding",
			sub: hook.Subscription{
				ID: "s1", Active: true, Events: []string{"order.placed"},
				Filters: map[string]any{"tier": 3},
			},
			event: hook.Event{Type: "order.placed", Data: map[string]any{"tier": float64(3)}},
			want:  true,
		},
		{
			name: "all filters must match",
			sub: hook.Subscription{
				ID: "s1", Active: true, Events: []string{"order.placed"},
				Filters: map[string]any{"region": "eu", "tier": 3},
			},
			event: hook.Event{Type: "order.placed", Data: map[string]any{"region": "eu", "tier": float64(2)}},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.event, &tt.sub); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchFanout(t *testing.T) {
	subs := []hook.Subscription{
		{ID: "a", Active: true, Events: []string{"user.created"}},
		{ID: "b", Active: true, Events: []string{"user.created", "user.deleted"}},
		{ID: "c", Active: true, Events: []string{"user.deleted"}},
		{ID: "d", Active: false, Events: []string{"user.created"}},
	}

	got := Match(hook.Event{Type: "user.created"}, subs)
	if len(got) != 2 {
		t.Fatalf("Match() returned %d subscriptions, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Match() = [%s %s], want [a b]", got[0].ID, got[1].ID)
	}

	if got := Match(hook.Event{Type: "payment.settled"}, subs); len(got) != 0 {
		t.Errorf("Match() with unsubscribed type returned %d subscriptions, want 0", len(got))
	}
}
