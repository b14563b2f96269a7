// Package router matches events to active subscriptions by event type and
// attribute filters. Matching is a pure function with no I/O, safe to call
// concurrently.
package router

import (
	"reflect"

	"github.com/tidehook/tidehook/internal/hook"
)

// Match returns the active subscriptions whose event set contains the
// event's type and whose filters all match the event data. Subscriptions
// without filters match automatically.
func Match(event hook.Event, subs []hook.Subscription) []hook.Subscription {
	var out []hook.Subscription
	for i := range subs {
		if Matches(event, &subs[i]) {
			out = append(out, subs[i])
		}
	}
	return out
}

// Matches reports whether a single subscription selects the event.
func Matches(event hook.Event, sub *hook.Subscription) bool {
	if !sub.Active {
		return false
	}
	if !sub.WantsEvent(event.Type) {
		return false
	}
	for key, want := range sub.Filters {
		got, ok := event.Data[key]
		if !ok {
			return false
		}
		if !filterMatches(want, got) {
			return false
		}
	}
	return true
}

// filterMatches applies one filter entry: list-valued entries require
// membership, scalar entries require equality.
func filterMatches(want, got any) bool {
	switch w := want.(type) {
	case []any:
		for _, candidate := range w {
			if equalValue(candidate, got) {
				return true
			}
		}
		return false
	case []string:
		for _, candidate := range w {
			if equalValue(candidate, got) {
				return true
			}
		}
		return false
	default:
		return equalValue(want, got)
	}
}

// equalValue compares filter and event values. JSON round-trips decode all
// numbers as float64, so numeric kinds compare by value.
func equalValue(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
