package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
)

func TestMemorySubscriptionsListActive(t *testing.T) {
	store := NewMemorySubscriptions(
		hook.Subscription{ID: "sub-b", Active: true},
		hook.Subscription{ID: "sub-a", Active: true},
		hook.Subscription{ID: "sub-c", Active: false},
	)

	subs, err := store.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("ListActive() = %d subscriptions, want 2", len(subs))
	}
	if subs[0].ID != "sub-a" || subs[1].ID != "sub-b" {
		t.Errorf("order = [%s %s], want sorted [sub-a sub-b]", subs[0].ID, subs[1].ID)
	}
}

func TestMemorySubscriptionsGet(t *testing.T) {
	store := NewMemorySubscriptions(hook.Subscription{ID: "sub-1", URL: "http://a", Active: true})

	sub, err := store.Get(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sub.URL != "http://a" {
		t.Errorf("Get() URL = %q, want http://a", sub.URL)
	}

	// Mutating the returned copy must not leak into the store.
	sub.URL = "http://mutated"
	again, _ := store.Get(context.Background(), "sub-1")
	if again.URL != "http://a" {
		t.Error("Get() returned a reference into the store, want a copy")
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, hook.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemorySubscriptionsPutReplaces(t *testing.T) {
	store := NewMemorySubscriptions(hook.Subscription{ID: "sub-1", URL: "http://old", Active: true})
	store.Put(hook.Subscription{ID: "sub-1", URL: "http://new", Active: true})

	sub, err := store.Get(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sub.URL != "http://new" {
		t.Errorf("Get() URL = %q, want replaced value", sub.URL)
	}
}

func TestMemoryDeliveriesLifecycle(t *testing.T) {
	store := NewMemoryDeliveries()
	ctx := context.Background()

	d := &hook.Delivery{ID: "d1", SubscriptionID: "sub-1", Status: hook.StatusPending, CreatedAt: time.Now()}
	if err := store.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Status = hook.StatusDelivered
	if err := store.Update(ctx, d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != hook.StatusDelivered {
		t.Errorf("Get() status = %s, want delivered", got.Status)
	}

	// The returned record is a copy.
	got.Status = hook.StatusFailed
	again, _ := store.Get(ctx, "d1")
	if again.Status != hook.StatusDelivered {
		t.Error("Get() returned a reference into the store, want a copy")
	}
}

func TestMemoryDeliveriesUpdateUnknown(t *testing.T) {
	store := NewMemoryDeliveries()
	err := store.Update(context.Background(), &hook.Delivery{ID: "ghost"})
	if !errors.Is(err, hook.ErrNotFound) {
		t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, hook.ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryDeliveriesListFilters(t *testing.T) {
	store := NewMemoryDeliveries()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	seed := []hook.Delivery{
		{ID: "d1", SubscriptionID: "sub-1", CreatedAt: base},
		{ID: "d2", SubscriptionID: "sub-2", CreatedAt: base.Add(time.Minute)},
		{ID: "d3", SubscriptionID: "sub-1", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "d4", SubscriptionID: "sub-1", CreatedAt: base.Add(3 * time.Hour)},
	}
	for i := range seed {
		if err := store.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create(%s) error = %v", seed[i].ID, err)
		}
	}

	tests := []struct {
		name   string
		filter DeliveryFilter
		want   []string
	}{
		{"all", DeliveryFilter{}, []string{"d1", "d2", "d3", "d4"}},
		{"by subscription", DeliveryFilter{SubscriptionID: "sub-1"}, []string{"d1", "d3", "d4"}},
		{"window", DeliveryFilter{Start: base.Add(30 * time.Second), End: base.Add(time.Hour)}, []string{"d2", "d3"}},
		{"subscription and window", DeliveryFilter{SubscriptionID: "sub-1", Start: base.Add(time.Minute), End: base.Add(time.Hour)}, []string{"d3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() = %d deliveries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryDeadLettersUpsertIdempotent(t *testing.T) {
	store := NewMemoryDeadLetters()
	ctx := context.Background()
	created := time.Unix(1700000000, 0)

	first := &hook.DeadLetterEntry{ID: "e1", DeliveryID: "d1", Reason: "first", CreatedAt: created, RetryCount: 2}
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	second := &hook.DeadLetterEntry{ID: "e2", DeliveryID: "d1", Reason: "second", CreatedAt: created.Add(time.Hour)}
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert() #2 error = %v", err)
	}

	if second.ID != "e1" {
		t.Errorf("Upsert() rewrote id to %q, want preserved e1", second.ID)
	}
	got, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Reason != "second" {
		t.Errorf("Reason = %q, want refreshed snapshot", got.Reason)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want original %v", got.CreatedAt, created)
	}
	if got.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want preserved 2", got.RetryCount)
	}

	if _, err := store.Get(ctx, "e2"); !errors.Is(err, hook.ErrNotFound) {
		t.Errorf("Get(e2) error = %v, want ErrNotFound for the discarded id", err)
	}
}

func TestMemoryDeadLettersListPending(t *testing.T) {
	store := NewMemoryDeadLetters()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	done := base.Add(time.Hour)

	entries := []hook.DeadLetterEntry{
		{ID: "e2", DeliveryID: "d2", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "e1", DeliveryID: "d1", CreatedAt: base.Add(time.Minute)},
		{ID: "e3", DeliveryID: "d3", CreatedAt: base.Add(3 * time.Minute), ProcessedAt: &done},
		{ID: "e4", DeliveryID: "d4", CreatedAt: base.Add(4 * time.Minute)},
	}
	for i := range entries {
		if err := store.Upsert(ctx, &entries[i]); err != nil {
			t.Fatalf("Upsert(%s) error = %v", entries[i].ID, err)
		}
	}

	pending, err := store.ListPending(ctx, 0)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	want := []string{"e1", "e2", "e4"}
	if len(pending) != len(want) {
		t.Fatalf("ListPending() = %d entries, want %d", len(pending), len(want))
	}
	for i := range pending {
		if pending[i].ID != want[i] {
			t.Errorf("ListPending()[%d] = %s, want %s", i, pending[i].ID, want[i])
		}
	}

	limited, err := store.ListPending(ctx, 2)
	if err != nil {
		t.Fatalf("ListPending(2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListPending(2) = %d entries, want 2", len(limited))
	}
}

func TestMemoryDeadLettersUpdateUnknown(t *testing.T) {
	store := NewMemoryDeadLetters()
	err := store.Update(context.Background(), &hook.DeadLetterEntry{ID: "ghost"})
	if !errors.Is(err, hook.ErrNotFound) {
		t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
	}
}
