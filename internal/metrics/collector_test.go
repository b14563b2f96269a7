package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
	"github.com/tidehook/tidehook/internal/storage"
)

var base = time.Unix(1700000000, 0)

func seedDelivery(t *testing.T, store *storage.MemoryDeliveries, id, subID string, status hook.DeliveryStatus, createdAt time.Time, latency time.Duration) {
	t.Helper()
	d := &hook.Delivery{
		ID:             id,
		SubscriptionID: subID,
		EventID:        "evt-" + id,
		Status:         status,
		CreatedAt:      createdAt,
	}
	if status == hook.StatusDelivered {
		at := createdAt.Add(latency)
		d.DeliveredAt = &at
	}
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
}

func TestCollectStatusCounts(t *testing.T) {
	store := storage.NewMemoryDeliveries()
	seedDelivery(t, store, "d1", "sub-1", hook.StatusDelivered, base, 50*time.Millisecond)
	seedDelivery(t, store, "d2", "sub-1", hook.StatusDelivered, base.Add(time.Minute), 80*time.Millisecond)
	seedDelivery(t, store, "d3", "sub-1", hook.StatusFailed, base.Add(2*time.Minute), 0)
	seedDelivery(t, store, "d4", "sub-1", hook.StatusRetrying, base.Add(3*time.Minute), 0)
	seedDelivery(t, store, "d5", "sub-1", hook.StatusPending, base.Add(4*time.Minute), 0)
	seedDelivery(t, store, "d6", "sub-1", hook.StatusDeadLetter, base.Add(5*time.Minute), 0)

	c := NewCollector(store)
	m, err := c.Collect(context.Background(), "", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if m.Total != 6 {
		t.Errorf("Total = %d, want 6", m.Total)
	}
	if m.Delivered != 2 || m.Failed != 1 || m.Retrying != 1 || m.Pending != 1 || m.DeadLettered != 1 {
		t.Errorf("counts = delivered %d failed %d retrying %d pending %d dead %d",
			m.Delivered, m.Failed, m.Retrying, m.Pending, m.DeadLettered)
	}
	if want := 2.0 / 6.0; m.SuccessRate != want {
		t.Errorf("SuccessRate = %v, want %v", m.SuccessRate, want)
	}
}

func TestCollectSubscriptionFilter(t *testing.T) {
	store := storage.NewMemoryDeliveries()
	seedDelivery(t, store, "d1", "sub-1", hook.StatusDelivered, base, 10*time.Millisecond)
	seedDelivery(t, store, "d2", "sub-2", hook.StatusFailed, base, 0)

	c := NewCollector(store)
	m, err := c.Collect(context.Background(), "sub-1", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if m.Total != 1 || m.Delivered != 1 {
		t.Errorf("filtered metrics = total %d delivered %d, want 1/1", m.Total, m.Delivered)
	}
	if m.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", m.SuccessRate)
	}
}

func TestCollectWindowBounds(t *testing.T) {
	store := storage.NewMemoryDeliveries()
	seedDelivery(t, store, "before", "sub-1", hook.StatusDelivered, base.Add(-time.Hour), time.Millisecond)
	seedDelivery(t, store, "inside", "sub-1", hook.StatusDelivered, base.Add(time.Minute), time.Millisecond)
	seedDelivery(t, store, "after", "sub-1", hook.StatusDelivered, base.Add(2*time.Hour), time.Millisecond)

	c := NewCollector(store)
	m, err := c.Collect(context.Background(), "", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if m.Total != 1 {
		t.Errorf("Total = %d, want only the in-window delivery", m.Total)
	}
}

func TestCollectLatencyPercentiles(t *testing.T) {
	store := storage.NewMemoryDeliveries()
	for i := 1; i <= 100; i++ {
		seedDelivery(t, store, fmt.Sprintf("d%03d", i), "sub-1", hook.StatusDelivered,
			base.Add(time.Duration(i)*time.Second), time.Duration(i)*time.Millisecond)
	}

	c := NewCollector(store)
	m, err := c.Collect(context.Background(), "", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if m.P50Latency != 50*time.Millisecond {
		t.Errorf("P50 = %v, want 50ms", m.P50Latency)
	}
	if m.P95Latency != 95*time.Millisecond {
		t.Errorf("P95 = %v, want 95ms", m.P95Latency)
	}
	if m.P99Latency != 99*time.Millisecond {
		t.Errorf("P99 = %v, want 99ms", m.P99Latency)
	}
}

func TestCollectEmptyWindow(t *testing.T) {
	c := NewCollector(storage.NewMemoryDeliveries())
	m, err := c.Collect(context.Background(), "", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if m.Total != 0 || m.SuccessRate != 0 {
		t.Errorf("empty window metrics = %+v, want zero values", m)
	}
	if m.P50Latency != 0 {
		t.Errorf("P50 = %v, want 0 with no delivered records", m.P50Latency)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []time.Duration{10, 20, 30, 40}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0.50, 20},
		{0.95, 40},
		{0.99, 40},
		{0.01, 10},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
