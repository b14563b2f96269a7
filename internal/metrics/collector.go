// Package metrics aggregates delivery statistics: prometheus collectors for
// live monitoring and a read-only windowed query over delivery records.
package metrics

import (
	"context"
	"sort"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
	"github.com/tidehook/tidehook/internal/storage"
)

// DeliveryMetrics summarizes deliveries over an explicit [start,end] window.
type DeliveryMetrics struct {
	Total        int     `json:"total"`
	Delivered    int     `json:"delivered"`
	Failed       int     `json:"failed"`
	Retrying     int     `json:"retrying"`
	Pending      int     `json:"pending"`
	DeadLettered int     `json:"dead_lettered"`
	SuccessRate  float64 `json:"success_rate"`

	// Latency percentiles from deliveredAt - createdAt, delivered only.
	P50Latency time.Duration `json:"p50_latency_ns"`
	P95Latency time.Duration `json:"p95_latency_ns"`
	P99Latency time.Duration `json:"p99_latency_ns"`
}

// Collector computes DeliveryMetrics from a DeliveryStore. It never mutates
// delivery records.
type Collector struct {
	deliveries storage.DeliveryStore
}

// NewCollector creates a Collector over the given store.
func NewCollector(deliveries storage.DeliveryStore) *Collector {
	return &Collector{deliveries: deliveries}
}

// Collect aggregates deliveries created in [start,end], optionally filtered
// to one subscription (empty id means all).
func (c *Collector) Collect(ctx context.Context, subscriptionID string, start, end time.Time) (DeliveryMetrics, error) {
	list, err := c.deliveries.List(ctx, storage.DeliveryFilter{
		SubscriptionID: subscriptionID,
		Start:          start,
		End:            end,
	})
	if err != nil {
		return DeliveryMetrics{}, err
	}

	var m DeliveryMetrics
	var latencies []time.Duration
	for i := range list {
		d := &list[i]
		m.Total++
		switch d.Status {
		case hook.StatusDelivered:
			m.Delivered++
			if lat, ok := d.Latency(); ok {
				latencies = append(latencies, lat)
			}
		case hook.StatusFailed:
			m.Failed++
		case hook.StatusRetrying:
			m.Retrying++
		case hook.StatusPending:
			m.Pending++
		case hook.StatusDeadLetter:
			m.DeadLettered++
		}
	}
	if m.Total > 0 {
		m.SuccessRate = float64(m.Delivered) / float64(m.Total)
	}
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		m.P50Latency = percentile(latencies, 0.50)
		m.P95Latency = percentile(latencies, 0.95)
		m.P99Latency = percentile(latencies, 0.99)
	}
	return m, nil
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
