package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidehook_events_processed_total",
			Help: "Total number of events dispatched through the engine.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_deliveries_total",
			Help: "Total number of delivery outcomes by status.",
		},
		[]string{"status", "subscription"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_429, timeout, network
	)

	DLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidehook_dlq_total",
			Help: "Total number of deliveries moved to the dead letter queue.",
		},
	)

	BreakerRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_breaker_rejected_total",
			Help: "Attempts skipped because the circuit breaker was open.",
		},
		[]string{"subscription"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_rate_limited_total",
			Help: "Attempts deferred because the subscription window was exhausted.",
		},
		[]string{"subscription"},
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidehook_delivery_latency_seconds",
			Help:    "HTTP attempt latency by response class.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code_class"}, // 2xx, 4xx, 5xx, error
	)
)

// MustRegister registers every engine collector on reg.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsProcessedTotal,
		DeliveriesTotal,
		RetriesTotal,
		DLQTotal,
		BreakerRejectedTotal,
		RateLimitedTotal,
		DeliveryLatency,
	)
}

// RecordDelivery counts one delivery outcome.
func RecordDelivery(status, subscriptionID string) {
	DeliveriesTotal.WithLabelValues(status, subscriptionID).Inc()
}

// RecordRetry counts a scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordAttemptLatency observes one HTTP attempt.
func RecordAttemptLatency(status int, latency time.Duration) {
	class := "error"
	switch {
	case status >= 200 && status < 300:
		class = "2xx"
	case status >= 400 && status < 500:
		class = "4xx"
	case status >= 500:
		class = "5xx"
	}
	DeliveryLatency.WithLabelValues(class).Observe(latency.Seconds())
}
