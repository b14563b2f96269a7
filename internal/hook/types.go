// Package hook holds the domain model shared by the delivery engine
// components: subscriptions, events, deliveries and dead letter entries.
package hook

import (
	"time"
)

// RetryPolicy controls how failed deliveries are rescheduled.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	Multiplier        float64       `json:"multiplier"`
	MaxDelay          time.Duration `json:"max_delay"`
	RetryableStatuses []int         `json:"retryable_statuses,omitempty"`
}

// DefaultRetryPolicy returns the engine-wide retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		Multiplier:        2.0,
		MaxDelay:          5 * time.Minute,
		RetryableStatuses: []int{408, 429, 500, 502, 503, 504},
	}
}

// RateLimit is a per-subscription dispatch budget over a rolling window.
type RateLimit struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
}

// BreakerPolicy overrides the circuit breaker defaults for one subscription.
type BreakerPolicy struct {
	Threshold    int           `json:"threshold"`
	ResetTimeout time.Duration `json:"reset_timeout"`
}

// Subscription is a subscriber-supplied destination. It is owned by the
// external subscription store; the engine only reads it.
type Subscription struct {
	ID      string         `json:"id"`
	URL     string         `json:"url"`
	Events  []string       `json:"events"`
	Secret  string         `json:"secret"`
	Filters map[string]any `json:"filters,omitempty"`
	Active  bool           `json:"active"`

	RetryPolicy *RetryPolicy   `json:"retry_policy,omitempty"`
	RateLimit   *RateLimit     `json:"rate_limit,omitempty"`
	Breaker     *BreakerPolicy `json:"breaker,omitempty"`

	// Headers are attached verbatim to every delivery request.
	Headers map[string]string `json:"headers,omitempty"`
	// TokenAuth additionally attaches a short-lived signed bearer token.
	TokenAuth bool `json:"token_auth,omitempty"`
	// Verified reports whether the endpoint answered the challenge probe.
	Verified bool `json:"verified,omitempty"`
}

// WantsEvent reports whether the subscription's event set contains typ.
func (s *Subscription) WantsEvent(typ string) bool {
	for _, e := range s.Events {
		if e == typ {
			return true
		}
	}
	return false
}

// Event is an immutable notification to be fanned out to subscribers.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// DeliveryStatus is the lifecycle state of one (subscription, event) pair.
type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "pending"
	StatusDelivered  DeliveryStatus = "delivered"
	StatusRetrying   DeliveryStatus = "retrying"
	StatusFailed     DeliveryStatus = "failed"
	StatusDeadLetter DeliveryStatus = "dead_letter"
)

// Terminal reports whether no further attempts may happen.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusDeadLetter
}

// Delivery tracks attempts for one (subscription, event) pair. Attempts is
// monotonically non-decreasing and never exceeds MaxAttempts; Status only
// moves forward.
type Delivery struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	EventID        string         `json:"event_id"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
}

// Latency returns the end-to-end delivery latency, or false when the
// delivery never succeeded.
func (d *Delivery) Latency() (time.Duration, bool) {
	if d.DeliveredAt == nil {
		return 0, false
	}
	return d.DeliveredAt.Sub(d.CreatedAt), true
}

// DeadLetterEntry is the terminal-failure snapshot of a delivery, pending
// manual or policy-driven replay.
type DeadLetterEntry struct {
	ID             string         `json:"id"`
	DeliveryID     string         `json:"delivery_id"`
	SubscriptionID string         `json:"subscription_id"`
	EventID        string         `json:"event_id"`
	Reason         string         `json:"reason"`
	Payload        map[string]any `json:"payload"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	RetryCount     int            `json:"retry_count"`
}

// DeliveryResult is the caller-facing outcome of a dispatch.
type DeliveryResult struct {
	DeliveryID     string         `json:"delivery_id"`
	SubscriptionID string         `json:"subscription_id"`
	EventID        string         `json:"event_id"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	ResponseStatus int            `json:"response_status,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// BatchEnvelope groups several events into one signed request body.
type BatchEnvelope struct {
	Type      string  `json:"type"` // always "webhook.batch"
	Events    []Event `json:"events"`
	Count     int     `json:"count"`
	Timestamp int64   `json:"timestamp"`
}

// BatchType is the envelope type marker for batched dispatches.
const BatchType = "webhook.batch"

// VerificationType is the envelope type marker for the one-time challenge.
const VerificationType = "webhook.verification"
