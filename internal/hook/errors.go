package hook

import (
	"errors"
	"fmt"
)

// Sentinel errors for gate rejections. Neither consumes retry budget.
var (
	// ErrCircuitOpen means the breaker rejected the attempt; the delivery
	// stays schedulable until the breaker half-opens.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrRateLimited means the subscription's window is exhausted; the
	// delivery is re-queued for the next window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrDeliveryCancelled is returned when a scheduled attempt was
	// cancelled before it could fire.
	ErrDeliveryCancelled = errors.New("delivery cancelled")

	// ErrNotFound is returned by stores for unknown ids.
	ErrNotFound = errors.New("not found")
)

// SignatureError reports a signing or verification failure. It is never
// retried and surfaces directly to the caller.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature error: %s", e.Reason)
}

// DeliveryError is a failed HTTP attempt, classified as retryable or
// terminal. Status is zero for network-level failures.
type DeliveryError struct {
	Status    int
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("delivery failed: status %d", e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewRetryableError wraps a failure that should be rescheduled.
func NewRetryableError(status int, err error) *DeliveryError {
	return &DeliveryError{Status: status, Retryable: true, Err: err}
}

// NewTerminalError wraps a failure that dead-letters immediately.
func NewTerminalError(status int, err error) *DeliveryError {
	return &DeliveryError{Status: status, Retryable: false, Err: err}
}

// IsRetryable reports whether err represents a retryable delivery failure.
func IsRetryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}
