package engine

import (
	"math"
	"math/rand"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
)

// jitterFraction caps the randomized addition at 10% of the exponential
// term, so concurrent retries across subscriptions desynchronize without
// materially stretching the schedule.
const jitterFraction = 0.10

// NextDelay computes the backoff before the attempt following `attempts`
// completed attempts: min(initial * multiplier^attempts + jitter, max).
// Jitter is drawn independently per call.
func NextDelay(p hook.RetryPolicy, attempts int) time.Duration {
	if p.InitialDelay <= 0 {
		p.InitialDelay = hook.DefaultRetryPolicy().InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = hook.DefaultRetryPolicy().Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = hook.DefaultRetryPolicy().MaxDelay
	}

	exp := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempts))
	jitter := rand.Float64() * jitterFraction * exp
	delay := time.Duration(exp + jitter)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// retryableStatus reports whether an HTTP status is in the policy's
// retryable set.
func retryableStatus(p hook.RetryPolicy, status int) bool {
	set := p.RetryableStatuses
	if len(set) == 0 {
		set = hook.DefaultRetryPolicy().RetryableStatuses
	}
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// policyFor resolves the effective retry policy for a subscription.
func policyFor(sub *hook.Subscription, defaults hook.RetryPolicy) hook.RetryPolicy {
	if sub == nil || sub.RetryPolicy == nil {
		return defaults
	}
	p := *sub.RetryPolicy
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaults.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaults.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if len(p.RetryableStatuses) == 0 {
		p.RetryableStatuses = defaults.RetryableStatuses
	}
	return p
}
