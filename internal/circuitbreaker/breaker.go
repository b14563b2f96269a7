// Package circuitbreaker guards consistently failing endpoints with a
// per-subscription closed/open/half-open state machine.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the current state of a breaker.
type State int

const (
	// StateClosed allows requests through.
	StateClosed State = iota
	// StateOpen rejects requests until the reset timeout elapses.
	StateOpen
	// StateHalfOpen has released a single trial request.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds.
type Config struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int
	// ResetTimeout is how long the breaker stays open before releasing a
	// half-open trial.
	ResetTimeout time.Duration
}

// DefaultConfig returns the engine-wide breaker defaults.
func DefaultConfig() Config {
	return Config{Threshold: 5, ResetTimeout: 60 * time.Second}
}

// Breaker is a single subscription's circuit breaker.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	state         State
	now           func() time.Time
	onStateChange func(from, to State)

	failures    int
	lastFailure time.Time
	nextReset   time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// OnStateChange sets a hook invoked (without the lock held) on transitions.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether an attempt may proceed. An open breaker whose
// reset timeout has elapsed transitions to half-open and admits exactly
// that one trial; further calls return false until the trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.now().Before(b.nextReset) {
			b.setState(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	}
	return false
}

// ReturnTrial gives back a half-open admission that was never dispatched,
// so a later attempt can take the trial instead. The reset deadline is
// already in the past, so the next Allow re-admits immediately. No-op
// unless the breaker is half-open.
func (b *Breaker) ReturnTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateHalfOpen {
		return
	}
	b.setState(StateOpen)
}

// OnSuccess resets the failure count and closes the breaker.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateClosed {
		b.setState(StateClosed)
	}
}

// OnFailure counts a failure; crossing the threshold (or failing the
// half-open trial) opens the breaker and schedules the next reset.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	case StateOpen:
		// Late failure reports while already open just refresh the clock.
		b.nextReset = b.now().Add(b.cfg.ResetTimeout)
	}
}

func (b *Breaker) open() {
	b.nextReset = b.now().Add(b.cfg.ResetTimeout)
	b.setState(StateOpen)
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		go b.onStateChange(from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time breaker snapshot.
type Stats struct {
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	Threshold   int        `json:"threshold"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	NextReset   *time.Time `json:"next_reset,omitempty"`
}

// Stats returns the current snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Stats{State: b.state.String(), Failures: b.failures, Threshold: b.cfg.Threshold}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		st.LastFailure = &t
	}
	if b.state == StateOpen {
		t := b.nextReset
		st.NextReset = &t
	}
	return st
}
