package circuitbreaker

import (
	"sync"
	"time"
)

// Manager holds one breaker per subscription. Breakers are created lazily
// with the subscription's policy; the map lock is held only for lookup so
// breaker operations never serialize across subscriptions.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
	clock    func() time.Time
	onChange func(id string, from, to State)
}

// NewManager creates a Manager with engine-wide defaults.
func NewManager(defaults Config) *Manager {
	if defaults.Threshold <= 0 {
		defaults = DefaultConfig()
	}
	return &Manager{breakers: make(map[string]*Breaker), defaults: defaults}
}

// SetClock overrides the time source for breakers created afterwards.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = now
	for _, b := range m.breakers {
		b.SetClock(now)
	}
}

// OnStateChange sets a hook invoked on every breaker transition with the
// owning subscription id. It covers existing and future breakers.
func (m *Manager) OnStateChange(fn func(id string, from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
	for id, b := range m.breakers {
		b.OnStateChange(taggedHook(id, fn))
	}
}

func taggedHook(id string, fn func(id string, from, to State)) func(from, to State) {
	return func(from, to State) { fn(id, from, to) }
}

// Get returns the breaker for id, creating it with cfg (nil means engine
// defaults) on first use.
func (m *Manager) Get(id string, cfg *Config) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[id]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[id]; ok {
		return b
	}
	c := m.defaults
	if cfg != nil {
		c = *cfg
	}
	b = New(c)
	if m.clock != nil {
		b.SetClock(m.clock)
	}
	if m.onChange != nil {
		b.OnStateChange(taggedHook(id, m.onChange))
	}
	m.breakers[id] = b
	return b
}

// Allow reports whether an attempt to id's endpoint may proceed.
func (m *Manager) Allow(id string, cfg *Config) bool {
	return m.Get(id, cfg).Allow()
}

// ReturnTrial gives back id's unused half-open admission.
func (m *Manager) ReturnTrial(id string) {
	m.Get(id, nil).ReturnTrial()
}

// OnSuccess records a successful attempt for id.
func (m *Manager) OnSuccess(id string) {
	m.Get(id, nil).OnSuccess()
}

// OnFailure records a failed attempt for id.
func (m *Manager) OnFailure(id string) {
	m.Get(id, nil).OnFailure()
}

// StatsAll snapshots every known breaker, keyed by subscription id.
func (m *Manager) StatsAll() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for id, b := range m.breakers {
		out[id] = b.Stats()
	}
	return out
}
