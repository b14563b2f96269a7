package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/tidehook/tidehook/internal/hook"
)

// MemorySubscriptions is an in-process SubscriptionStore for tests and
// single-binary runs.
type MemorySubscriptions struct {
	mu   sync.RWMutex
	subs map[string]hook.Subscription
}

func NewMemorySubscriptions(subs ...hook.Subscription) *MemorySubscriptions {
	m := &MemorySubscriptions{subs: make(map[string]hook.Subscription)}
	for _, s := range subs {
		m.subs[s.ID] = s
	}
	return m
}

// Put inserts or replaces a subscription.
func (m *MemorySubscriptions) Put(s hook.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ID] = s
}

func (m *MemorySubscriptions) ListActive(ctx context.Context) ([]hook.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]hook.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemorySubscriptions) Get(ctx context.Context, id string) (*hook.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, hook.ErrNotFound
	}
	cp := s
	return &cp, nil
}

// MemoryDeliveries is an in-process DeliveryStore.
type MemoryDeliveries struct {
	mu         sync.RWMutex
	deliveries map[string]hook.Delivery
}

func NewMemoryDeliveries() *MemoryDeliveries {
	return &MemoryDeliveries{deliveries: make(map[string]hook.Delivery)}
}

func (m *MemoryDeliveries) Create(ctx context.Context, d *hook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[d.ID] = *d
	return nil
}

func (m *MemoryDeliveries) Update(ctx context.Context, d *hook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; !ok {
		return hook.ErrNotFound
	}
	m.deliveries[d.ID] = *d
	return nil
}

func (m *MemoryDeliveries) Get(ctx context.Context, id string) (*hook.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, hook.ErrNotFound
	}
	cp := d
	return &cp, nil
}

func (m *MemoryDeliveries) List(ctx context.Context, f DeliveryFilter) ([]hook.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []hook.Delivery
	for _, d := range m.deliveries {
		if f.SubscriptionID != "" && d.SubscriptionID != f.SubscriptionID {
			continue
		}
		if !f.Start.IsZero() && d.CreatedAt.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && d.CreatedAt.After(f.End) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryDeadLetters is an in-process DeadLetterStore.
type MemoryDeadLetters struct {
	mu         sync.RWMutex
	entries    map[string]hook.DeadLetterEntry // by entry id
	byDelivery map[string]string               // delivery id -> entry id
}

func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{
		entries:    make(map[string]hook.DeadLetterEntry),
		byDelivery: make(map[string]string),
	}
}

func (m *MemoryDeadLetters) Upsert(ctx context.Context, e *hook.DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.byDelivery[e.DeliveryID]; ok {
		existing := m.entries[existingID]
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
		e.RetryCount = existing.RetryCount
		m.entries[existingID] = *e
		return nil
	}
	m.entries[e.ID] = *e
	m.byDelivery[e.DeliveryID] = e.ID
	return nil
}

func (m *MemoryDeadLetters) Update(ctx context.Context, e *hook.DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; !ok {
		return hook.ErrNotFound
	}
	m.entries[e.ID] = *e
	return nil
}

func (m *MemoryDeadLetters) Get(ctx context.Context, id string) (*hook.DeadLetterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, hook.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (m *MemoryDeadLetters) ListPending(ctx context.Context, limit int) ([]hook.DeadLetterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []hook.DeadLetterEntry
	for _, e := range m.entries {
		if e.ProcessedAt == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
