// Package storage defines the small persistence capabilities the engine
// depends on, so it never couples to a specific database or ORM.
package storage

import (
	"context"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
)

// SubscriptionStore is the read-only view of the external subscription
// system the engine consumes.
type SubscriptionStore interface {
	ListActive(ctx context.Context) ([]hook.Subscription, error)
	Get(ctx context.Context, id string) (*hook.Subscription, error)
}

// DeliveryFilter narrows delivery queries for metrics and listings.
type DeliveryFilter struct {
	SubscriptionID string
	Start          time.Time
	End            time.Time
}

// DeliveryStore persists delivery lifecycle records.
type DeliveryStore interface {
	Create(ctx context.Context, d *hook.Delivery) error
	Update(ctx context.Context, d *hook.Delivery) error
	Get(ctx context.Context, id string) (*hook.Delivery, error)
	List(ctx context.Context, f DeliveryFilter) ([]hook.Delivery, error)
}

// DeadLetterStore persists terminal-failure snapshots.
type DeadLetterStore interface {
	// Upsert is idempotent on DeliveryID: re-enqueuing the same delivery
	// updates the existing entry instead of duplicating it.
	Upsert(ctx context.Context, e *hook.DeadLetterEntry) error
	Update(ctx context.Context, e *hook.DeadLetterEntry) error
	Get(ctx context.Context, id string) (*hook.DeadLetterEntry, error)
	// ListPending returns unprocessed entries, oldest first.
	ListPending(ctx context.Context, limit int) ([]hook.DeadLetterEntry, error)
}
