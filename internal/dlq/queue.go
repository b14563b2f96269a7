// Package dlq is the terminal-failure sink: deliveries that exhausted
// their retries or hit a non-retryable error land here and wait for a
// manual or policy-driven replay.
package dlq

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tidehook/tidehook/internal/hook"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/storage"
)

// Queue wraps the dead letter store with enqueue/replay semantics. An
// optional Publisher mirrors entries onto an NSQ topic for external
// consumers.
type Queue struct {
	store     storage.DeadLetterStore
	publisher *Publisher
	log       *logging.Logger
	now       func() time.Time
}

// NewQueue creates a Queue. publisher may be nil.
func NewQueue(store storage.DeadLetterStore, publisher *Publisher, log *logging.Logger) *Queue {
	if log == nil {
		log = logging.New("tidehook-dlq")
	}
	return &Queue{store: store, publisher: publisher, log: log, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Enqueue snapshots a terminally failed delivery. Idempotent on delivery
// id: re-enqueuing refreshes the snapshot instead of duplicating it.
func (q *Queue) Enqueue(ctx context.Context, d *hook.Delivery, payload map[string]any, reason string) (*hook.DeadLetterEntry, error) {
	entry := &hook.DeadLetterEntry{
		ID:             uuid.NewString(),
		DeliveryID:     d.ID,
		SubscriptionID: d.SubscriptionID,
		EventID:        d.EventID,
		Reason:         reason,
		Payload:        payload,
		Attempts:       d.Attempts,
		LastError:      d.ErrorMessage,
		CreatedAt:      q.now(),
	}
	if err := q.store.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	metrics.DLQTotal.Inc()

	if q.publisher != nil {
		if err := q.publisher.Publish(entry); err != nil {
			// The entry is durable either way; topic mirroring is best effort.
			q.log.WithDelivery(ctx, d.ID).WithError(err).Error("dlq publish failed")
		}
	}
	return entry, nil
}

// ListPending returns unprocessed entries, oldest first.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]hook.DeadLetterEntry, error) {
	return q.store.ListPending(ctx, limit)
}

// Get loads one entry by id.
func (q *Queue) Get(ctx context.Context, id string) (*hook.DeadLetterEntry, error) {
	return q.store.Get(ctx, id)
}

// Replay runs one fresh delivery of the snapshot through deliver. It never
// touches the original delivery's attempt budget. On success the entry is
// marked processed; on failure it stays pending for the next cycle.
func (q *Queue) Replay(ctx context.Context, entry *hook.DeadLetterEntry, deliver func(ctx context.Context, e *hook.DeadLetterEntry) error) (bool, error) {
	entry.RetryCount++
	err := deliver(ctx, entry)
	if err != nil {
		entry.LastError = err.Error()
		if updErr := q.store.Update(ctx, entry); updErr != nil {
			return false, updErr
		}
		return false, nil
	}
	now := q.now()
	entry.ProcessedAt = &now
	if updErr := q.store.Update(ctx, entry); updErr != nil {
		return true, updErr
	}
	return true, nil
}
