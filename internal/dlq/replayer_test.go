package dlq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
	"github.com/tidehook/tidehook/internal/storage"
)

func TestRunOnceDrainsPending(t *testing.T) {
	store := storage.NewMemoryDeadLetters()
	q := NewQueue(store, nil, nil)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		if _, err := q.Enqueue(ctx, failedDelivery(id), nil, "terminal"); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	var mu sync.Mutex
	replayed := make(map[string]bool)
	r := NewReplayer(q, func(ctx context.Context, entryID string) (bool, error) {
		entry, err := q.Get(ctx, entryID)
		if err != nil {
			return false, err
		}
		mu.Lock()
		replayed[entry.DeliveryID] = true
		mu.Unlock()
		// d2 stays broken.
		if entry.DeliveryID == "d2" {
			return q.Replay(ctx, entry, func(ctx context.Context, e *hook.DeadLetterEntry) error {
				return errors.New("still broken")
			})
		}
		return q.Replay(ctx, entry, func(ctx context.Context, e *hook.DeadLetterEntry) error {
			return nil
		})
	}, 10, nil)

	r.RunOnce(ctx)

	mu.Lock()
	if len(replayed) != 3 {
		t.Errorf("replayed %d entries, want 3", len(replayed))
	}
	mu.Unlock()

	pending, _ := q.ListPending(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending after drain = %d, want 1", len(pending))
	}
	if pending[0].DeliveryID != "d2" {
		t.Errorf("remaining entry = %s, want d2", pending[0].DeliveryID)
	}
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	store := storage.NewMemoryDeadLetters()
	q := NewQueue(store, nil, nil)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for i, id := range []string{"d1", "d2", "d3"} {
		offset := i
		q.SetClock(func() time.Time { return base.Add(time.Duration(offset) * time.Minute) })
		if _, err := q.Enqueue(ctx, failedDelivery(id), nil, "terminal"); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	var count int
	r := NewReplayer(q, func(ctx context.Context, entryID string) (bool, error) {
		count++
		entry, err := q.Get(ctx, entryID)
		if err != nil {
			return false, err
		}
		return q.Replay(ctx, entry, func(ctx context.Context, e *hook.DeadLetterEntry) error { return nil })
	}, 2, nil)

	r.RunOnce(ctx)
	if count != 2 {
		t.Errorf("replayed %d entries in one cycle, want 2", count)
	}

	pending, _ := q.ListPending(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("pending after bounded drain = %d, want 1", len(pending))
	}
}

func TestReplayerCronSchedule(t *testing.T) {
	store := storage.NewMemoryDeadLetters()
	q := NewQueue(store, nil, nil)

	r := NewReplayer(q, func(ctx context.Context, entryID string) (bool, error) {
		return true, nil
	}, 0, nil)

	if err := r.Start("not a cron spec"); err == nil {
		t.Error("Start() with invalid spec should fail")
	}
	if err := r.Start("@every 1h"); err != nil {
		t.Errorf("Start() with valid spec error = %v", err)
	}
	r.Stop()
}
