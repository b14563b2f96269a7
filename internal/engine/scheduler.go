package engine

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Scheduler is a min-heap of (fireAt, deliveryID) drained by a single
// loop. Backoff waits live here instead of blocking pooled workers, and
// cancellation is just a flag checked before firing.
type Scheduler struct {
	mu        sync.Mutex
	queue     timerHeap
	cancelled map[string]struct{}
	wake      chan struct{}
	fire      func(deliveryID string)
}

type timerItem struct {
	fireAt     time.Time
	deliveryID string
}

type timerHeap []timerItem

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(timerItem)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewScheduler creates a scheduler that invokes fire for each due delivery.
func NewScheduler(fire func(deliveryID string)) *Scheduler {
	return &Scheduler{
		cancelled: make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
		fire:      fire,
	}
}

// Schedule queues deliveryID to fire at `at`. Scheduling clears any earlier
// cancellation of the same id.
func (s *Scheduler) Schedule(deliveryID string, at time.Time) {
	s.mu.Lock()
	delete(s.cancelled, deliveryID)
	heap.Push(&s.queue, timerItem{fireAt: at, deliveryID: deliveryID})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel prevents a scheduled fire for deliveryID. Returns true when a
// pending entry existed.
func (s *Scheduler) Cancel(deliveryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].deliveryID == deliveryID {
			s.cancelled[deliveryID] = struct{}{}
			return true
		}
	}
	return false
}

// Pending returns the number of queued timers, cancelled ones included.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Run drains the heap until ctx is done. Due entries fire on their own
// goroutine so a slow delivery never delays the next timer.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if s.queue.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.queue[0].fireAt)
		}

		if wait <= 0 {
			item := heap.Pop(&s.queue).(timerItem)
			_, skip := s.cancelled[item.deliveryID]
			delete(s.cancelled, item.deliveryID)
			s.mu.Unlock()
			if !skip {
				go s.fire(item.deliveryID)
			}
			continue
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}
