package dlq

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/tidehook/tidehook/internal/logging"
)

// ReplayFunc replays one entry by id; the engine provides it.
type ReplayFunc func(ctx context.Context, entryID string) (bool, error)

// Replayer drives policy-based replay: on a cron schedule it drains
// pending entries through the engine's replay path. Entries that fail
// again simply stay pending for the next tick.
type Replayer struct {
	queue     *Queue
	replay    ReplayFunc
	cron      *cron.Cron
	batchSize int
	log       *logging.Logger
}

// NewReplayer creates a Replayer; batchSize <= 0 defaults to 50.
func NewReplayer(queue *Queue, replay ReplayFunc, batchSize int, log *logging.Logger) *Replayer {
	if batchSize <= 0 {
		batchSize = 50
	}
	if log == nil {
		log = logging.New("tidehook-dlq-replayer")
	}
	return &Replayer{queue: queue, replay: replay, cron: cron.New(), batchSize: batchSize, log: log}
}

// Start registers the schedule (standard cron spec) and begins ticking.
func (r *Replayer) Start(spec string) error {
	_, err := r.cron.AddFunc(spec, func() {
		r.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running drain to finish.
func (r *Replayer) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RunOnce drains up to batchSize pending entries through replay.
func (r *Replayer) RunOnce(ctx context.Context) {
	entries, err := r.queue.ListPending(ctx, r.batchSize)
	if err != nil {
		r.log.Plain().WithError(err).Error("dlq replay listing failed")
		return
	}
	var replayed int
	for i := range entries {
		ok, err := r.replay(ctx, entries[i].ID)
		if err != nil {
			r.log.WithDelivery(ctx, entries[i].DeliveryID).WithError(err).Error("dlq replay failed")
			continue
		}
		if ok {
			replayed++
		}
	}
	if len(entries) > 0 {
		r.log.Plain().WithField("pending", len(entries)).WithField("replayed", replayed).Info("dlq replay cycle complete")
	}
}
