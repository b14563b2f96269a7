// Package engine coordinates webhook delivery: routing events to
// subscriptions, gating attempts through rate limits and circuit breakers,
// executing signed HTTP attempts, scheduling retries with backoff, and
// dead-lettering terminal failures.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tidehook/tidehook/internal/circuitbreaker"
	"github.com/tidehook/tidehook/internal/dlq"
	"github.com/tidehook/tidehook/internal/hook"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/ratelimit"
	"github.com/tidehook/tidehook/internal/router"
	"github.com/tidehook/tidehook/internal/storage"
	"github.com/tidehook/tidehook/internal/tracing"
)

// Alerter is notified when a delivery keeps failing. The actual
// notification channel lives outside the engine.
type Alerter interface {
	Alert(ctx context.Context, d *hook.Delivery, sub *hook.Subscription)
}

// Config holds engine-wide defaults; subscriptions may override retry,
// rate limit and breaker settings individually.
type Config struct {
	Workers           int
	AlertThreshold    int
	RetryDefaults     hook.RetryPolicy
	RateLimitDefaults hook.RateLimit
	BreakerDefaults   circuitbreaker.Config
}

// Deps are the engine's collaborators.
type Deps struct {
	Subscriptions storage.SubscriptionStore
	Deliveries    storage.DeliveryStore
	DLQ           *dlq.Queue
	Limiter       ratelimit.Limiter
	Egress        *ratelimit.Egress
	Breakers      *circuitbreaker.Manager
	Executor      *Executor
	Collector     *metrics.Collector
	Alerter       Alerter
	Logger        *logging.Logger
}

// job is the in-memory working state of one live delivery.
type job struct {
	delivery *hook.Delivery
	sub      hook.Subscription
	payload  map[string]any
	policy   hook.RetryPolicy
}

// Engine is the delivery coordinator. All shared state (jobs, in-flight
// guards, cancellations) lives here rather than in package globals.
type Engine struct {
	cfg       Config
	subs      storage.SubscriptionStore
	delStore  storage.DeliveryStore
	queue     *dlq.Queue
	limiter   ratelimit.Limiter
	egress    *ratelimit.Egress
	breakers  *circuitbreaker.Manager
	exec      *Executor
	sched     *Scheduler
	collector *metrics.Collector
	alerter   Alerter
	log       *logging.Logger

	sem *semaphore.Weighted

	mu        sync.Mutex
	jobs      map[string]*job
	inflight  map[string]struct{}
	cancelled map[string]struct{}

	baseCtx context.Context
}

// New creates an Engine. Subscriptions, Deliveries, DLQ and Executor are
// required; the remaining deps default to in-process implementations.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 32
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 3
	}
	if cfg.RetryDefaults.MaxAttempts <= 0 {
		cfg.RetryDefaults = hook.DefaultRetryPolicy()
	}
	if cfg.RateLimitDefaults.MaxRequests <= 0 {
		cfg.RateLimitDefaults = hook.RateLimit{Window: time.Minute, MaxRequests: 1000}
	}
	if cfg.BreakerDefaults.Threshold <= 0 {
		cfg.BreakerDefaults = circuitbreaker.DefaultConfig()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewLocalLimiter()
	}
	if deps.Breakers == nil {
		deps.Breakers = circuitbreaker.NewManager(cfg.BreakerDefaults)
	}
	if deps.Logger == nil {
		deps.Logger = logging.New("tidehook-engine")
	}
	if deps.Collector == nil {
		deps.Collector = metrics.NewCollector(deps.Deliveries)
	}

	e := &Engine{
		cfg:       cfg,
		subs:      deps.Subscriptions,
		delStore:  deps.Deliveries,
		queue:     deps.DLQ,
		limiter:   deps.Limiter,
		egress:    deps.Egress,
		breakers:  deps.Breakers,
		exec:      deps.Executor,
		collector: deps.Collector,
		alerter:   deps.Alerter,
		log:       deps.Logger,
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		jobs:      make(map[string]*job),
		inflight:  make(map[string]struct{}),
		cancelled: make(map[string]struct{}),
		baseCtx:   context.Background(),
	}
	e.sched = NewScheduler(e.fireScheduled)
	e.breakers.OnStateChange(func(id string, from, to circuitbreaker.State) {
		entry := e.log.WithSubscription(context.Background(), id).
			WithField("from", from.String()).WithField("to", to.String())
		if to == circuitbreaker.StateOpen {
			entry.Warn("breaker opened")
			return
		}
		entry.Info("breaker state changed")
	})
	return e
}

// Start launches the retry scheduler loop. ctx bounds all background
// attempts.
func (e *Engine) Start(ctx context.Context) {
	e.baseCtx = ctx
	go e.sched.Run(ctx)
}

// ProcessEvent fans one event out to every matching active subscription.
// First attempts run concurrently under the worker pool; retries continue
// in the background. The returned results reflect each delivery's state
// after its first attempt cycle.
func (e *Engine) ProcessEvent(ctx context.Context, event hook.Event) ([]hook.DeliveryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.process_event",
		attribute.String("event_id", event.ID),
		attribute.String("event_type", event.Type),
	)
	defer span.End()

	subs, err := e.subs.ListActive(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	matched := router.Match(event, subs)
	span.SetAttributes(attribute.Int("matched_subscriptions", len(matched)))
	metrics.EventsProcessedTotal.Inc()

	payload := eventBody(event)
	ids := make([]string, 0, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	for i := range matched {
		sub := matched[i]
		j, err := e.createJob(ctx, sub, event.ID, payload)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			// Attempts already launched must finish before the error returns.
			_ = g.Wait()
			return nil, err
		}
		ids = append(ids, j.delivery.ID)
		g.Go(func() error {
			e.runAttempt(gctx, j.delivery.ID)
			return nil
		})
	}
	_ = g.Wait()

	return e.resultsFor(ids), nil
}

// ProcessBatch groups events per subscription into one signed batch
// envelope and dispatches each as a single delivery.
func (e *Engine) ProcessBatch(ctx context.Context, events []hook.Event) ([]hook.DeliveryResult, error) {
	if len(events) == 0 {
		return nil, nil
	}
	subs, err := e.subs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	var ids []string
	g, gctx := errgroup.WithContext(ctx)
	for i := range subs {
		sub := subs[i]
		var selected []hook.Event
		for _, ev := range events {
			if router.Matches(ev, &sub) {
				selected = append(selected, ev)
			}
		}
		if len(selected) == 0 {
			continue
		}
		batchID := uuid.NewString()
		bodies := make([]map[string]any, len(selected))
		for k, ev := range selected {
			bodies[k] = eventBody(ev)
		}
		payload := map[string]any{
			"id":        batchID,
			"type":      hook.BatchType,
			"events":    bodies,
			"count":     len(selected),
			"timestamp": time.Now().Unix(),
		}
		j, err := e.createJob(ctx, sub, batchID, payload)
		if err != nil {
			_ = g.Wait()
			return nil, err
		}
		ids = append(ids, j.delivery.ID)
		g.Go(func() error {
			e.runAttempt(gctx, j.delivery.ID)
			return nil
		})
	}
	_ = g.Wait()
	metrics.EventsProcessedTotal.Add(float64(len(events)))
	return e.resultsFor(ids), nil
}

// RetryDelivery forces an immediate attempt of a live delivery, ahead of
// its scheduled backoff.
func (e *Engine) RetryDelivery(ctx context.Context, deliveryID string) (hook.DeliveryResult, error) {
	e.mu.Lock()
	j, ok := e.jobs[deliveryID]
	e.mu.Unlock()
	if !ok {
		if d, err := e.delStore.Get(ctx, deliveryID); err == nil {
			return resultFor(d), fmt.Errorf("delivery %s is %s and cannot be retried", deliveryID, d.Status)
		}
		return hook.DeliveryResult{}, hook.ErrNotFound
	}
	e.sched.Cancel(deliveryID)
	e.runAttempt(ctx, deliveryID)

	e.mu.Lock()
	defer e.mu.Unlock()
	return resultFor(j.delivery), nil
}

// CancelDelivery stops a delivery in retrying or pending state. A
// scheduled attempt will not fire; an attempt already on the wire keeps
// running but its result is discarded.
func (e *Engine) CancelDelivery(ctx context.Context, deliveryID string) error {
	e.mu.Lock()
	j, ok := e.jobs[deliveryID]
	if !ok {
		e.mu.Unlock()
		return hook.ErrNotFound
	}
	e.cancelled[deliveryID] = struct{}{}
	_, busy := e.inflight[deliveryID]
	e.mu.Unlock()

	e.sched.Cancel(deliveryID)
	if !busy {
		e.finalizeCancelled(ctx, j)
	}
	return nil
}

// GetMetrics aggregates delivery statistics over [start,end]; zero times
// default to the trailing 24 hours.
func (e *Engine) GetMetrics(ctx context.Context, subscriptionID string, start, end time.Time) (metrics.DeliveryMetrics, error) {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	return e.collector.Collect(ctx, subscriptionID, start, end)
}

// ListDeadLetter returns pending dead letter entries, oldest first.
func (e *Engine) ListDeadLetter(ctx context.Context, limit int) ([]hook.DeadLetterEntry, error) {
	return e.queue.ListPending(ctx, limit)
}

// ReplayDeadLetter runs one fresh delivery of a dead letter entry. The
// replay bypasses the retry budget and the dispatch gates; it is an
// operator-triggered code path.
func (e *Engine) ReplayDeadLetter(ctx context.Context, entryID string) (bool, error) {
	entry, err := e.queue.Get(ctx, entryID)
	if err != nil {
		return false, err
	}
	sub, err := e.subs.Get(ctx, entry.SubscriptionID)
	if err != nil {
		return false, fmt.Errorf("subscription %s: %w", entry.SubscriptionID, err)
	}
	policy := policyFor(sub, e.cfg.RetryDefaults)
	return e.queue.Replay(ctx, entry, func(ctx context.Context, en *hook.DeadLetterEntry) error {
		_, _, err := e.exec.Attempt(ctx, sub, en.Payload, policy)
		return err
	})
}

// VerifyEndpoint sends the one-time challenge probe. The endpoint must
// answer 200 and echo the challenge back.
func (e *Engine) VerifyEndpoint(ctx context.Context, sub *hook.Subscription) (bool, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return false, err
	}
	challenge := hex.EncodeToString(buf)
	return e.exec.VerifyEndpoint(ctx, sub, challenge)
}

// BreakerStats snapshots every subscription's breaker, for the ops API.
func (e *Engine) BreakerStats() map[string]circuitbreaker.Stats {
	return e.breakers.StatsAll()
}

// createJob persists a fresh pending delivery and registers its working
// state.
func (e *Engine) createJob(ctx context.Context, sub hook.Subscription, eventID string, payload map[string]any) (*job, error) {
	policy := policyFor(&sub, e.cfg.RetryDefaults)
	d := &hook.Delivery{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		EventID:        eventID,
		Status:         hook.StatusPending,
		MaxAttempts:    policy.MaxAttempts,
		CreatedAt:      time.Now(),
	}
	if err := e.delStore.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	j := &job{delivery: d, sub: sub, payload: payload, policy: policy}
	e.mu.Lock()
	e.jobs[d.ID] = j
	e.mu.Unlock()
	return j, nil
}

// fireScheduled is the scheduler callback for due retries.
func (e *Engine) fireScheduled(deliveryID string) {
	e.runAttempt(e.baseCtx, deliveryID)
}

// runAttempt executes one gate-and-attempt cycle for a delivery. At most
// one cycle runs per delivery at any time.
func (e *Engine) runAttempt(ctx context.Context, deliveryID string) {
	e.mu.Lock()
	j, ok := e.jobs[deliveryID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if _, c := e.cancelled[deliveryID]; c {
		e.mu.Unlock()
		e.finalizeCancelled(ctx, j)
		return
	}
	if _, busy := e.inflight[deliveryID]; busy {
		e.mu.Unlock()
		return
	}
	e.inflight[deliveryID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, deliveryID)
		e.mu.Unlock()
	}()

	d := j.delivery
	sub := &j.sub
	limit := limitFor(sub, e.cfg.RateLimitDefaults)

	// Gate order: rate limiter first, then breaker. Allow() does not
	// consume; the slot is claimed just before dispatch.
	if !e.limiter.Allow(sub.ID, limit) {
		e.deferAttempt(ctx, j, limit.Window, "rate limited")
		metrics.RateLimitedTotal.WithLabelValues(sub.ID).Inc()
		return
	}

	bcfg := breakerCfgFor(sub, e.cfg.BreakerDefaults)
	if !e.breakers.Allow(sub.ID, &bcfg) {
		e.deferAttempt(ctx, j, bcfg.ResetTimeout, "circuit open")
		metrics.BreakerRejectedTotal.WithLabelValues(sub.ID).Inc()
		return
	}

	// Every exit below this point must resolve a half-open admission, or
	// the breaker would reject all traffic until a trial reports back.
	if !e.limiter.Consume(sub.ID, limit) {
		e.breakers.ReturnTrial(sub.ID)
		e.deferAttempt(ctx, j, limit.Window, "rate limited")
		metrics.RateLimitedTotal.WithLabelValues(sub.ID).Inc()
		return
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.breakers.ReturnTrial(sub.ID)
		return
	}
	defer e.sem.Release(1)

	if err := e.egress.Wait(ctx); err != nil {
		e.breakers.ReturnTrial(sub.ID)
		return
	}

	now := time.Now()
	e.mu.Lock()
	d.Attempts++
	d.LastAttemptAt = &now
	d.NextRetryAt = nil
	snap := *d
	e.mu.Unlock()
	if err := e.delStore.Update(ctx, &snap); err != nil {
		e.log.WithDelivery(ctx, d.ID).WithError(err).Error("delivery update failed")
	}

	status, latency, attemptErr := e.exec.Attempt(ctx, sub, j.payload, j.policy)

	e.mu.Lock()
	_, wasCancelled := e.cancelled[deliveryID]
	e.mu.Unlock()
	if wasCancelled {
		// The HTTP call already happened; its outcome is discarded.
		e.breakers.ReturnTrial(sub.ID)
		e.finalizeCancelled(ctx, j)
		return
	}

	if attemptErr == nil {
		e.onSuccess(ctx, j, status, latency)
		return
	}
	e.onFailure(ctx, j, status, attemptErr)
}

// deferAttempt reschedules without consuming an attempt. The delivery
// keeps its pending/retrying status.
func (e *Engine) deferAttempt(ctx context.Context, j *job, delay time.Duration, reason string) {
	if delay <= 0 {
		delay = time.Second
	}
	at := time.Now().Add(delay)
	e.mu.Lock()
	j.delivery.NextRetryAt = &at
	snap := *j.delivery
	e.mu.Unlock()
	if err := e.delStore.Update(ctx, &snap); err != nil {
		e.log.WithDelivery(ctx, j.delivery.ID).WithError(err).Error("delivery update failed")
	}
	e.sched.Schedule(j.delivery.ID, at)
	e.log.WithDelivery(ctx, j.delivery.ID).WithField("reason", reason).
		WithField("next_attempt", at.Format(time.RFC3339)).Debug("attempt deferred")
}

func (e *Engine) onSuccess(ctx context.Context, j *job, status int, latency time.Duration) {
	d := j.delivery
	now := time.Now()
	e.mu.Lock()
	d.Status = hook.StatusDelivered
	d.DeliveredAt = &now
	d.ResponseStatus = status
	d.ErrorMessage = ""
	snap := *d
	e.mu.Unlock()
	if err := e.delStore.Update(ctx, &snap); err != nil {
		e.log.WithDelivery(ctx, d.ID).WithError(err).Error("delivery update failed")
	}
	e.breakers.OnSuccess(j.sub.ID)
	metrics.RecordDelivery("delivered", j.sub.ID)
	e.removeJob(d.ID)
	e.log.WithDelivery(ctx, d.ID).WithFields(map[string]any{
		"attempt":    snap.Attempts,
		"status":     status,
		"latency_ms": latency.Milliseconds(),
	}).Info("delivered")
}

func (e *Engine) onFailure(ctx context.Context, j *job, status int, attemptErr error) {
	d := j.delivery
	e.mu.Lock()
	d.ResponseStatus = status
	d.ErrorMessage = attemptErrMessage(attemptErr, status)
	attempts := d.Attempts
	e.mu.Unlock()
	e.breakers.OnFailure(j.sub.ID)

	if e.alerter != nil && attempts >= e.cfg.AlertThreshold {
		e.alerter.Alert(ctx, d, &j.sub)
	}

	if hook.IsRetryable(attemptErr) {
		reason := classifyReason(unwrapAttempt(attemptErr), status)
		metrics.RecordRetry(reason)
		if attempts < j.policy.MaxAttempts {
			delay := NextDelay(j.policy, attempts)
			at := time.Now().Add(delay)
			e.mu.Lock()
			d.Status = hook.StatusRetrying
			d.NextRetryAt = &at
			snap := *d
			e.mu.Unlock()
			if err := e.delStore.Update(ctx, &snap); err != nil {
				e.log.WithDelivery(ctx, d.ID).WithError(err).Error("delivery update failed")
			}
			e.sched.Schedule(d.ID, at)
			e.log.WithDelivery(ctx, d.ID).WithFields(map[string]any{
				"attempt": attempts,
				"status":  status,
				"delay":   delay.String(),
			}).Info("retry scheduled")
			return
		}
		e.deadLetter(ctx, j, fmt.Sprintf("max attempts reached (%d), last error: %s", attempts, attemptErrMessage(attemptErr, status)))
		return
	}

	e.deadLetter(ctx, j, fmt.Sprintf("non-retryable response (status %d)", status))
}

// deadLetter marks the delivery failed, snapshots it into the DLQ, then
// marks it dead_letter.
func (e *Engine) deadLetter(ctx context.Context, j *job, reason string) {
	d := j.delivery
	e.mu.Lock()
	d.Status = hook.StatusFailed
	d.NextRetryAt = nil
	snap := *d
	e.mu.Unlock()
	if err := e.delStore.Update(ctx, &snap); err != nil {
		e.log.WithDelivery(ctx, d.ID).WithError(err).Error("delivery update failed")
	}
	metrics.RecordDelivery("failed", j.sub.ID)

	if _, err := e.queue.Enqueue(ctx, &snap, j.payload, reason); err != nil {
		e.log.WithDelivery(ctx, d.ID).WithError(err).Error("dlq enqueue failed")
	}

	e.mu.Lock()
	d.Status = hook.StatusDeadLetter
	snap = *d
	e.mu.Unlock()
	if err := e.delStore.Update(ctx, &snap); err != nil {
		e.log.WithDelivery(ctx, d.ID).WithError(err).Error("delivery update failed")
	}
	metrics.RecordDelivery("dead_letter", j.sub.ID)
	e.removeJob(d.ID)
	e.log.WithDelivery(ctx, d.ID).WithField("reason", reason).Warn("dead lettered")
}

func (e *Engine) finalizeCancelled(ctx context.Context, j *job) {
	d := j.delivery
	e.mu.Lock()
	if _, live := e.jobs[d.ID]; !live {
		e.mu.Unlock()
		return
	}
	delete(e.jobs, d.ID)
	delete(e.cancelled, d.ID)
	d.Status = hook.StatusFailed
	d.NextRetryAt = nil
	d.ErrorMessage = "cancelled"
	snap := *d
	e.mu.Unlock()

	if err := e.delStore.Update(ctx, &snap); err != nil {
		e.log.WithDelivery(ctx, d.ID).WithError(err).Error("delivery update failed")
	}
	metrics.RecordDelivery("failed", j.sub.ID)
	e.log.WithDelivery(ctx, d.ID).Info("delivery cancelled")
}

func (e *Engine) removeJob(id string) {
	e.mu.Lock()
	delete(e.jobs, id)
	delete(e.cancelled, id)
	e.mu.Unlock()
}

func (e *Engine) resultsFor(ids []string) []hook.DeliveryResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]hook.DeliveryResult, 0, len(ids))
	for _, id := range ids {
		if j, ok := e.jobs[id]; ok {
			out = append(out, resultFor(j.delivery))
			continue
		}
		// Terminal deliveries left the job map; read the store.
		if d, err := e.delStore.Get(context.Background(), id); err == nil {
			out = append(out, resultFor(d))
		}
	}
	return out
}

func resultFor(d *hook.Delivery) hook.DeliveryResult {
	return hook.DeliveryResult{
		DeliveryID:     d.ID,
		SubscriptionID: d.SubscriptionID,
		EventID:        d.EventID,
		Status:         d.Status,
		Attempts:       d.Attempts,
		ResponseStatus: d.ResponseStatus,
		Error:          d.ErrorMessage,
	}
}

func eventBody(ev hook.Event) map[string]any {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"id":        ev.ID,
		"type":      ev.Type,
		"data":      ev.Data,
		"timestamp": ts.Unix(),
	}
}

func limitFor(sub *hook.Subscription, def hook.RateLimit) hook.RateLimit {
	if sub.RateLimit != nil && sub.RateLimit.MaxRequests > 0 && sub.RateLimit.Window > 0 {
		return *sub.RateLimit
	}
	return def
}

func breakerCfgFor(sub *hook.Subscription, def circuitbreaker.Config) circuitbreaker.Config {
	if sub.Breaker == nil {
		return def
	}
	cfg := circuitbreaker.Config{
		Threshold:    sub.Breaker.Threshold,
		ResetTimeout: sub.Breaker.ResetTimeout,
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return cfg
}

func attemptErrMessage(err error, status int) string {
	if status > 0 {
		return fmt.Sprintf("http status %d", status)
	}
	if inner := unwrapAttempt(err); inner != nil {
		return inner.Error()
	}
	return err.Error()
}

func unwrapAttempt(err error) error {
	var de *hook.DeliveryError
	if errors.As(err, &de) {
		return de.Err
	}
	return err
}
