// Package worker runs the background loops that move events from storage to handlers.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/observability"
)

// Deliverer hands one delivery to its subscribers.
type Deliverer interface {
	Deliver(ctx context.Context, delivery events.Delivery) error
}

// EventWorkerConfig tunes concurrency and the retry budget.
type EventWorkerConfig struct {
	Workers         int
	MaxAttempts     int
	Backoff         time.Duration
	DeliveryTimeout time.Duration
	// ReclaimInterval is how often expired in-flight deliveries are returned to pending
	// when the queue supports it. Zero means every 30 seconds.
	ReclaimInterval time.Duration
}

// SettleFunc is told about deliveries that reached a terminal outcome (succeeded or
// dead-lettered).
type SettleFunc func(ctx context.Context, delivery events.Delivery)

// EventWorker drains a queue. Failed deliveries are retried with linear backoff until
// MaxAttempts is reached; permanent failures and exhausted budgets are dead-lettered.
type EventWorker struct {
	queue     events.Queue
	deliverer Deliverer
	cfg       EventWorkerConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	settle    SettleFunc
}

// NewEventWorker creates a worker.
func NewEventWorker(queue events.Queue, deliverer Deliverer, cfg EventWorkerConfig, logger *zap.Logger, metrics *observability.Metrics) *EventWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	return &EventWorker{
		queue:     queue,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// OnSettled registers fn to run after each terminal outcome.
func (w *EventWorker) OnSettled(fn SettleFunc) {
	w.settle = fn
}

// Run blocks until ctx is cancelled and all goroutines have returned.
func (w *EventWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if reclaimer, ok := w.queue.(events.Reclaimer); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.reclaimLoop(ctx, reclaimer)
		}()
	}
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	w.logger.Info("event worker started", zap.Int("workers", w.cfg.Workers), zap.Int("max_attempts", w.cfg.MaxAttempts))
	wg.Wait()
	w.logger.Info("event worker stopped")
}

func (w *EventWorker) loop(ctx context.Context, id int) {
	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", zap.Int("worker", id), zap.Error(err))
			if !sleep(ctx, w.cfg.Backoff) {
				return
			}
			continue
		}
		w.Process(ctx, delivery)
	}
}

func (w *EventWorker) reclaimLoop(ctx context.Context, reclaimer events.Reclaimer) {
	ticker := time.NewTicker(w.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		if moved, err := reclaimer.Reclaim(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("reclaim in-flight deliveries failed", zap.Error(err))
		} else if moved > 0 {
			w.logger.Warn("reclaimed abandoned deliveries", zap.Int("count", moved))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Process runs one delivery attempt and decides its fate. It returns the recorded outcome.
func (w *EventWorker) Process(ctx context.Context, delivery events.Delivery) string {
	fields := []zap.Field{
		zap.String("event_id", delivery.Event.ID),
		zap.String("event_type", string(delivery.Event.Type)),
		zap.Int("attempt", delivery.Attempt),
	}

	attemptCtx := ctx
	if w.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, w.cfg.DeliveryTimeout)
		defer cancel()
	}

	err := w.deliverer.Deliver(attemptCtx, delivery)
	if err == nil {
		w.logger.Info("delivery succeeded", fields...)
		w.record(delivery, observability.OutcomeSucceeded)
		w.finish(ctx, delivery, true)
		return observability.OutcomeSucceeded
	}
	fields = append(fields, zap.Error(err))

	if events.IsPermanent(err) || delivery.Attempt >= w.cfg.MaxAttempts {
		w.logger.Error("delivery dead-lettered", fields...)
		w.deadLetter(ctx, delivery, err)
		w.finish(ctx, delivery, true)
		return observability.OutcomeDeadLettered
	}

	w.logger.Warn("delivery failed; retrying", fields...)
	if !sleep(ctx, w.cfg.Backoff*time.Duration(delivery.Attempt)) {
		// Shutting down: put it back with the same attempt so the next process picks it up.
		requeued := w.requeue(context.Background(), events.NewDelivery(delivery.Event, delivery.Attempt))
		w.finish(context.Background(), delivery, !requeued)
		return observability.OutcomeRetried
	}
	requeued := w.requeue(ctx, events.NewDelivery(delivery.Event, delivery.Attempt+1))
	w.finish(ctx, delivery, !requeued)
	return observability.OutcomeRetried
}

// finish acknowledges the in-flight copy once its successor (if any) is recorded, then
// reports terminal outcomes.
func (w *EventWorker) finish(ctx context.Context, delivery events.Delivery, terminal bool) {
	if err := w.queue.Ack(ctx, delivery); err != nil {
		w.logger.Warn("ack failed; delivery will be reclaimed", zap.String("event_id", delivery.Event.ID), zap.Error(err))
	}
	if terminal && w.settle != nil {
		w.settle(ctx, delivery)
	}
}

// requeue reports false when the delivery had to be dead-lettered instead.
func (w *EventWorker) requeue(ctx context.Context, delivery events.Delivery) bool {
	w.record(delivery, observability.OutcomeRetried)
	if err := w.queue.Enqueue(ctx, delivery); err != nil {
		w.logger.Error("requeue failed; dead-lettering", zap.String("event_id", delivery.Event.ID), zap.Error(err))
		w.deadLetter(context.Background(), delivery, errors.Join(errors.New("requeue failed"), err))
		return false
	}
	return true
}

func (w *EventWorker) deadLetter(ctx context.Context, delivery events.Delivery, cause error) {
	w.record(delivery, observability.OutcomeDeadLettered)
	dl := events.DeadLetter{Delivery: delivery, Reason: cause.Error(), FailedAt: time.Now().UTC()}
	if err := w.queue.DeadLetter(ctx, dl); err != nil {
		w.logger.Error("dead-letter write failed", zap.String("event_id", delivery.Event.ID), zap.Error(err))
	}
}

func (w *EventWorker) record(delivery events.Delivery, outcome string) {
	w.metrics.RecordDelivery(string(delivery.Event.Type), outcome)
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
