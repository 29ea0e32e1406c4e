package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

// OutboxRelay publishes outbox rows written alongside their aggregates. Rows go out in
// insertion order. By default a row is claimed, published and marked in one store
// transaction, so concurrent relays never publish the same row and a crash before the
// commit republishes the same event id.
//
// With SettleOnAck the row stays unpublished until the event worker reports a terminal
// outcome for it. This is the mode for process-local queues: whatever was in the queue
// when the process died is published again on the next start.
type OutboxRelay struct {
	outbox     repository.OutboxRepository
	dispatcher events.Dispatcher
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
	wake       chan struct{}

	settleOnAck bool
	mu          sync.Mutex
	inflight    map[string]struct{}
}

// NewOutboxRelay creates a relay polling every interval.
func NewOutboxRelay(outbox repository.OutboxRepository, dispatcher events.Dispatcher, interval time.Duration, batchSize int, logger *zap.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		outbox:     outbox,
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		inflight:   make(map[string]struct{}),
	}
}

// SettleOnAck defers marking rows published until Settle is called for their event.
func (r *OutboxRelay) SettleOnAck() {
	r.settleOnAck = true
}

// Settle marks the outbox row behind delivery as published. Events that did not come
// from the outbox, or were settled already, are ignored. It matches worker.SettleFunc.
func (r *OutboxRelay) Settle(ctx context.Context, delivery events.Delivery) {
	if !r.settleOnAck {
		return
	}
	id := delivery.Event.ID
	r.mu.Lock()
	_, held := r.inflight[id]
	r.mu.Unlock()
	if !held {
		return
	}

	err := r.outbox.MarkPublished(ctx, id, time.Now().UTC())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		// Left in flight: the row is republished on the next start, not by this process.
		r.logger.Warn("outbox settle failed", zap.String("event_id", id), zap.Error(err))
		return
	}
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// Wake triggers a flush ahead of the next tick. It never blocks.
func (r *OutboxRelay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run flushes until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Flush publishes one batch of pending rows and returns how many went out.
func (r *OutboxRelay) Flush(ctx context.Context) (int, error) {
	if r.settleOnAck {
		return r.flushUnsettled(ctx)
	}
	published, err := r.outbox.PublishPending(ctx, r.batchSize, func(rec repository.OutboxRecord) error {
		if err := r.dispatcher.Publish(ctx, recordEvent(rec)); err != nil {
			return fmt.Errorf("publish %s: %w", rec.ID, err)
		}
		r.logger.Debug("outbox event published", zap.String("event_id", rec.ID), zap.String("event_type", rec.EventType))
		return nil
	})
	if err != nil {
		return published, fmt.Errorf("flush outbox: %w", err)
	}
	return published, nil
}

func (r *OutboxRelay) flushUnsettled(ctx context.Context) (int, error) {
	records, err := r.outbox.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}

	published := 0
	for _, rec := range records {
		// Held before publishing: the worker may settle the event before Publish returns.
		r.mu.Lock()
		_, held := r.inflight[rec.ID]
		r.inflight[rec.ID] = struct{}{}
		r.mu.Unlock()
		if held {
			continue
		}
		if err := r.dispatcher.Publish(ctx, recordEvent(rec)); err != nil {
			r.mu.Lock()
			delete(r.inflight, rec.ID)
			r.mu.Unlock()
			return published, fmt.Errorf("publish %s: %w", rec.ID, err)
		}
		published++
		r.logger.Debug("outbox event handed to queue", zap.String("event_id", rec.ID), zap.String("event_type", rec.EventType))
	}
	return published, nil
}

func recordEvent(rec repository.OutboxRecord) events.Event {
	return events.Event{
		ID:        rec.ID,
		Type:      events.EventType(rec.EventType),
		TicketID:  rec.AggregateID,
		Timestamp: rec.CreatedAt,
		Payload:   rec.Payload,
	}
}
