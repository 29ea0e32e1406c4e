package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delivery is one attempt at handing an event to its subscribers.
type Delivery struct {
	ID      string `json:"id"`
	Event   Event  `json:"event"`
	Attempt int    `json:"attempt"`

	// receipt identifies the in-flight copy held by the queue until Ack.
	receipt string
}

// NewDelivery wraps event for the given attempt number.
func NewDelivery(event Event, attempt int) Delivery {
	return Delivery{ID: uuid.NewString(), Event: event, Attempt: attempt}
}

// DeadLetter is a delivery the worker gave up on.
type DeadLetter struct {
	Delivery Delivery  `json:"delivery"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Queue moves deliveries between publishers and workers.
type Queue interface {
	Enqueue(ctx context.Context, d Delivery) error
	// Dequeue blocks until a delivery is available or ctx is done. The delivery stays
	// in flight until Ack; a consumer that dies before acking leaves it to be reclaimed.
	Dequeue(ctx context.Context) (Delivery, error)
	// Ack releases an in-flight delivery once its outcome has been recorded elsewhere
	// (done, re-enqueued or dead-lettered).
	Ack(ctx context.Context, d Delivery) error
	DeadLetter(ctx context.Context, dl DeadLetter) error
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	// Requeue moves up to limit dead letters back to pending with attempt reset to 1.
	Requeue(ctx context.Context, limit int) (int, error)
}

// Reclaimer is implemented by queues whose in-flight deliveries outlive a consumer.
// Reclaim returns expired in-flight deliveries to pending and reports how many moved.
type Reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

// MemoryQueue is a process-local queue backed by a buffered channel. Nothing in it
// survives the process, so durability comes from the outbox: see worker.OutboxRelay.SettleOnAck.
type MemoryQueue struct {
	pending chan Delivery

	mu   sync.Mutex
	dead []DeadLetter
}

// NewMemoryQueue creates a queue holding up to size pending deliveries.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{pending: make(chan Delivery, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, d Delivery) error {
	select {
	case q.pending <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Delivery, error) {
	select {
	case d := <-q.pending:
		return d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(context.Context, Delivery) error { return nil }

func (q *MemoryQueue) DeadLetter(_ context.Context, dl DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, dl)
	return nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, n)
	copy(out, q.dead[:n])
	return out, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, limit int) (int, error) {
	q.mu.Lock()
	n := len(q.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	batch := append([]DeadLetter(nil), q.dead[:n]...)
	q.dead = q.dead[n:]
	q.mu.Unlock()

	for i, dl := range batch {
		if err := q.Enqueue(ctx, NewDelivery(dl.Delivery.Event, 1)); err != nil {
			q.mu.Lock()
			q.dead = append(batch[i:], q.dead...)
			q.mu.Unlock()
			return i, err
		}
	}
	return n, nil
}
