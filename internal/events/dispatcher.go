package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// QueueDispatcher publishes by enqueuing a first-attempt delivery. Handlers run later,
// when a worker hands the delivery to Deliver.
type QueueDispatcher struct {
	queue Queue

	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
}

// NewQueueDispatcher creates a dispatcher on top of queue.
func NewQueueDispatcher(queue Queue) *QueueDispatcher {
	return &QueueDispatcher{
		queue:     queue,
		listeners: make(map[EventType][]EventHandler),
	}
}

// Publish enqueues the event for asynchronous handling.
func (d *QueueDispatcher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" || event.Type == "" {
		return errors.New("publish: event id and type are required")
	}
	return d.queue.Enqueue(ctx, NewDelivery(event, 1))
}

// Subscribe registers a handler for the given event type.
func (d *QueueDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// Deliver runs every handler subscribed to the delivery's event type and joins their errors.
// An event nobody listens to is treated as handled.
func (d *QueueDispatcher) Deliver(ctx context.Context, delivery Delivery) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[delivery.Event.Type]...)
	d.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, delivery.Event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("deliver %s %s: %w", delivery.Event.Type, delivery.Event.ID, errors.Join(errs...))
}

// Queue exposes the underlying queue to workers.
func (d *QueueDispatcher) Queue() Queue {
	return d.queue
}
