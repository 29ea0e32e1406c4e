package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ticketEvent(t *testing.T, ticketID string) Event {
	t.Helper()
	evt, err := NewEvent(EventTicketCreated, Actor{UserID: "u1"}, TicketCreatedPayload{
		TicketID:    ticketID,
		Title:       "Login broken",
		Description: "Cannot log in since yesterday",
		CreatedBy:   "u1",
	})
	require.NoError(t, err)
	evt.TicketID = ticketID
	return evt
}

func TestEventDecode(t *testing.T) {
	evt := ticketEvent(t, "t1")
	assert.NotEmpty(t, evt.ID)
	assert.JSONEq(t, `{"ticketId":"t1","title":"Login broken","description":"Cannot log in since yesterday","createdBy":"u1"}`, string(evt.Payload))

	var payload TicketCreatedPayload
	require.NoError(t, evt.Decode(&payload))
	assert.Equal(t, "t1", payload.TicketID)

	assert.Error(t, Event{ID: "x"}.Decode(&payload))
}

func TestIsPermanent(t *testing.T) {
	base := errors.New("ticket gone")
	assert.False(t, IsPermanent(base))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.True(t, IsPermanent(errors.Join(errors.New("other"), Permanent(base))))
	assert.ErrorIs(t, Permanent(base), base)
	assert.Nil(t, Permanent(nil))
}

func TestQueueDispatcherDeliver(t *testing.T) {
	queue := NewMemoryQueue(4)
	dispatcher := NewQueueDispatcher(queue)

	var seen []string
	dispatcher.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		seen = append(seen, e.ID)
		return nil
	})

	ctx := context.Background()
	evt := ticketEvent(t, "t1")
	require.NoError(t, dispatcher.Publish(ctx, evt))
	assert.Empty(t, seen, "publish must not run handlers inline")

	delivery, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivery.Attempt)
	require.NoError(t, dispatcher.Deliver(ctx, delivery))
	assert.Equal(t, []string{evt.ID}, seen)

	unhandled := NewDelivery(Event{ID: "e2", Type: EventUserRegistered}, 1)
	assert.NoError(t, dispatcher.Deliver(ctx, unhandled))

	assert.Error(t, dispatcher.Publish(ctx, Event{}))
}

func TestQueueDispatcherDeliverJoinsErrors(t *testing.T) {
	dispatcher := NewQueueDispatcher(NewMemoryQueue(1))
	dispatcher.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		return Permanent(errors.New("not found"))
	})

	err := dispatcher.Deliver(context.Background(), NewDelivery(ticketEvent(t, "t1"), 1))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := queue.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueDeadLetters(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx := context.Background()

	d := NewDelivery(ticketEvent(t, "t1"), 4)
	require.NoError(t, queue.DeadLetter(ctx, DeadLetter{Delivery: d, Reason: "select-moderator: no moderator", FailedAt: time.Now()}))

	dead, err := queue.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "select-moderator: no moderator", dead[0].Reason)

	moved, err := queue.Requeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	replayed, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.Attempt)
	assert.Equal(t, d.Event.ID, replayed.Event.ID)

	dead, err = queue.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "triage", time.Minute), srv
}

func listLen(t *testing.T, q *RedisQueue, key string) int64 {
	t.Helper()
	n, err := q.client.LLen(context.Background(), key).Result()
	require.NoError(t, err)
	return n
}

func TestRedisQueueRoundTripIsFIFO(t *testing.T) {
	queue, srv := newRedisQueue(t)
	ctx := context.Background()

	first := NewDelivery(ticketEvent(t, "t1"), 1)
	second := NewDelivery(ticketEvent(t, "t2"), 2)
	require.NoError(t, queue.Enqueue(ctx, first))
	require.NoError(t, queue.Enqueue(ctx, second))

	items, err := srv.List("triage:pending")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	got, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "t1", got.Event.TicketID)
	assert.JSONEq(t, string(first.Event.Payload), string(got.Event.Payload))

	got, err = queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 2, got.Attempt)
}

func TestRedisQueueDequeueStopsOnCancel(t *testing.T) {
	queue, _ := newRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := queue.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisQueueDeadLettersAndRequeue(t *testing.T) {
	queue, srv := newRedisQueue(t)
	ctx := context.Background()

	older := NewDelivery(ticketEvent(t, "t1"), 4)
	newer := NewDelivery(ticketEvent(t, "t2"), 1)
	require.NoError(t, queue.DeadLetter(ctx, DeadLetter{Delivery: older, Reason: "budget exhausted", FailedAt: time.Now()}))
	require.NoError(t, queue.DeadLetter(ctx, DeadLetter{Delivery: newer, Reason: "fetch-ticket: not found", FailedAt: time.Now()}))

	dead, err := queue.DeadLetters(ctx, 1)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, newer.ID, dead[0].Delivery.ID)

	moved, err := queue.Requeue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	replayed, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.Event.ID, replayed.Event.ID)
	assert.Equal(t, 1, replayed.Attempt)

	remaining, err := srv.List("triage:dead")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestRedisQueueAckReleasesDelivery(t *testing.T) {
	queue, _ := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, NewDelivery(ticketEvent(t, "t1"), 1)))

	got, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), listLen(t, queue, "triage:pending"))
	assert.Equal(t, int64(1), listLen(t, queue, "triage:processing"))

	require.NoError(t, queue.Ack(ctx, got))
	require.NoError(t, queue.Ack(ctx, got))
	assert.Equal(t, int64(0), listLen(t, queue, "triage:processing"))
	leases, err := queue.client.ZCard(ctx, "triage:leases").Result()
	require.NoError(t, err)
	assert.Zero(t, leases)

	queue.now = func() time.Time { return time.Now().Add(time.Hour) }
	moved, err := queue.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestRedisQueueRedeliversUnackedDeliveryAfterLease(t *testing.T) {
	queue, _ := newRedisQueue(t)
	ctx := context.Background()
	sent := NewDelivery(ticketEvent(t, "t1"), 2)
	require.NoError(t, queue.Enqueue(ctx, sent))

	// The consumer takes the delivery and dies without acking.
	_, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	moved, err := queue.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved, "lease still running")

	queue.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	moved, err = queue.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, int64(0), listLen(t, queue, "triage:processing"))

	again, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent.ID, again.ID)
	assert.Equal(t, 2, again.Attempt)
	assert.Equal(t, "t1", again.Event.TicketID)
}

func TestRedisQueueReclaimLeasesOrphanedEntries(t *testing.T) {
	queue, _ := newRedisQueue(t)
	ctx := context.Background()
	raw, err := json.Marshal(NewDelivery(ticketEvent(t, "t1"), 1))
	require.NoError(t, err)
	// Moved into processing but never leased.
	require.NoError(t, queue.client.LPush(ctx, "triage:processing", raw).Err())

	moved, err := queue.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
	leases, err := queue.client.ZCard(ctx, "triage:leases").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), leases)

	queue.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	moved, err = queue.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, int64(1), listLen(t, queue, "triage:pending"))
}

func TestRedisQueueDeadLettersUndecodableEntries(t *testing.T) {
	queue, _ := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, queue.client.LPush(ctx, "triage:pending", "not-json").Err())
	good := NewDelivery(ticketEvent(t, "t2"), 1)
	require.NoError(t, queue.Enqueue(ctx, good))

	got, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.ID, got.ID)

	dead, err := queue.DeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Reason, "not-json")
	assert.Equal(t, int64(1), listLen(t, queue, "triage:processing"))
}
