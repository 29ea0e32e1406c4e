package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPollTimeout        = time.Second
	defaultRedisVisibility  = 5 * time.Minute
	undecodableDeliveryNote = "undecodable delivery"
)

// reclaimScript moves one in-flight entry back to pending if it is still held, and drops
// its lease either way. KEYS: processing, pending, leases. ARGV: raw entry.
var reclaimScript = redis.NewScript(`
local moved = redis.call('LREM', KEYS[1], 1, ARGV[1])
if moved > 0 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
end
redis.call('ZREM', KEYS[3], ARGV[1])
return moved
`)

// RedisQueue keeps deliveries in Redis lists so they survive restarts and can be shared
// by several service replicas. Producers LPUSH onto pending. Consumers BLMOVE the oldest
// entry into processing and lease it; Ack removes it. Reclaim pushes entries whose lease
// expired back onto the consuming end of pending, so a consumer that crashed mid-delivery
// does not lose the event.
type RedisQueue struct {
	client        *redis.Client
	pendingKey    string
	processingKey string
	leasesKey     string
	deadKey       string
	visibility    time.Duration
	now           func() time.Time
}

// NewRedisQueue creates a queue under prefix, e.g. "triage" → "triage:pending",
// "triage:processing", "triage:leases", "triage:dead". visibility bounds how long a
// dequeued delivery may stay unacknowledged before Reclaim hands it out again.
func NewRedisQueue(client *redis.Client, prefix string, visibility time.Duration) *RedisQueue {
	if visibility <= 0 {
		visibility = defaultRedisVisibility
	}
	return &RedisQueue{
		client:        client,
		pendingKey:    prefix + ":pending",
		processingKey: prefix + ":processing",
		leasesKey:     prefix + ":leases",
		deadKey:       prefix + ":dead",
		visibility:    visibility,
		now:           time.Now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	return q.client.LPush(ctx, q.pendingKey, raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		raw, err := q.client.BLMove(ctx, q.pendingKey, q.processingKey, "RIGHT", "LEFT", redisPollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			return Delivery{}, err
		}
		if err := q.client.ZAdd(ctx, q.leasesKey, redis.Z{Score: q.deadline(), Member: raw}).Err(); err != nil {
			// The entry is in processing without a lease; Reclaim leases it on its next pass.
			return Delivery{}, fmt.Errorf("lease delivery: %w", err)
		}

		var d Delivery
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			if dlErr := q.buryRaw(ctx, raw, err); dlErr != nil {
				return Delivery{}, dlErr
			}
			continue
		}
		d.receipt = raw
		return d, nil
	}
}

// Ack drops the in-flight copy of d. Acking twice, or after the lease was reclaimed, is a no-op.
func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	if d.receipt == "" {
		return nil
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, d.receipt)
		pipe.ZRem(ctx, q.leasesKey, d.receipt)
		return nil
	})
	return err
}

// Reclaim returns in-flight deliveries whose lease expired to pending. Entries found in
// processing without a lease (the consumer died between BLMOVE and ZADD) are leased now
// and come back on a later pass.
func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	held, err := q.client.LRange(ctx, q.processingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(held) > 0 {
		members := make([]redis.Z, len(held))
		for i, raw := range held {
			members[i] = redis.Z{Score: q.deadline(), Member: raw}
		}
		if err := q.client.ZAddNX(ctx, q.leasesKey, members...).Err(); err != nil {
			return 0, err
		}
	}

	expired, err := q.client.ZRangeByScore(ctx, q.leasesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	keys := []string{q.processingKey, q.pendingKey, q.leasesKey}
	for _, raw := range expired {
		n, err := reclaimScript.Run(ctx, q.client, keys, raw).Int()
		if err != nil {
			return moved, err
		}
		moved += n
	}
	return moved, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, dl DeadLetter) error {
	raw, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return q.client.LPush(ctx, q.deadKey, raw).Err()
}

// DeadLetters returns up to limit dead letters, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	items, err := q.client.LRange(ctx, q.deadKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(items))
	for _, item := range items {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

// Requeue replays the oldest dead letters first.
func (q *RedisQueue) Requeue(ctx context.Context, limit int) (int, error) {
	moved := 0
	for limit <= 0 || moved < limit {
		item, err := q.client.RPop(ctx, q.deadKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		var dl DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return moved, fmt.Errorf("decode dead letter: %w", err)
		}
		if err := q.Enqueue(ctx, NewDelivery(dl.Delivery.Event, 1)); err != nil {
			_ = q.client.RPush(ctx, q.deadKey, item).Err()
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// buryRaw dead-letters an entry that cannot be decoded, keeping the raw bytes in the reason.
func (q *RedisQueue) buryRaw(ctx context.Context, raw string, cause error) error {
	dl, err := json.Marshal(DeadLetter{
		Reason:   fmt.Sprintf("%s: %v: %s", undecodableDeliveryNote, cause, raw),
		FailedAt: q.now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.deadKey, dl)
		pipe.LRem(ctx, q.processingKey, 1, raw)
		pipe.ZRem(ctx, q.leasesKey, raw)
		return nil
	})
	return err
}

func (q *RedisQueue) deadline() float64 {
	return float64(q.now().Add(q.visibility).UnixMilli())
}
