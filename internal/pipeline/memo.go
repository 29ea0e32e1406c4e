package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Memo remembers step outputs per run key so a redelivered event replays succeeded
// steps instead of executing them again.
//
// Store keeps the first value written for a key. It reports false when another writer
// got there first; callers then Load the stored value and continue with it.
type Memo interface {
	Load(ctx context.Context, runKey, step string, dst any) (bool, error)
	Store(ctx context.Context, runKey, step string, value any) (bool, error)
}

type noMemo struct{}

func (noMemo) Load(context.Context, string, string, any) (bool, error)  { return false, nil }
func (noMemo) Store(context.Context, string, string, any) (bool, error) { return true, nil }

// NoMemo disables memoization; every delivery re-runs every step.
func NoMemo() Memo { return noMemo{} }

// MemoryMemo is a process-local memo. Entries expire after ttl.
type MemoryMemo struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoEntry
}

type memoEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryMemo creates a memo keeping entries for ttl.
func NewMemoryMemo(ttl time.Duration) *MemoryMemo {
	return &MemoryMemo{ttl: ttl, now: time.Now, entries: make(map[string]memoEntry)}
}

func (m *MemoryMemo) Load(_ context.Context, runKey, step string, dst any) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[memoKey(runKey, step)]
	if ok && m.ttl > 0 && m.now().After(entry.expiresAt) {
		delete(m.entries, memoKey(runKey, step))
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(entry.value, dst)
}

func (m *MemoryMemo) Store(_ context.Context, runKey, step string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("memo: marshal %s: %w", step, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoKey(runKey, step)
	if entry, exists := m.entries[key]; exists && (m.ttl <= 0 || !m.now().After(entry.expiresAt)) {
		return false, nil
	}
	m.entries[key] = memoEntry{value: raw, expiresAt: m.now().Add(m.ttl)}
	return true, nil
}

// RedisMemo shares step outputs across replicas. Store is SET NX: the first writer wins
// and a losing writer is told so, which lets concurrent runs of one event adopt the same
// value.
type RedisMemo struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMemo creates a memo under prefix.
func NewRedisMemo(client *redis.Client, prefix string, ttl time.Duration) *RedisMemo {
	return &RedisMemo{client: client, prefix: prefix, ttl: ttl}
}

func (m *RedisMemo) Load(ctx context.Context, runKey, step string, dst any) (bool, error) {
	raw, err := m.client.Get(ctx, m.key(runKey, step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *RedisMemo) Store(ctx context.Context, runKey, step string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("memo: marshal %s: %w", step, err)
	}
	return m.client.SetNX(ctx, m.key(runKey, step), raw, m.ttl).Result()
}

func (m *RedisMemo) key(runKey, step string) string {
	return m.prefix + ":memo:" + memoKey(runKey, step)
}

func memoKey(runKey, step string) string {
	return runKey + ":" + step
}
