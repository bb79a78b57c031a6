package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeySet records dedup keys until they expire.
type KeySet interface {
	// Add inserts key with the given expiry and reports whether it was absent.
	Add(ctx context.Context, key string, expiresAt time.Time, now time.Time) (bool, error)
	// Purge drops keys that expired at or before now.
	Purge(ctx context.Context, now time.Time) error
}

// MemoryKeySet is a process-local KeySet with lazy expiry.
type MemoryKeySet struct {
	keys map[string]time.Time
}

// NewMemoryKeySet returns an empty in-memory key set.
func NewMemoryKeySet() *MemoryKeySet {
	return &MemoryKeySet{keys: make(map[string]time.Time)}
}

func (m *MemoryKeySet) Add(_ context.Context, key string, expiresAt, now time.Time) (bool, error) {
	if exp, ok := m.keys[key]; ok && exp.After(now) {
		return false, nil
	}
	m.keys[key] = expiresAt
	return true, nil
}

func (m *MemoryKeySet) Purge(_ context.Context, now time.Time) error {
	for key, exp := range m.keys {
		if !exp.After(now) {
			delete(m.keys, key)
		}
	}
	return nil
}

// Len reports how many keys are held, expired or not.
func (m *MemoryKeySet) Len() int {
	return len(m.keys)
}

// RedisKeySet shares dedup keys across service instances. Redis expires the keys itself.
type RedisKeySet struct {
	client *redis.Client
	prefix string
}

// NewRedisKeySet stores keys under prefix.
func NewRedisKeySet(client *redis.Client, prefix string) *RedisKeySet {
	return &RedisKeySet{client: client, prefix: prefix}
}

func (r *RedisKeySet) Add(ctx context.Context, key string, expiresAt, now time.Time) (bool, error) {
	ttl := expiresAt.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := r.client.SetNX(ctx, r.prefix+key, now.UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisKeySet) Purge(context.Context, time.Time) error {
	return nil
}
