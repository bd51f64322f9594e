package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which provider event IDs have already been processed.
// Seen marks the ID and reports whether it was present before the call.
// Dedup is an optimization on top of idempotent transitions, so callers
// treat errors as "not seen".
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// RedisDeduper implements Deduper with SETNX and a TTL, matching the
// provider's redelivery window: after the TTL a redelivered event is applied
// again, which is harmless because transitions are idempotent.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper on the given Redis client. A
// non-positive ttl defaults to 24 hours, comfortably beyond typical provider
// retry schedules.
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, prefix: "billing:event:", ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := d.client.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return !set, nil
}

// MemoryDeduper is an in-process Deduper for tests and single-instance
// deployments. Entries are never evicted; use the Redis implementation for
// anything long-running.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[eventID]; ok {
		return true, nil
	}
	d.seen[eventID] = struct{}{}
	return false, nil
}
