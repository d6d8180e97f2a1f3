package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper records seen event ids in Redis with a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(scope, key string) string {
	return fmt.Sprintf("seen:%s:%s", scope, key)
}

// Add records key under scope and reports whether it was new.
func (r *RedisDeduper) Add(ctx context.Context, scope, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(scope, key), 1, r.ttl).Result()
}

// MemoryDeduper keeps the most recent ids in process. Used when no Redis
// cache is configured besides the feed itself.
type MemoryDeduper struct {
	mu    sync.Mutex
	limit int
	seen  map[string]struct{}
	ring  []string
	next  int
}

// NewMemoryDeduper remembers up to limit ids.
func NewMemoryDeduper(limit int) *MemoryDeduper {
	if limit <= 0 {
		limit = 4096
	}
	return &MemoryDeduper{limit: limit, seen: make(map[string]struct{}, limit), ring: make([]string, limit)}
}

func (m *MemoryDeduper) Add(_ context.Context, scope, key string) (bool, error) {
	k := scope + ":" + key
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[k]; ok {
		return false, nil
	}
	if old := m.ring[m.next]; old != "" {
		delete(m.seen, old)
	}
	m.ring[m.next] = k
	m.next = (m.next + 1) % m.limit
	m.seen[k] = struct{}{}
	return true, nil
}
