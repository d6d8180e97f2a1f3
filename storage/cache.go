package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"lead-board/domain"
)

const (
	columnsCacheKey = "board:columns"
	itemsCacheKey   = "board:items"
)

// Cache wraps a Backend with Redis-backed caching for bulk reads. Writes go
// straight through and evict the cached items.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadColumns(ctx context.Context) ([]domain.Column, error) {
	var cols []domain.Column
	if c.load(ctx, columnsCacheKey, &cols) {
		return cols, nil
	}
	cols, err := c.base.LoadColumns(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, columnsCacheKey, cols)
	return cols, nil
}

func (c *Cache) LoadItems(ctx context.Context) ([]domain.WorkItem, error) {
	var items []domain.WorkItem
	if c.load(ctx, itemsCacheKey, &items) {
		return items, nil
	}
	items, err := c.base.LoadItems(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, itemsCacheKey, items)
	return items, nil
}

func (c *Cache) WriteItem(ctx context.Context, itemID int64, w domain.ItemWrite) error {
	if err := c.base.WriteItem(ctx, itemID, w); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) PatchItem(ctx context.Context, itemID int64, p domain.ItemPatch) (domain.WorkItem, error) {
	item, err := c.base.PatchItem(ctx, itemID, p)
	if err != nil {
		return domain.WorkItem{}, err
	}
	c.evict(ctx)
	return item, nil
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, itemsCacheKey).Result()
}
