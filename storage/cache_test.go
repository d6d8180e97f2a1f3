package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"lead-board/domain"
)

type stubBackend struct {
	columns    []domain.Column
	items      []domain.WorkItem
	columnsErr error
	writeErr   error

	loadColumnsCalls int
	loadItemsCalls   int
	writes           int
}

func (s *stubBackend) LoadColumns(context.Context) ([]domain.Column, error) {
	s.loadColumnsCalls++
	return s.columns, s.columnsErr
}

func (s *stubBackend) LoadItems(context.Context) ([]domain.WorkItem, error) {
	s.loadItemsCalls++
	return s.items, nil
}

func (s *stubBackend) WriteItem(context.Context, int64, domain.ItemWrite) error {
	s.writes++
	return s.writeErr
}

func (s *stubBackend) PatchItem(_ context.Context, id int64, p domain.ItemPatch) (domain.WorkItem, error) {
	for _, it := range s.items {
		if it.ID == id {
			p.Apply(&it)
			return it, nil
		}
	}
	return domain.WorkItem{}, ErrNotFound
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheLoadMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &stubBackend{
		columns: []domain.Column{{ID: "a", Name: "Entrada", Order: 1}},
		items:   []domain.WorkItem{seedItem(1, "a", 1)},
	}
	cache := NewCache(base, client, time.Minute)

	for i := 0; i < 2; i++ {
		items, cols, err := LoadBoard(ctx, cache)
		if err != nil {
			t.Fatalf("load board: %v", err)
		}
		if diff := cmp.Diff(base.items, items, equateEmpty); diff != "" {
			t.Fatalf("unexpected items (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(base.columns, cols); diff != "" {
			t.Fatalf("unexpected columns (-want +got):\n%s", diff)
		}
	}
	if base.loadColumnsCalls != 1 || base.loadItemsCalls != 1 {
		t.Fatalf("expected one backend load each, got %d/%d", base.loadColumnsCalls, base.loadItemsCalls)
	}
	if ttl := mr.TTL(itemsCacheKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheWriteEvictsItems(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &stubBackend{items: []domain.WorkItem{seedItem(1, "a", 1)}}
	cache := NewCache(base, client, time.Minute)

	if _, err := cache.LoadItems(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !mr.Exists(itemsCacheKey) {
		t.Fatalf("items should be cached")
	}
	if err := cache.WriteItem(ctx, 1, domain.ItemWrite{ColumnID: "b", Order: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if mr.Exists(itemsCacheKey) {
		t.Fatalf("write should evict cached items")
	}
}

func TestCacheFailedWriteKeepsCache(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &stubBackend{items: []domain.WorkItem{seedItem(1, "a", 1)}, writeErr: errors.New("boom")}
	cache := NewCache(base, client, time.Minute)

	if _, err := cache.LoadItems(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cache.WriteItem(ctx, 1, domain.ItemWrite{ColumnID: "b"}); err == nil {
		t.Fatalf("expected write error")
	}
	if !mr.Exists(itemsCacheKey) {
		t.Fatalf("failed write must not evict")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	if err := mr.Set(columnsCacheKey, "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	base := &stubBackend{columns: []domain.Column{{ID: "a", Name: "Entrada"}}}
	cols, err := NewCache(base, client, time.Minute).LoadColumns(ctx)
	if err != nil || len(cols) != 1 || base.loadColumnsCalls != 1 {
		t.Fatalf("expected fallback to backend, got %+v %v calls=%d", cols, err, base.loadColumnsCalls)
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	base := &stubBackend{items: []domain.WorkItem{seedItem(1, "a", 1)}}
	cache := NewCache(base, nil, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := cache.LoadItems(context.Background()); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if base.loadItemsCalls != 2 {
		t.Fatalf("expected every load to hit the backend, got %d", base.loadItemsCalls)
	}
}
