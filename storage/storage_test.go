package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"lead-board/domain"
)

func newTestSQLite(t *testing.T, pageSize int) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:", pageSize)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func floatPtr(f float64) *float64 { return &f }

func seedItem(id int64, column string, order int) domain.WorkItem {
	item := domain.WorkItem{
		ID:              id,
		ListID:          9000 + id,
		Title:           "Apartamento",
		Order:           order,
		Price:           floatPtr(float64(100000 * id)),
		City:            domain.StringPtr("Curitiba"),
		AcceptsExchange: domain.ExchangeUnknown,
	}
	if column != "" {
		item.ColumnID = domain.StringPtr(column)
	}
	return item
}

var equateEmpty = cmpopts.EquateEmpty()

func TestColumnIDIsStable(t *testing.T) {
	if columnID("Entrada") != columnID("  entrada ") {
		t.Fatalf("column id should ignore case and surrounding spaces")
	}
	if columnID("Entrada") == columnID("Contato") {
		t.Fatalf("different names must not collide")
	}
}

func TestDecodeItemEntity(t *testing.T) {
	at := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	raw, err := encodeItemEntity(domain.WorkItem{
		ID:       42,
		ColumnID: domain.StringPtr("col-a"),
		Order:    3,
		Title:    "Casa",
		History:  []domain.HistoryEntry{{ColumnName: "Entrada", Timestamp: at}},
	}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var ent itemEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		t.Fatalf("unmarshal entity: %v", err)
	}
	if ent.RowKey != "0000000000000000042" || ent.PartitionKey != itemsPartition || ent.ColumnID != "col-a" {
		t.Fatalf("unexpected keys %+v", ent.entityKeys)
	}

	item, err := decodeItemEntity(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.ID != 42 || item.Column() != "col-a" || item.Order != 3 || item.Title != "Casa" {
		t.Fatalf("unexpected item %+v", item)
	}
	if len(item.History) != 1 || !item.History[0].Timestamp.Equal(at) {
		t.Fatalf("unexpected history %+v", item.History)
	}
	if item.AcceptsExchange != domain.ExchangeUnknown {
		t.Fatalf("missing exchange should default to not informed, got %q", item.AcceptsExchange)
	}
}

func TestSQLiteLoadsPlacedItemsAcrossPages(t *testing.T) {
	s := newTestSQLite(t, 2)
	ctx := context.Background()

	cols, err := s.EnsureColumns(ctx, []string{"Entrada", "Contato"})
	if err != nil {
		t.Fatalf("ensure columns: %v", err)
	}
	if len(cols) != 2 || cols[0].Name != "Entrada" || cols[1].Order != 2 {
		t.Fatalf("unexpected columns %+v", cols)
	}
	again, err := s.EnsureColumns(ctx, []string{"Outra"})
	if err != nil || len(again) != 2 {
		t.Fatalf("existing columns must be kept, got %+v %v", again, err)
	}

	a := cols[0].ID
	for _, it := range []domain.WorkItem{
		seedItem(1, a, 3), seedItem(2, a, 1), seedItem(3, a, 2),
		seedItem(4, "", 0), seedItem(5, cols[1].ID, 1),
	} {
		if err := s.UpsertItem(ctx, it); err != nil {
			t.Fatalf("upsert %d: %v", it.ID, err)
		}
	}
	if err := s.Deactivate(ctx, 5); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	items, err := s.LoadItems(ctx)
	if err != nil {
		t.Fatalf("load items: %v", err)
	}
	var ids []int64
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if diff := cmp.Diff([]int64{2, 3, 1}, ids); diff != "" {
		t.Fatalf("unexpected item order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(seedItem(2, a, 1), items[0], equateEmpty); diff != "" {
		t.Fatalf("item did not survive storage (-want +got):\n%s", diff)
	}
}

func TestSQLiteWriteItemPersistsPlacement(t *testing.T) {
	s := newTestSQLite(t, 0)
	ctx := context.Background()
	cols, _ := s.EnsureColumns(ctx, []string{"Entrada", "Contato"})
	if err := s.UpsertItem(ctx, seedItem(1, cols[0].ID, 1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w := domain.ItemWrite{ColumnID: cols[1].ID, Order: 7, History: []domain.HistoryEntry{{ColumnName: "Contato", Timestamp: at}}}
	if err := s.WriteItem(ctx, 1, w); err != nil {
		t.Fatalf("write: %v", err)
	}
	items, err := s.LoadItems(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("load: %v %+v", err, items)
	}
	got := items[0]
	if got.Column() != cols[1].ID || got.Order != 7 || len(got.History) != 1 || got.History[0].ColumnName != "Contato" {
		t.Fatalf("placement not persisted: %+v", got)
	}
	if got.Title != "Apartamento" {
		t.Fatalf("descriptive fields must survive a move, got %+v", got)
	}

	if err := s.WriteItem(ctx, 99, w); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLitePatchItem(t *testing.T) {
	s := newTestSQLite(t, 0)
	ctx := context.Background()
	if err := s.UpsertItem(ctx, seedItem(1, "col-a", 1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var p domain.ItemPatch
	if err := json.Unmarshal([]byte(`{"notas_corretor":"ligar amanhã","preco":null}`), &p); err != nil {
		t.Fatalf("patch: %v", err)
	}
	item, err := s.PatchItem(ctx, 1, p)
	if err != nil {
		t.Fatalf("patch item: %v", err)
	}
	if item.Notes == nil || *item.Notes != "ligar amanhã" || item.Price != nil {
		t.Fatalf("unexpected patched item %+v", item)
	}
	if item.Column() != "col-a" {
		t.Fatalf("descriptive patch must keep placement, got %q", item.Column())
	}

	items, _ := s.LoadItems(ctx)
	if diff := cmp.Diff(item, items[0], equateEmpty); diff != "" {
		t.Fatalf("patch not persisted (-want +got):\n%s", diff)
	}

	if _, err := s.PatchItem(ctx, 2, p); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadBoardWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := LoadBoard(context.Background(), &stubBackend{columnsErr: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
