// Package storage loads and persists board data.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"lead-board/domain"
)

// DefaultPageSize is the bulk-load batch size.
const DefaultPageSize = 1000

var (
	// ErrNotFound is returned when the item does not exist in the store.
	ErrNotFound = errors.New("item not found")
	// ErrConcurrencyConflict indicates that the underlying storage rejected
	// an update because the record changed since it was read.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Backend is the remote store contract.
type Backend interface {
	LoadColumns(ctx context.Context) ([]domain.Column, error)
	// LoadItems returns active items placed in a column, ordered by rank.
	LoadItems(ctx context.Context) ([]domain.WorkItem, error)
	WriteItem(ctx context.Context, itemID int64, w domain.ItemWrite) error
	PatchItem(ctx context.Context, itemID int64, p domain.ItemPatch) (domain.WorkItem, error)
}

// LoadBoard fetches columns and items from b.
func LoadBoard(ctx context.Context, b Backend) ([]domain.WorkItem, []domain.Column, error) {
	cols, err := b.LoadColumns(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load columns: %w", err)
	}
	items, err := b.LoadItems(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load items: %w", err)
	}
	return items, cols, nil
}

func sortByRank(items []domain.WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].ID < items[j].ID
	})
}

func sortColumns(cols []domain.Column) {
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].Order != cols[j].Order {
			return cols[i].Order < cols[j].Order
		}
		return cols[i].ID < cols[j].ID
	})
}

// encodeDescriptive serialises every field except placement, which the
// backends keep in dedicated columns.
func encodeDescriptive(item domain.WorkItem) (string, error) {
	item.ColumnID = nil
	item.Order = 0
	item.History = nil
	data, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeItem(id int64, column string, order int, history, data string) (domain.WorkItem, error) {
	var item domain.WorkItem
	if data != "" {
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return item, fmt.Errorf("decode item %d: %w", id, err)
		}
	}
	item.ID = id
	item.Order = order
	item.ColumnID = nil
	if column != "" {
		item.ColumnID = domain.StringPtr(column)
	}
	item.History = nil
	if history != "" {
		if err := json.Unmarshal([]byte(history), &item.History); err != nil {
			return item, fmt.Errorf("decode history of item %d: %w", id, err)
		}
	}
	if item.AcceptsExchange == "" {
		item.AcceptsExchange = domain.ExchangeUnknown
	}
	return item, nil
}

func encodeHistory(h []domain.HistoryEntry) (string, error) {
	if h == nil {
		h = []domain.HistoryEntry{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// columnID derives a stable id from a column name so provisioning the same
// names twice yields the same columns.
func columnID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(strings.TrimSpace(name)))).String()
}
