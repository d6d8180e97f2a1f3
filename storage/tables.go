package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"lead-board/domain"
)

const (
	itemsPartition   = "imoveis"
	columnsPartition = "kanban"

	edmInt32 = "Edm.Int32"
)

// TablesConfig names the Azure resources used by Tables.
type TablesConfig struct {
	ConnectionString string
	ItemsTable       string
	ColumnsTable     string
	// EventsQueue receives an item-moved message per persisted move. Empty
	// disables it.
	EventsQueue string
	PageSize    int
}

// Tables stores the board in Azure Table Storage.
type Tables struct {
	itemTable   *aztables.Client
	columnTable *aztables.Client
	// writeTable shares the item table but never retries: a failed move
	// must surface to the caller, which rolls back instead.
	writeTable *aztables.Client
	events     *azqueue.QueueClient
	pageSize   int32
	now        func() time.Time
}

// NewTables creates a Tables backend from cfg.
func NewTables(cfg TablesConfig) (*Tables, error) {
	if cfg.ConnectionString == "" || cfg.ItemsTable == "" || cfg.ColumnsTable == "" {
		return nil, errors.New("storage: connection string and table names are required")
	}
	readOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, &readOptions)
	if err != nil {
		return nil, err
	}
	writeOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{Retry: policy.RetryOptions{MaxRetries: -1}},
	}
	writeSvc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, &writeOptions)
	if err != nil {
		return nil, err
	}
	t := &Tables{
		itemTable:   svc.NewClient(cfg.ItemsTable),
		columnTable: svc.NewClient(cfg.ColumnsTable),
		writeTable:  writeSvc.NewClient(cfg.ItemsTable),
		pageSize:    int32(cfg.PageSize),
		now:         time.Now,
	}
	if t.pageSize <= 0 {
		t.pageSize = DefaultPageSize
	}
	if cfg.EventsQueue != "" {
		queueOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute,
					RetryDelay:    time.Second,
					MaxRetryDelay: time.Minute,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.EventsQueue, &queueOptions)
		if err != nil {
			return nil, err
		}
		t.events = q
	}
	return t, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type itemEntity struct {
	entityKeys
	ColumnID  string `json:"ColumnId"`
	Order     int    `json:"Order"`
	OrderType string `json:"Order@odata.type,omitempty"`
	Active    bool   `json:"Active"`
	History   string `json:"History"`
	Data      string `json:"Data"`
}

type placementUpdate struct {
	entityKeys
	ColumnID  string `json:"ColumnId"`
	Order     int    `json:"Order"`
	OrderType string `json:"Order@odata.type"`
	History   string `json:"History"`
}

type columnEntity struct {
	entityKeys
	Name      string `json:"Name"`
	Order     int    `json:"Order"`
	OrderType string `json:"Order@odata.type,omitempty"`
}

// movedMessage is enqueued on the events queue after each persisted move.
type movedMessage struct {
	Type     string `json:"type"`
	ItemID   int64  `json:"itemId"`
	ColumnID string `json:"columnId"`
	Order    int    `json:"order"`
	Time     int64  `json:"time"`
}

func itemRowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func parseItemRowKey(rk string) (int64, error) {
	return strconv.ParseInt(rk, 10, 64)
}

func decodeItemEntity(raw []byte) (domain.WorkItem, error) {
	var ent itemEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		return domain.WorkItem{}, err
	}
	id, err := parseItemRowKey(ent.RowKey)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("item row key %q: %w", ent.RowKey, err)
	}
	return decodeItem(id, ent.ColumnID, ent.Order, ent.History, ent.Data)
}

func encodeItemEntity(item domain.WorkItem, active bool) ([]byte, error) {
	data, err := encodeDescriptive(item)
	if err != nil {
		return nil, err
	}
	history, err := encodeHistory(item.History)
	if err != nil {
		return nil, err
	}
	return json.Marshal(itemEntity{
		entityKeys: entityKeys{PartitionKey: itemsPartition, RowKey: itemRowKey(item.ID)},
		ColumnID:   item.Column(),
		Order:      item.Order,
		OrderType:  edmInt32,
		Active:     active,
		History:    history,
		Data:       data,
	})
}

// LoadColumns returns every column ordered for display.
func (t *Tables) LoadColumns(ctx context.Context) ([]domain.Column, error) {
	filter := "PartitionKey eq '" + columnsPartition + "'"
	pager := t.columnTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	cols := []domain.Column{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent columnEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			cols = append(cols, domain.Column{ID: ent.RowKey, Name: ent.Name, Order: ent.Order})
		}
	}
	sortColumns(cols)
	return cols, nil
}

// LoadItems pages through the active, placed items pageSize at a time.
func (t *Tables) LoadItems(ctx context.Context) ([]domain.WorkItem, error) {
	filter := "PartitionKey eq '" + itemsPartition + "' and Active eq true and ColumnId ne ''"
	top := t.pageSize
	pager := t.itemTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	items := []domain.WorkItem{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			item, err := decodeItemEntity(e)
			if err != nil {
				log.WithError(err).Warn("skipping undecodable item entity")
				continue
			}
			items = append(items, item)
		}
	}
	sortByRank(items)
	return items, nil
}

// WriteItem merges the new placement into the item entity. The request is
// attempted once.
func (t *Tables) WriteItem(ctx context.Context, itemID int64, w domain.ItemWrite) error {
	history, err := encodeHistory(w.History)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(placementUpdate{
		entityKeys: entityKeys{PartitionKey: itemsPartition, RowKey: itemRowKey(itemID)},
		ColumnID:   w.ColumnID,
		Order:      w.Order,
		OrderType:  edmInt32,
		History:    history,
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = t.writeTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return mapResponseError(itemID, err)
	}
	t.enqueueMoved(ctx, itemID, w)
	return nil
}

func (t *Tables) enqueueMoved(ctx context.Context, itemID int64, w domain.ItemWrite) {
	if t.events == nil {
		return
	}
	data, err := json.Marshal(movedMessage{Type: "item-moved", ItemID: itemID, ColumnID: w.ColumnID, Order: w.Order, Time: t.now().UnixNano()})
	if err != nil {
		return
	}
	if _, err := t.events.EnqueueMessage(ctx, string(data), nil); err != nil {
		log.WithError(err).WithField("item", itemID).Warn("enqueue item-moved event failed")
	}
}

// PatchItem applies p to the stored item using optimistic concurrency.
func (t *Tables) PatchItem(ctx context.Context, itemID int64, p domain.ItemPatch) (domain.WorkItem, error) {
	resp, err := t.itemTable.GetEntity(ctx, itemsPartition, itemRowKey(itemID), nil)
	if err != nil {
		return domain.WorkItem{}, mapResponseError(itemID, err)
	}
	var ent itemEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.WorkItem{}, err
	}
	item, err := decodeItem(itemID, ent.ColumnID, ent.Order, ent.History, ent.Data)
	if err != nil {
		return domain.WorkItem{}, err
	}
	p.Apply(&item)
	payload, err := encodeItemEntity(item, ent.Active)
	if err != nil {
		return domain.WorkItem{}, err
	}
	et := resp.ETag
	_, err = t.writeTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return domain.WorkItem{}, mapResponseError(itemID, err)
	}
	return item, nil
}

// UpsertItem stores item as active. Used for seeding.
func (t *Tables) UpsertItem(ctx context.Context, item domain.WorkItem) error {
	payload, err := encodeItemEntity(item, true)
	if err == nil {
		_, err = t.itemTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// EnsureColumns adds the named columns when the column table is empty and
// returns the columns present afterwards.
func (t *Tables) EnsureColumns(ctx context.Context, names []string) ([]domain.Column, error) {
	existing, err := t.LoadColumns(ctx)
	if err != nil || len(existing) > 0 {
		return existing, err
	}
	for i, name := range names {
		payload, err := json.Marshal(columnEntity{
			entityKeys: entityKeys{PartitionKey: columnsPartition, RowKey: columnID(name)},
			Name:       name,
			Order:      i + 1,
			OrderType:  edmInt32,
		})
		if err != nil {
			return nil, err
		}
		if _, err := t.columnTable.UpsertEntity(ctx, payload, nil); err != nil {
			return nil, err
		}
	}
	return t.LoadColumns(ctx)
}

func mapResponseError(itemID int64, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("item %d: %w", itemID, ErrNotFound)
		case http.StatusPreconditionFailed:
			return fmt.Errorf("item %d: %w", itemID, ErrConcurrencyConflict)
		}
	}
	return err
}
