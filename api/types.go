package api

import (
	"context"

	"lead-board/board"
	"lead-board/domain"
	"lead-board/view"
)

// Board is the slice of *board.Store the handlers use.
type Board interface {
	Columns() []domain.Column
	Item(id int64) (domain.WorkItem, bool)
	Items() []domain.WorkItem
	Page(columnID string, f view.Filter, order view.Sort, limit int) view.Page[domain.WorkItem]
	MoveItem(itemID int64, target string) (domain.Placement, error)
	ApplyRemoteMerge(itemID int64, patch domain.ItemPatch) bool
	Stale() bool
	Subscribe(buf int) (<-chan board.Notification, func())
}

// Patcher persists side-panel edits. storage.Backend implements it.
type Patcher interface {
	PatchItem(ctx context.Context, itemID int64, p domain.ItemPatch) (domain.WorkItem, error)
}

// Publisher announces edits to other sessions. May be nil.
type Publisher interface {
	Publish(ctx context.Context, itemID int64, patch domain.ItemPatch, source string) (domain.ChangeEvent, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
