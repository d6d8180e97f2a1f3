package domain

// EventItemUpdated is the only event type carried on the board feed.
const EventItemUpdated = "item-updated"

// Event sources.
const (
	SourceWorker    = "worker"
	SourceBoard     = "board"
	SourceSidePanel = "side-panel"
)

// ChangeEvent is a realtime feed message announcing a partial item update.
type ChangeEvent struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	ItemID int64     `json:"itemId"`
	Origin string    `json:"origin,omitempty"`
	Source string    `json:"source,omitempty"`
	Data   ItemPatch `json:"data"`
	Time   int64     `json:"time"`
}
