package board

import (
	"sync"
	"time"
)

// Kind names a board notification.
type Kind string

const (
	KindBoardLoaded   Kind = "board-loaded"
	KindItemMoved     Kind = "item-moved"
	KindMoveConfirmed Kind = "move-confirmed"
	KindMoveFailed    Kind = "move-failed"
	KindRolledBack    Kind = "item-rolled-back"
	KindItemMerged    Kind = "item-merged"
	KindDetailOpened  Kind = "detail-opened"
	KindDetailClosed  Kind = "detail-closed"
	KindFeedStale     Kind = "feed-stale"
	KindFeedRestored  Kind = "feed-restored"
)

// Notification is published by the store after each state change.
type Notification struct {
	Kind     Kind      `json:"kind"`
	ItemID   int64     `json:"itemId,omitempty"`
	ColumnID string    `json:"columnId,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// broker fans notifications out to subscribers without ever blocking the
// publisher; a subscriber whose buffer is full misses the notification.
type broker struct {
	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[chan Notification]struct{})}
}

func (b *broker) subscribe(buf int) chan Notification {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Notification, buf)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broker) unsubscribe(ch chan Notification) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *broker) notify(n Notification) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
	b.mu.Unlock()
}
