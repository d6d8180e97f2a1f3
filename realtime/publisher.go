package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lead-board/domain"
	"lead-board/persistence"
)

var lastTimestamp atomic.Int64

// nextTimestamp returns a strictly increasing nanosecond timestamp.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastTimestamp.Load()
		if now <= last {
			now = last + 1
		}
		if lastTimestamp.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Publisher announces item updates on the feed.
type Publisher struct {
	rc      *redis.Client
	channel string
	origin  string
}

// NewPublisher creates a Publisher tagging events with origin.
func NewPublisher(rc *redis.Client, channel, origin string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rc: rc, channel: channel, origin: origin}
}

// Origin returns the session origin stamped on published events.
func (p *Publisher) Origin() string { return p.origin }

// Publish sends patch for itemID and returns the event that was sent.
func (p *Publisher) Publish(ctx context.Context, itemID int64, patch domain.ItemPatch, source string) (domain.ChangeEvent, error) {
	ev := domain.ChangeEvent{
		ID:     uuid.NewString(),
		Type:   domain.EventItemUpdated,
		ItemID: itemID,
		Origin: p.origin,
		Source: source,
		Data:   patch,
		Time:   nextTimestamp(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("encode change event: %w", err)
	}
	if err := p.rc.Publish(ctx, p.channel, data).Err(); err != nil {
		return ev, fmt.Errorf("publish change event: %w", err)
	}
	return ev, nil
}

// PublishingWriter persists through a Writer and then announces the new
// placement so other sessions converge. A failed announcement does not fail
// the write; the record is already stored.
type PublishingWriter struct {
	persistence.Writer
	pub     *Publisher
	onError func(itemID int64, err error)
}

// NewPublishingWriter wraps w. onError may be nil.
func NewPublishingWriter(w persistence.Writer, pub *Publisher, onError func(int64, error)) *PublishingWriter {
	return &PublishingWriter{Writer: w, pub: pub, onError: onError}
}

func (w *PublishingWriter) WriteItem(ctx context.Context, itemID int64, iw domain.ItemWrite) error {
	if err := w.Writer.WriteItem(ctx, itemID, iw); err != nil {
		return err
	}
	if _, err := w.pub.Publish(ctx, itemID, domain.PlacementPatch(iw), domain.SourceBoard); err != nil && w.onError != nil {
		w.onError(itemID, err)
	}
	return nil
}
