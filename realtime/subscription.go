// Package realtime carries item updates between sessions over a Redis
// pub/sub channel.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"lead-board/domain"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "board-items"

// DefaultReconnectDelay is the pause between subscription attempts.
const DefaultReconnectDelay = time.Second

var errMalformedEvent = errors.New("malformed change event")

// Merger receives remote item updates.
type Merger interface {
	ApplyRemoteMerge(itemID int64, patch domain.ItemPatch) bool
}

// Deduper reports whether an event id is seen for the first time.
type Deduper interface {
	Add(ctx context.Context, scope, key string) (bool, error)
}

// FeedObserver is told when the feed drops or comes back.
type FeedObserver interface {
	FeedStale()
	FeedRestored()
}

// Subscriber applies change events from the feed to a Merger. Events that
// this session published itself are skipped.
type Subscriber struct {
	rc       *redis.Client
	channel  string
	origin   string
	merger   Merger
	dedupe   Deduper
	observer FeedObserver
	delay    time.Duration
	logger   *log.Logger

	connected atomic.Bool
	applied   atomic.Int64
}

// SubscriberConfig holds optional Subscriber settings.
type SubscriberConfig struct {
	Channel        string
	Origin         string
	ReconnectDelay time.Duration
	Deduper        Deduper
	Observer       FeedObserver
	Logger         *log.Logger
}

// NewSubscriber builds a Subscriber for rc.
func NewSubscriber(rc *redis.Client, merger Merger, cfg SubscriberConfig) *Subscriber {
	s := &Subscriber{
		rc:       rc,
		channel:  cfg.Channel,
		origin:   cfg.Origin,
		merger:   merger,
		dedupe:   cfg.Deduper,
		observer: cfg.Observer,
		delay:    cfg.ReconnectDelay,
		logger:   cfg.Logger,
	}
	if s.channel == "" {
		s.channel = DefaultChannel
	}
	if s.delay <= 0 {
		s.delay = DefaultReconnectDelay
	}
	if s.logger == nil {
		s.logger = log.StandardLogger()
	}
	return s
}

// Connected reports whether the subscription is currently live.
func (s *Subscriber) Connected() bool { return s.connected.Load() }

// Applied returns the number of events merged so far.
func (s *Subscriber) Applied() int64 { return s.applied.Load() }

// Run subscribes and applies events until ctx is done. When the connection
// drops the feed is reported stale and the subscription is re-established
// after the reconnect delay. It always returns ctx.Err().
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rc.Subscribe(ctx, s.channel)
	defer sub.Close()
	// Receive does not watch ctx; closing the subscription unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer stop()

	for {
		msg, err := sub.Receive(ctx)
		if ctx.Err() != nil {
			s.connected.Store(false)
			return ctx.Err()
		}
		if err != nil {
			if s.connected.Load() {
				s.logger.WithError(err).WithField("channel", s.channel).Error("feed interrupted, reconnecting")
			} else {
				s.logger.WithError(err).WithField("channel", s.channel).Warn("subscribe failed, retrying")
			}
			s.setConnected(false)
			if !sleep(ctx, s.delay) {
				s.connected.Store(false)
				return ctx.Err()
			}
			continue
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				s.setConnected(true)
			}
		case *redis.Message:
			s.setConnected(true)
			s.handle(ctx, []byte(m.Payload))
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	ev, err := Decode(payload)
	if err != nil {
		s.logger.WithError(err).Warn("unable to parse change event")
		return
	}
	if s.origin != "" && ev.Origin == s.origin {
		return
	}
	if s.dedupe != nil && ev.ID != "" {
		fresh, err := s.dedupe.Add(ctx, s.scope(), ev.ID)
		if err != nil {
			s.logger.WithError(err).WithField("event", ev.ID).Warn("dedupe lookup failed, applying event")
		} else if !fresh {
			s.logger.WithField("event", ev.ID).Debug("duplicate change event skipped")
			return
		}
	}
	if s.merger.ApplyRemoteMerge(ev.ItemID, ev.Data) {
		s.applied.Add(1)
	}
}

func (s *Subscriber) scope() string {
	if s.origin == "" {
		return s.channel
	}
	return s.channel + ":" + s.origin
}

func (s *Subscriber) setConnected(v bool) {
	was := s.connected.Swap(v)
	if was == v || s.observer == nil {
		return
	}
	if v {
		s.observer.FeedRestored()
	} else {
		s.observer.FeedStale()
	}
}

// Decode parses and validates a feed payload.
func Decode(payload []byte) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if ev.Type != "" && ev.Type != domain.EventItemUpdated {
		return ev, fmt.Errorf("%w: unsupported type %q", errMalformedEvent, ev.Type)
	}
	if ev.ItemID <= 0 {
		return ev, fmt.Errorf("%w: missing item id", errMalformedEvent)
	}
	return ev, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
