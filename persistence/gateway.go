// Package persistence writes board moves to the remote store, one write at a
// time per item.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lead-board/domain"
)

// DefaultWriteTimeout bounds a single write when no timeout is configured.
const DefaultWriteTimeout = 10 * time.Second

var (
	// ErrClosed is reported for writes scheduled after Close.
	ErrClosed = errors.New("persistence gateway closed")
	// ErrDiscarded is reported for writes dropped because an earlier write
	// for the same item failed.
	ErrDiscarded = errors.New("write discarded after earlier failure")
	// ErrTimeout wraps writes that exceeded the write timeout.
	ErrTimeout = errors.New("write timed out")
)

// Writer is the remote store contract used by the gateway.
type Writer interface {
	WriteItem(ctx context.Context, itemID int64, w domain.ItemWrite) error
}

// Request is one scheduled write together with the placement to restore if
// it fails.
type Request struct {
	ItemID int64
	// Seq numbers the caller's writes for one item in scheduling order.
	Seq      uint64
	Write    domain.ItemWrite
	Snapshot domain.Placement
}

// Result reports how a request settled.
type Result struct {
	Request   Request
	Err       error
	Discarded bool
	// Dropped counts the queued writes for the item discarded because this
	// one failed. They are delivered, as Discarded, after this result.
	Dropped  int
	Duration time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-write timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithTracer sets the tracer used for write spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		if t != nil {
			g.tracer = t
		}
	}
}

type pending struct {
	req  Request
	done func(Result)
}

// Gateway serializes writes per item. At most one write per item is in
// flight; later writes for the item wait in FIFO order until the previous
// one has settled and its callback has returned. Writes for different items
// run concurrently.
type Gateway struct {
	writer  Writer
	timeout time.Duration
	logger  *log.Logger
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[int64][]pending
	closed bool
	wg     sync.WaitGroup
}

// New creates a Gateway writing through w.
func New(w Writer, opts ...Option) *Gateway {
	if w == nil {
		panic("persistence.New: writer is nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		writer:  w,
		timeout: DefaultWriteTimeout,
		logger:  log.StandardLogger(),
		tracer:  otel.Tracer("lead-board/persistence"),
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[int64][]pending),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Schedule queues req behind any unsettled write for the same item. done is
// called exactly once, from a gateway goroutine.
func (g *Gateway) Schedule(req Request, done func(Result)) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		deliver(done, Result{Request: req, Err: ErrClosed})
		return
	}
	q := append(g.queues[req.ItemID], pending{req: req, done: done})
	g.queues[req.ItemID] = q
	start := len(q) == 1
	if start {
		g.wg.Add(1)
	}
	g.mu.Unlock()
	if start {
		go g.drain(req.ItemID)
	}
}

// Pending returns the number of unsettled writes for itemID.
func (g *Gateway) Pending(itemID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queues[itemID])
}

func (g *Gateway) drain(itemID int64) {
	defer g.wg.Done()
	for {
		g.mu.Lock()
		head := g.queues[itemID][0]
		g.mu.Unlock()

		res := g.write(head.req)

		var discarded []pending
		if res.Err != nil {
			g.mu.Lock()
			discarded = append(discarded, g.queues[itemID][1:]...)
			g.queues[itemID] = g.queues[itemID][:1]
			g.mu.Unlock()
			res.Dropped = len(discarded)
		}

		// Callbacks run while the head is still queued, so a write scheduled
		// from the outcome lines up behind it.
		deliver(head.done, res)
		for _, p := range discarded {
			deliver(p.done, Result{Request: p.req, Err: ErrDiscarded, Discarded: true})
		}

		g.mu.Lock()
		rest := g.queues[itemID][1:]
		if len(rest) == 0 {
			delete(g.queues, itemID)
			g.mu.Unlock()
			return
		}
		g.queues[itemID] = rest
		g.mu.Unlock()
	}
}

func (g *Gateway) write(req Request) Result {
	ctx, cancel := context.WithTimeout(g.ctx, g.timeout)
	defer cancel()
	ctx, span := g.tracer.Start(ctx, "persistence.WriteItem", trace.WithAttributes(
		attribute.Int64("item.id", req.ItemID),
		attribute.String("column.id", req.Write.ColumnID),
		attribute.Int("item.order", req.Write.Order),
	))
	defer span.End()

	start := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- g.writer.WriteItem(ctx, req.ItemID, req.Write) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrTimeout, g.timeout, err)
	}
	res := Result{Request: req, Err: err, Duration: time.Since(start)}

	entry := g.logger.WithFields(log.Fields{
		"item":     req.ItemID,
		"column":   req.Write.ColumnID,
		"order":    req.Write.Order,
		"duration": res.Duration,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.WithError(err).Warn("item write failed")
		return res
	}
	span.SetStatus(codes.Ok, "")
	entry.Debug("item write persisted")
	return res
}

func deliver(done func(Result), res Result) {
	if done != nil {
		done(res)
	}
}

// Close stops accepting writes and waits for queued ones to settle. When ctx
// expires first, in-flight writes are cancelled and reported as failures.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-waited
		return ctx.Err()
	}
}
