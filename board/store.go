// Package board holds the canonical board state: columns, the items placed
// in them, and the optimistic move and merge paths that change it.
package board

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lead-board/domain"
	"lead-board/persistence"
	"lead-board/view"
)

var (
	ErrUnknownItem   = errors.New("unknown item")
	ErrUnknownColumn = errors.New("unknown column")
	ErrSameColumn    = errors.New("item is already in that column")
)

// Scheduler accepts persistence writes. *persistence.Gateway implements it.
type Scheduler interface {
	Schedule(req persistence.Request, done func(persistence.Result))
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store owns the board. Every mutation runs under one mutex, so callers on
// any goroutine observe a single sequence of states.
type Store struct {
	// moveMu keeps state mutation and write scheduling of a move atomic with
	// respect to other moves, so writes reach the scheduler in program order.
	moveMu sync.Mutex

	mu       sync.Mutex
	columns  []domain.Column
	colIndex map[string]int
	items    map[int64]*domain.WorkItem
	moves    map[int64]*moveTrack
	detail   int64
	stale    bool

	sched  Scheduler
	broker *broker
	logger *log.Logger
	now    func() time.Time
}

// NewStore returns an empty store scheduling writes on sched.
func NewStore(sched Scheduler, opts ...Option) *Store {
	if sched == nil {
		panic("board.NewStore: scheduler is nil")
	}
	s := &Store{
		colIndex: map[string]int{},
		items:    map[int64]*domain.WorkItem{},
		moves:    map[int64]*moveTrack{},
		sched:    sched,
		broker:   newBroker(),
		logger:   log.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadReport summarises a Load.
type LoadReport struct {
	Columns  int
	Items    int
	OffBoard int
	Dangling int
}

// Load replaces the board contents. Items without a column, or whose column
// is not among columns, are left off the board. Ranks are renumbered 1..N
// per column keeping their relative order.
func (s *Store) Load(items []domain.WorkItem, columns []domain.Column) LoadReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.columns = append([]domain.Column(nil), columns...)
	sort.SliceStable(s.columns, func(i, j int) bool {
		if s.columns[i].Order != s.columns[j].Order {
			return s.columns[i].Order < s.columns[j].Order
		}
		return s.columns[i].ID < s.columns[j].ID
	})
	s.colIndex = make(map[string]int, len(s.columns))
	for i, c := range s.columns {
		s.colIndex[c.ID] = i
	}

	rep := LoadReport{Columns: len(s.columns)}
	s.items = make(map[int64]*domain.WorkItem, len(items))
	for _, it := range items {
		if !it.OnBoard() {
			rep.OffBoard++
			continue
		}
		if _, ok := s.colIndex[it.Column()]; !ok {
			rep.Dangling++
			s.logger.WithFields(log.Fields{"item": it.ID, "column": it.Column()}).Warn("item references unknown column, left off the board")
			continue
		}
		c := it.Clone()
		if c.AcceptsExchange == "" {
			c.AcceptsExchange = domain.ExchangeUnknown
		}
		s.items[c.ID] = &c
		rep.Items++
	}
	for _, c := range s.columns {
		s.compact(c.ID)
	}
	if s.detail != 0 {
		if _, ok := s.items[s.detail]; !ok {
			s.detail = 0
		}
	}
	s.logger.WithFields(log.Fields{
		"columns":  rep.Columns,
		"items":    rep.Items,
		"offBoard": rep.OffBoard,
		"dangling": rep.Dangling,
	}).Info("board loaded")
	s.emit(Notification{Kind: KindBoardLoaded})
	return rep
}

// Columns returns the columns in display order.
func (s *Store) Columns() []domain.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Column(nil), s.columns...)
}

// Column looks up a column by id.
func (s *Store) Column(id string) (domain.Column, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.colIndex[id]
	if !ok {
		return domain.Column{}, false
	}
	return s.columns[i], true
}

// Item returns a copy of the item.
func (s *Store) Item(id int64) (domain.WorkItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return domain.WorkItem{}, false
	}
	return it.Clone(), true
}

// Items returns copies of every item on the board.
func (s *Store) Items() []domain.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WorkItem, 0, len(s.items))
	for _, it := range s.items {
		if it.OnBoard() {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Query returns up to limit items of column that match f, ordered by order.
// A non-positive limit returns every match.
func (s *Store) Query(columnID string, f view.Filter, order view.Sort, limit int) []domain.WorkItem {
	return s.Page(columnID, f, order, limit).Items
}

// Page is Query plus the number of matches before the cap.
func (s *Store) Page(columnID string, f view.Filter, order view.Sort, limit int) view.Page[domain.WorkItem] {
	matches := view.Select(s.snapshotColumn(columnID), f, order)
	if limit <= 0 {
		return view.Page[domain.WorkItem]{Items: matches, Total: len(matches)}
	}
	return view.Cut(matches, limit)
}

// Count returns how many items of column match f.
func (s *Store) Count(columnID string, f view.Filter) int {
	n := 0
	for _, it := range s.snapshotColumn(columnID) {
		if f.Match(it) {
			n++
		}
	}
	return n
}

func (s *Store) snapshotColumn(columnID string) []domain.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.members(columnID, 0)
	out := make([]domain.WorkItem, len(members))
	for i, it := range members {
		out[i] = it.Clone()
	}
	return out
}

// MoveItem moves an item to the end of target, appends a history entry and
// schedules the write. The returned placement is the state before the move.
func (s *Store) MoveItem(itemID int64, target string) (domain.Placement, error) {
	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return domain.Placement{}, fmt.Errorf("move %d: %w", itemID, ErrUnknownItem)
	}
	ci, ok := s.colIndex[target]
	if !ok {
		s.mu.Unlock()
		return domain.Placement{}, fmt.Errorf("move %d to %q: %w", itemID, target, ErrUnknownColumn)
	}
	source := item.Column()
	if source == target {
		s.mu.Unlock()
		return domain.Placement{}, fmt.Errorf("move %d to %q: %w", itemID, target, ErrSameColumn)
	}

	before := domain.PlacementOf(*item)
	order := len(s.members(target, itemID)) + 1
	item.ColumnID = domain.StringPtr(target)
	item.Order = order
	history := make([]domain.HistoryEntry, len(item.History), len(item.History)+1)
	copy(history, item.History)
	item.History = append(history, domain.HistoryEntry{ColumnName: s.columns[ci].Name, Timestamp: s.now().UTC()})
	if source != "" {
		s.compact(source)
	}
	track := s.moves[itemID]
	if track == nil {
		track = &moveTrack{remote: before}
		s.moves[itemID] = track
	}
	track.seq++
	track.unsettled++

	req := persistence.Request{
		ItemID: itemID,
		Seq:    track.seq,
		Write: domain.ItemWrite{
			ColumnID: target,
			Order:    order,
			History:  append([]domain.HistoryEntry(nil), item.History...),
		},
		Snapshot: before,
	}
	s.logger.WithFields(log.Fields{"item": itemID, "from": source, "to": target, "order": order}).Debug("item moved")
	s.emit(Notification{Kind: KindItemMoved, ItemID: itemID, ColumnID: target})
	s.mu.Unlock()

	s.sched.Schedule(req, s.handleResult)
	return before, nil
}

// moveTrack follows the unsettled writes of one item.
type moveTrack struct {
	seq       uint64
	unsettled int
	// remote is the placement the remote store is believed to hold: the
	// state before the first unsettled write, advanced by confirmed writes
	// and by merges that name placement.
	remote domain.Placement
}

func (s *Store) handleResult(res persistence.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := res.Request.ItemID
	track := s.moves[id]
	if track == nil {
		return
	}
	track.unsettled--
	if track.unsettled <= 0 {
		delete(s.moves, id)
	}

	switch {
	case res.Discarded:
		s.logger.WithField("item", id).Debug("queued write discarded")
	case res.Err != nil:
		// A write scheduled after the failure was decided still goes out and
		// carries the current placement, so only the last write rolls back.
		if res.Request.Seq+uint64(res.Dropped) >= track.seq {
			s.rollback(track.remote)
		} else {
			s.logger.WithFields(log.Fields{"item": id, "seq": res.Request.Seq}).Info("failed write superseded by a later move")
		}
		col := res.Request.Write.ColumnID
		if i, ok := s.colIndex[col]; ok {
			col = s.columns[i].Name
		}
		s.emit(Notification{
			Kind:     KindMoveFailed,
			ItemID:   id,
			ColumnID: res.Request.Write.ColumnID,
			Message:  fmt.Sprintf("could not move item %d to %s: %v", id, col, res.Err),
		})
	default:
		w := res.Request.Write
		track.remote = domain.Placement{
			ItemID:   id,
			ColumnID: domain.StringPtr(w.ColumnID),
			Order:    w.Order,
			History:  append([]domain.HistoryEntry(nil), w.History...),
		}
		s.emit(Notification{Kind: KindMoveConfirmed, ItemID: id, ColumnID: w.ColumnID})
	}
}

// Pending reports whether the item has unconfirmed local moves.
func (s *Store) Pending(itemID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves[itemID] != nil
}

// Rollback restores the column, rank and history captured in snap.
func (s *Store) Rollback(snap domain.Placement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollback(snap)
}

func (s *Store) rollback(snap domain.Placement) {
	item, ok := s.items[snap.ItemID]
	if !ok {
		return
	}
	current := item.Column()
	item.History = append([]domain.HistoryEntry(nil), snap.History...)

	prev := ""
	if snap.ColumnID != nil {
		prev = *snap.ColumnID
	}
	if _, known := s.colIndex[prev]; prev == "" || !known {
		item.ColumnID = nil
		if current != "" {
			s.compact(current)
		}
	} else {
		s.insertAt(item, prev, snap.Order)
		if current != "" && current != prev {
			s.compact(current)
		}
	}
	s.logger.WithFields(log.Fields{"item": snap.ItemID, "column": prev, "order": snap.Order}).Info("item rolled back")
	s.emit(Notification{Kind: KindRolledBack, ItemID: snap.ItemID, ColumnID: prev})
}

// ApplyRemoteMerge overwrites the fields present in patch, even while local
// moves for the item are pending. Column and rank change only when the
// patch names them; a patch naming an unknown column keeps the current
// placement. It returns false when the item is unknown.
func (s *Store) ApplyRemoteMerge(itemID int64, patch domain.ItemPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		s.logger.WithField("item", itemID).Debug("merge for unknown item ignored")
		return false
	}
	patch.ApplyDescriptive(item)
	placed := patch.TouchesPlacement() && s.place(item, patch)
	if track := s.moves[itemID]; track != nil {
		// A failed local write must not undo what the merge set.
		if placed {
			track.remote.ColumnID = nil
			if item.ColumnID != nil {
				track.remote.ColumnID = domain.StringPtr(*item.ColumnID)
			}
			track.remote.Order = item.Order
		}
		if patch.History.Present && !patch.History.Nil {
			track.remote.History = append([]domain.HistoryEntry(nil), item.History...)
		}
	}
	s.emit(Notification{Kind: KindItemMerged, ItemID: itemID, ColumnID: item.Column()})
	return true
}

// place applies the column and rank named by patch. It reports false when
// the patch names an unknown column and nothing changed.
func (s *Store) place(item *domain.WorkItem, patch domain.ItemPatch) bool {
	old := item.Column()
	target := old
	if patch.ColumnID.Present {
		switch v := patch.ColumnID.Value; {
		case patch.ColumnID.Nil || v == "":
			target = ""
		default:
			if _, ok := s.colIndex[v]; !ok {
				s.logger.WithFields(log.Fields{"item": item.ID, "column": v}).Warn("merge names unknown column, placement ignored")
				return false
			}
			target = v
		}
	}
	if target == "" {
		item.ColumnID = nil
		if old != "" {
			s.compact(old)
		}
		return true
	}
	order := item.Order
	switch {
	case patch.Order.Present && !patch.Order.Nil:
		order = patch.Order.Value
	case target != old:
		order = len(s.members(target, item.ID)) + 1
	}
	s.insertAt(item, target, order)
	if old != "" && old != target {
		s.compact(old)
	}
	return true
}

// members returns the items of column sorted by rank then id, skipping
// the item with id skip.
func (s *Store) members(column string, skip int64) []*domain.WorkItem {
	var out []*domain.WorkItem
	for id, it := range s.items {
		if id != skip && it.ColumnID != nil && *it.ColumnID == column {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) compact(column string) {
	for i, it := range s.members(column, 0) {
		it.Order = i + 1
	}
}

// insertAt places item in column at rank pos, clamped to the column bounds,
// and renumbers its siblings around it.
func (s *Store) insertAt(item *domain.WorkItem, column string, pos int) {
	others := s.members(column, item.ID)
	if pos < 1 {
		pos = 1
	}
	if pos > len(others)+1 {
		pos = len(others) + 1
	}
	for i, it := range others {
		r := i + 1
		if r >= pos {
			r++
		}
		it.Order = r
	}
	item.ColumnID = domain.StringPtr(column)
	item.Order = pos
}

// OpenDetail marks itemID as the item shown in the detail view.
func (s *Store) OpenDetail(itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("open detail %d: %w", itemID, ErrUnknownItem)
	}
	s.detail = itemID
	s.emit(Notification{Kind: KindDetailOpened, ItemID: itemID})
	return nil
}

// CloseDetail closes the detail view.
func (s *Store) CloseDetail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detail == 0 {
		return
	}
	id := s.detail
	s.detail = 0
	s.emit(Notification{Kind: KindDetailClosed, ItemID: id})
}

// Detail returns the id of the item in the detail view, 0 when closed.
func (s *Store) Detail() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detail
}

// FeedStale marks remote updates as possibly missing.
func (s *Store) FeedStale() { s.setStale(true) }

// FeedRestored clears the stale mark.
func (s *Store) FeedRestored() { s.setStale(false) }

func (s *Store) setStale(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale == v {
		return
	}
	s.stale = v
	if v {
		s.emit(Notification{Kind: KindFeedStale, Message: "live updates interrupted, reconnecting"})
	} else {
		s.emit(Notification{Kind: KindFeedRestored})
	}
}

// Stale reports whether the realtime feed is currently down.
func (s *Store) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Subscribe returns a channel of notifications and a func that cancels the
// subscription and closes the channel.
func (s *Store) Subscribe(buf int) (<-chan Notification, func()) {
	ch := s.broker.subscribe(buf)
	return ch, func() { s.broker.unsubscribe(ch) }
}

func (s *Store) emit(n Notification) {
	if n.Time.IsZero() {
		n.Time = s.now()
	}
	s.broker.notify(n)
}
