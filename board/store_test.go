package board

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"lead-board/domain"
	"lead-board/persistence"
	"lead-board/view"
)

type fakeScheduler struct {
	mu    sync.Mutex
	reqs  []persistence.Request
	dones []func(persistence.Result)
}

func (f *fakeScheduler) Schedule(req persistence.Request, done func(persistence.Result)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	f.dones = append(f.dones, done)
}

func (f *fakeScheduler) settle(i int, err error) {
	f.mu.Lock()
	req, done := f.reqs[i], f.dones[i]
	f.mu.Unlock()
	done(persistence.Result{Request: req, Err: err})
}

var fixedNow = time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *fakeScheduler) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	sched := &fakeScheduler{}
	s := NewStore(sched, WithLogger(logger), WithClock(func() time.Time { return fixedNow }))
	return s, sched
}

func columns() []domain.Column {
	return []domain.Column{
		{ID: "qual", Name: "Qualificado", Order: 2},
		{ID: "in", Name: "Entrada", Order: 1},
	}
}

func item(id int64, col string, order int) domain.WorkItem {
	return domain.WorkItem{ID: id, ColumnID: domain.StringPtr(col), Order: order, Title: "Imóvel"}
}

func orders(s *Store, col string) []int64 {
	var out []int64
	for _, it := range s.Query(col, view.Filter{}, view.SortBoard, 0) {
		out = append(out, it.ID)
	}
	return out
}

func assertDense(t *testing.T, s *Store) {
	t.Helper()
	for _, c := range s.Columns() {
		for i, it := range s.Query(c.ID, view.Filter{}, view.SortBoard, 0) {
			if it.Order != i+1 {
				t.Fatalf("column %s not dense: item %d at rank %d, position %d", c.ID, it.ID, it.Order, i+1)
			}
		}
	}
}

func TestMoveAppendsToTargetAndRecordsHistory(t *testing.T) {
	s, sched := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1)}, columns())

	before, err := s.MoveItem(1, "qual")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if before.ColumnID == nil || *before.ColumnID != "in" || before.Order != 1 || len(before.History) != 0 {
		t.Fatalf("unexpected snapshot %+v", before)
	}
	got, _ := s.Item(1)
	if got.Column() != "qual" || got.Order != 1 {
		t.Fatalf("expected qual/1, got %s/%d", got.Column(), got.Order)
	}
	if len(got.History) != 1 || got.History[0].ColumnName != "Qualificado" || !got.History[0].Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected history %+v", got.History)
	}
	if !s.Pending(1) {
		t.Fatalf("move should be pending until the write settles")
	}

	if len(sched.reqs) != 1 {
		t.Fatalf("expected one scheduled write, got %d", len(sched.reqs))
	}
	w := sched.reqs[0].Write
	if w.ColumnID != "qual" || w.Order != 1 || len(w.History) != 1 {
		t.Fatalf("unexpected write %+v", w)
	}

	sched.settle(0, nil)
	if s.Pending(1) {
		t.Fatalf("write settled, nothing should be pending")
	}
	got, _ = s.Item(1)
	if got.Column() != "qual" {
		t.Fatalf("confirmed move must stay, got %s", got.Column())
	}
}

func TestFailedWriteRollsBackPlacementAndHistory(t *testing.T) {
	s, sched := newTestStore(t)
	history := []domain.HistoryEntry{{ColumnName: "Entrada", Timestamp: fixedNow.Add(-time.Hour)}}
	x := item(1, "in", 2)
	x.History = history
	s.Load([]domain.WorkItem{item(2, "in", 1), x, item(3, "in", 3)}, columns())

	notes, cancel := s.Subscribe(8)
	defer cancel()

	if _, err := s.MoveItem(1, "qual"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if ids := orders(s, "in"); len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("source column not compacted: %v", ids)
	}
	assertDense(t, s)

	sched.settle(0, errors.New("write rejected"))

	got, _ := s.Item(1)
	if got.Column() != "in" || got.Order != 2 {
		t.Fatalf("expected rollback to in/2, got %s/%d", got.Column(), got.Order)
	}
	if len(got.History) != 1 || got.History[0].ColumnName != "Entrada" {
		t.Fatalf("history not restored: %+v", got.History)
	}
	if ids := orders(s, "in"); len(ids) != 3 || ids[0] != 2 || ids[1] != 1 || ids[2] != 3 {
		t.Fatalf("unexpected source order after rollback: %v", ids)
	}
	if ids := orders(s, "qual"); len(ids) != 0 {
		t.Fatalf("target should be empty, got %v", ids)
	}
	assertDense(t, s)

	var kinds []Kind
	for len(notes) > 0 {
		kinds = append(kinds, (<-notes).Kind)
	}
	want := []Kind{KindItemMoved, KindRolledBack, KindMoveFailed}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected notifications %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected notifications %v", kinds)
		}
	}
}

func TestQueryFiltersAndCountsOnlyMatches(t *testing.T) {
	s, _ := newTestStore(t)
	var items []domain.WorkItem
	for i := 1; i <= 15; i++ {
		it := item(int64(i), "in", i)
		bt := "venda"
		if i > 10 {
			bt = "aluguel"
		}
		it.BusinessType = domain.StringPtr(bt)
		items = append(items, it)
	}
	s.Load(items, columns())

	f := view.Filter{BusinessType: "venda"}
	got := s.Query("in", f, view.SortBoard, view.DefaultCap)
	if len(got) != 10 {
		t.Fatalf("expected 10 items, got %d", len(got))
	}
	if n := s.Count("in", f); n != 10 {
		t.Fatalf("expected count 10, got %d", n)
	}
	if n := s.Count("qual", f); n != 0 {
		t.Fatalf("expected empty column, got %d", n)
	}
}

func TestRemoteMergeDuringPendingMoveKeepsOptimisticPlacement(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load([]domain.WorkItem{item(7, "in", 1)}, columns())
	if _, err := s.MoveItem(7, "qual"); err != nil {
		t.Fatalf("move: %v", err)
	}

	if !s.ApplyRemoteMerge(7, domain.ItemPatch{PhoneExists: domain.Some(true)}) {
		t.Fatalf("merge should apply")
	}
	got, _ := s.Item(7)
	if !got.PhoneExists {
		t.Fatalf("phone flag not merged")
	}
	if got.Column() != "qual" || got.Order != 1 || !s.Pending(7) {
		t.Fatalf("pending placement disturbed: %s/%d pending=%v", got.Column(), got.Order, s.Pending(7))
	}
}

func TestFailedWriteKeepsPlacementSetByRemoteMerge(t *testing.T) {
	s, sched := newTestStore(t)
	cols := append(columns(), domain.Column{ID: "won", Name: "Fechado", Order: 3})
	s.Load([]domain.WorkItem{item(1, "in", 1), item(2, "won", 1)}, cols)
	if _, err := s.MoveItem(1, "qual"); err != nil {
		t.Fatalf("move: %v", err)
	}

	remoteHistory := []domain.HistoryEntry{{ColumnName: "Fechado", Timestamp: fixedNow}}
	s.ApplyRemoteMerge(1, domain.ItemPatch{
		ColumnID: domain.Some("won"),
		Order:    domain.Some(1),
		History:  domain.Some(remoteHistory),
	})
	sched.settle(0, errors.New("boom"))

	got, _ := s.Item(1)
	if got.Column() != "won" || got.Order != 1 {
		t.Fatalf("merged placement lost on rollback: %s/%d", got.Column(), got.Order)
	}
	if len(got.History) != 1 || got.History[0].ColumnName != "Fechado" {
		t.Fatalf("merged history lost on rollback: %+v", got.History)
	}
	if ids := orders(s, "won"); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected order in won: %v", ids)
	}
	if s.Pending(1) {
		t.Fatalf("nothing should be pending")
	}
	assertDense(t, s)
}

func TestFailedWriteAfterDescriptiveMergeStillRollsBack(t *testing.T) {
	s, sched := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1)}, columns())
	if _, err := s.MoveItem(1, "qual"); err != nil {
		t.Fatalf("move: %v", err)
	}
	s.ApplyRemoteMerge(1, domain.ItemPatch{PhoneExists: domain.Some(true)})
	sched.settle(0, errors.New("boom"))

	got, _ := s.Item(1)
	if got.Column() != "in" || !got.PhoneExists {
		t.Fatalf("expected rollback to in with merged phone, got %s phone=%v", got.Column(), got.PhoneExists)
	}
}

func TestRollbackRestoresSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1), item(2, "in", 2), item(3, "qual", 1)}, columns())

	history := []domain.HistoryEntry{{ColumnName: "Qualificado", Timestamp: fixedNow}}
	s.Rollback(domain.Placement{ItemID: 1, ColumnID: domain.StringPtr("qual"), Order: 1, History: history})

	got, _ := s.Item(1)
	if got.Column() != "qual" || got.Order != 1 || len(got.History) != 1 {
		t.Fatalf("unexpected item after rollback: %s/%d %+v", got.Column(), got.Order, got.History)
	}
	if ids := orders(s, "qual"); len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("unexpected target order: %v", ids)
	}
	if ids := orders(s, "in"); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("source not compacted: %v", ids)
	}
	assertDense(t, s)

	// Unknown items are ignored.
	s.Rollback(domain.Placement{ItemID: 99, ColumnID: domain.StringPtr("in"), Order: 1})
	if len(s.Items()) != 3 {
		t.Fatalf("rollback of unknown item changed the board")
	}
}

func TestRollbackToUnloadedColumnTakesItemOffBoard(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1), item(2, "in", 2)}, columns())
	notes, cancel := s.Subscribe(4)
	defer cancel()

	s.Rollback(domain.Placement{ItemID: 1, ColumnID: domain.StringPtr("archived"), Order: 1})

	got, ok := s.Item(1)
	if !ok || got.OnBoard() {
		t.Fatalf("item should be kept off the board, got %+v ok=%v", got.ColumnID, ok)
	}
	if ids := orders(s, "in"); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("unexpected source order: %v", ids)
	}
	for _, c := range s.Columns() {
		for _, it := range s.Query(c.ID, view.Filter{}, view.SortBoard, 0) {
			if it.ID == 1 {
				t.Fatalf("item 1 still listed in %s", c.ID)
			}
		}
	}
	assertDense(t, s)
	if n := <-notes; n.Kind != KindRolledBack || n.ItemID != 1 {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestQueryRespectsPaginationWindow(t *testing.T) {
	s, _ := newTestStore(t)
	var items []domain.WorkItem
	for i := 1; i <= 120; i++ {
		items = append(items, item(int64(i), "in", i))
	}
	s.Load(items, columns())

	w := view.NewWindow()
	if n := len(s.Query("in", view.Filter{}, view.SortBoard, w.Cap("in"))); n != 50 {
		t.Fatalf("expected 50, got %d", n)
	}
	if n := len(s.Query("in", view.Filter{}, view.SortBoard, w.LoadMore("in"))); n != 100 {
		t.Fatalf("expected 100, got %d", n)
	}
	p := s.Page("in", view.Filter{}, view.SortBoard, w.LoadMore("in"))
	if len(p.Items) != 120 || p.HasMore {
		t.Fatalf("expected all 120 items, got %d hasMore=%v", len(p.Items), p.HasMore)
	}
}

func TestLoadDropsDanglingItemsAndNormalizesRanks(t *testing.T) {
	s, _ := newTestStore(t)
	offBoard := domain.WorkItem{ID: 9}
	rep := s.Load([]domain.WorkItem{
		item(1, "in", 9),
		item(2, "in", 5),
		item(3, "in", 9),
		item(4, "gone", 1),
		offBoard,
	}, columns())

	if rep.Items != 3 || rep.Dangling != 1 || rep.OffBoard != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if cols := s.Columns(); cols[0].ID != "in" || cols[1].ID != "qual" {
		t.Fatalf("columns not ordered: %+v", cols)
	}
	if ids := orders(s, "in"); len(ids) != 3 || ids[0] != 2 || ids[1] != 1 || ids[2] != 3 {
		t.Fatalf("unexpected order %v", ids)
	}
	assertDense(t, s)
	if _, ok := s.Item(4); ok {
		t.Fatalf("dangling item must not be on the board")
	}
}

func TestRemoteMergeIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1), item(2, "in", 2), item(3, "qual", 1)}, columns())

	patch := domain.ItemPatch{
		ColumnID: domain.Some("qual"),
		Order:    domain.Some(1),
		Title:    domain.Some("Sobrado"),
	}
	s.ApplyRemoteMerge(2, patch)
	first := s.Items()
	s.ApplyRemoteMerge(2, patch)
	second := s.Items()

	if len(first) != len(second) {
		t.Fatalf("item count changed")
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.ID != b.ID || a.Column() != b.Column() || a.Order != b.Order || a.Title != b.Title {
			t.Fatalf("second merge changed state: %+v vs %+v", a, b)
		}
	}
	if ids := orders(s, "qual"); len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("unexpected target order %v", ids)
	}
	assertDense(t, s)
}

func TestRemoteMergePlacementEdgeCases(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1), item(2, "in", 2)}, columns())

	s.ApplyRemoteMerge(1, domain.ItemPatch{ColumnID: domain.Some("nowhere"), Title: domain.Some("Novo título")})
	got, _ := s.Item(1)
	if got.Column() != "in" || got.Title != "Novo título" {
		t.Fatalf("unknown column should keep placement and apply the rest: %+v", got)
	}

	s.ApplyRemoteMerge(1, domain.ItemPatch{ColumnID: domain.Null[string]()})
	if n := s.Count("in", view.Filter{}); n != 1 {
		t.Fatalf("null column should remove the item from the board, count %d", n)
	}
	assertDense(t, s)

	s.ApplyRemoteMerge(1, domain.ItemPatch{ColumnID: domain.Some("qual")})
	got, _ = s.Item(1)
	if got.Column() != "qual" || got.Order != 1 {
		t.Fatalf("item should re-enter the board at the end: %s/%d", got.Column(), got.Order)
	}

	if s.ApplyRemoteMerge(99, domain.ItemPatch{Title: domain.Some("x")}) {
		t.Fatalf("unknown item must be ignored")
	}
}

func TestMoveRejectsInvalidTargets(t *testing.T) {
	s, sched := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1)}, columns())

	if _, err := s.MoveItem(1, "in"); !errors.Is(err, ErrSameColumn) {
		t.Fatalf("expected ErrSameColumn, got %v", err)
	}
	if _, err := s.MoveItem(1, "nope"); !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
	if _, err := s.MoveItem(2, "qual"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	if len(sched.reqs) != 0 {
		t.Fatalf("rejected moves must not schedule writes")
	}
}

func TestSequentialMovesScheduleInProgramOrder(t *testing.T) {
	s, sched := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1), item(2, "qual", 1)}, columns())

	if _, err := s.MoveItem(1, "qual"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := s.MoveItem(1, "in"); err != nil {
		t.Fatalf("move back: %v", err)
	}
	if len(sched.reqs) != 2 || sched.reqs[0].Write.ColumnID != "qual" || sched.reqs[1].Write.ColumnID != "in" {
		t.Fatalf("unexpected writes %+v", sched.reqs)
	}
	if sched.reqs[0].Write.Order != 2 {
		t.Fatalf("expected append at rank 2, got %d", sched.reqs[0].Write.Order)
	}
	got, _ := s.Item(1)
	if len(got.History) != 2 {
		t.Fatalf("expected two history entries, got %d", len(got.History))
	}

	// First write fails: the store returns to the state before it; the
	// discarded follow-up does not touch the store again.
	sched.dones[0](persistence.Result{Request: sched.reqs[0], Err: errors.New("boom"), Dropped: 1})
	sched.dones[1](persistence.Result{Request: sched.reqs[1], Err: persistence.ErrDiscarded, Discarded: true})
	got, _ = s.Item(1)
	if got.Column() != "in" || len(got.History) != 0 || s.Pending(1) {
		t.Fatalf("unexpected state after failure: %s history=%d pending=%v", got.Column(), len(got.History), s.Pending(1))
	}
	assertDense(t, s)
}

func TestDetailAndFeedNotifications(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load([]domain.WorkItem{item(1, "in", 1)}, columns())
	notes, cancel := s.Subscribe(8)

	if err := s.OpenDetail(5); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	if err := s.OpenDetail(1); err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Detail() != 1 {
		t.Fatalf("detail not recorded")
	}
	s.CloseDetail()
	s.CloseDetail()
	s.FeedStale()
	s.FeedStale()
	if !s.Stale() {
		t.Fatalf("expected stale feed")
	}
	s.FeedRestored()

	want := []Kind{KindDetailOpened, KindDetailClosed, KindFeedStale, KindFeedRestored}
	for _, k := range want {
		select {
		case n := <-notes:
			if n.Kind != k {
				t.Fatalf("expected %s, got %s", k, n.Kind)
			}
		default:
			t.Fatalf("missing %s notification", k)
		}
	}
	cancel()
	if _, ok := <-notes; ok {
		t.Fatalf("channel should be closed after cancel")
	}
}
