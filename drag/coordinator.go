// Package drag turns pointer gestures into board moves.
package drag

import "lead-board/domain"

// DefaultThreshold is how far the pointer must travel before a press turns
// into a drag.
const DefaultThreshold = 8

// State is the coordinator's gesture state.
type State int

const (
	Idle State = iota
	Dragging
	Committing
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Committing:
		return "committing"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Board is what the coordinator needs from the store.
type Board interface {
	Item(id int64) (domain.WorkItem, bool)
	MoveItem(itemID int64, target string) (domain.Placement, error)
}

// Transition is one entry of the coordinator's state log.
type Transition struct {
	From   State
	To     State
	ItemID int64
	Target string
}

// Outcome describes how a gesture ended.
type Outcome struct {
	ItemID    int64
	Target    string
	Clicked   bool
	Committed bool
	Cancelled bool
	Snapshot  domain.Placement
	Err       error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithThreshold sets the activation distance.
func WithThreshold(d float64) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.threshold = d
		}
	}
}

// WithTransitionHook is called after every state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(c *Coordinator) { c.hook = fn }
}

// Coordinator runs the drag state machine. It is not safe for concurrent
// use; a UI drives it from its event loop.
type Coordinator struct {
	board     Board
	threshold float64
	hook      func(Transition)

	state    State
	pressed  bool
	itemID   int64
	origin   Point
	snapshot domain.Placement
	ghost    string
	log      []Transition
}

// New returns an idle coordinator moving items on board.
func New(board Board, opts ...Option) *Coordinator {
	c := &Coordinator{board: board, threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State { return c.state }

// Transitions returns the state log.
func (c *Coordinator) Transitions() []Transition {
	return append([]Transition(nil), c.log...)
}

// Ghost returns the dragged item and the column it is currently shown in.
func (c *Coordinator) Ghost() (itemID int64, column string, ok bool) {
	if c.state != Dragging {
		return 0, "", false
	}
	return c.itemID, c.ghost, true
}

// Press records a candidate grab of itemID at p. Nothing moves until the
// pointer crosses the threshold.
func (c *Coordinator) Press(itemID int64, p Point) {
	if c.state != Idle {
		return
	}
	if _, ok := c.board.Item(itemID); !ok {
		return
	}
	c.pressed = true
	c.itemID = itemID
	c.origin = p
}

// Move updates the gesture. Once dragging, it hit-tests p and updates the
// ghost column; the store is never touched here.
func (c *Coordinator) Move(p Point, l Layout) {
	switch c.state {
	case Idle:
		if !c.pressed || dist(p, c.origin) <= c.threshold {
			return
		}
		item, ok := c.board.Item(c.itemID)
		if !ok {
			c.reset()
			return
		}
		c.snapshot = domain.PlacementOf(item)
		c.ghost = item.Column()
		c.transition(Dragging, "")
		fallthrough
	case Dragging:
		if col, ok := l.Target(p, c.itemID); ok {
			c.ghost = col
		}
	}
}

// Release ends the gesture at p. A release before the threshold is a click.
func (c *Coordinator) Release(p Point, l Layout) Outcome {
	switch c.state {
	case Idle:
		if !c.pressed {
			return Outcome{}
		}
		id := c.itemID
		c.reset()
		return Outcome{ItemID: id, Clicked: true}
	case Dragging:
	default:
		return Outcome{}
	}

	id := c.itemID
	source := ""
	if c.snapshot.ColumnID != nil {
		source = *c.snapshot.ColumnID
	}
	target, ok := l.Target(p, id)
	if !ok || target == source {
		return c.cancel()
	}

	c.transition(Committing, target)
	snap, err := c.board.MoveItem(id, target)
	out := Outcome{ItemID: id, Target: target, Snapshot: snap, Err: err}
	if err != nil {
		out.Cancelled = true
		c.transition(Cancelled, target)
	} else {
		out.Committed = true
	}
	c.transition(Idle, target)
	c.reset()
	return out
}

// Cancel aborts a drag in progress, as the escape key does.
func (c *Coordinator) Cancel() Outcome {
	if c.state != Dragging {
		c.reset()
		return Outcome{}
	}
	return c.cancel()
}

func (c *Coordinator) cancel() Outcome {
	id := c.itemID
	c.transition(Cancelled, "")
	c.transition(Idle, "")
	c.reset()
	return Outcome{ItemID: id, Cancelled: true}
}

func (c *Coordinator) transition(to State, target string) {
	t := Transition{From: c.state, To: to, ItemID: c.itemID, Target: target}
	c.state = to
	c.log = append(c.log, t)
	if c.hook != nil {
		c.hook(t)
	}
}

func (c *Coordinator) reset() {
	c.state = Idle
	c.pressed = false
	c.itemID = 0
	c.ghost = ""
	c.snapshot = domain.Placement{}
}
