package drag

import "math"

// Point is a pointer position in layout coordinates.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box. Contains treats the right and bottom edges as
// exclusive so adjacent boxes never share a point.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// CardBox is a rendered card and the column it belongs to.
type CardBox struct {
	ItemID   int64
	ColumnID string
	Rect     Rect
}

// ColumnBox is a rendered column's drop area.
type ColumnBox struct {
	ColumnID string
	Rect     Rect
}

// Layout is the geometry the hit test runs against.
type Layout struct {
	Columns []ColumnBox
	Cards   []CardBox
}

// CardAt returns the topmost card under p, if any.
func (l Layout) CardAt(p Point) (CardBox, bool) {
	for i := len(l.Cards) - 1; i >= 0; i-- {
		if l.Cards[i].Rect.Contains(p) {
			return l.Cards[i], true
		}
	}
	return CardBox{}, false
}

// ColumnAt returns the column whose box contains p, preferring the closest
// centre when boxes overlap.
func (l Layout) ColumnAt(p Point) (string, bool) {
	best := ""
	bestDist := math.Inf(1)
	for _, c := range l.Columns {
		if !c.Rect.Contains(p) {
			continue
		}
		if d := dist(p, c.Rect.Center()); d < bestDist {
			best, bestDist = c.ColumnID, d
		}
	}
	return best, best != ""
}

// Target resolves the drop column for p while dragging item dragged. A card
// under the pointer decides by its own column; when the cards under the
// pointer disagree, or there are none, the column boxes decide.
func (l Layout) Target(p Point, dragged int64) (string, bool) {
	col := ""
	ambiguous := false
	for _, c := range l.Cards {
		if c.ItemID == dragged || !c.Rect.Contains(p) {
			continue
		}
		switch {
		case col == "":
			col = c.ColumnID
		case col != c.ColumnID:
			ambiguous = true
		}
	}
	if col != "" && !ambiguous {
		return col, true
	}
	return l.ColumnAt(p)
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
