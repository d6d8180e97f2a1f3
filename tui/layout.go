package tui

import (
	"lead-board/domain"
	"lead-board/drag"
	"lead-board/view"
)

// Fixed board geometry, in terminal cells. Rendering and hit-testing both
// derive from these so a card is grabbed where it is drawn.
const (
	headerRows       = 2
	footerRows       = 2
	columnWidth      = 30
	columnHeaderRows = 2
	cardRows         = 3
	minBoardRows     = columnHeaderRows + cardRows + 1
)

type columnFrame struct {
	Column  domain.Column
	Page    view.Page[domain.WorkItem]
	Cap     int
	X       int
	Offset  int
	Visible []domain.WorkItem
}

// frame is one render's worth of geometry.
type frame struct {
	Columns []columnFrame
	Layout  drag.Layout
	// Slots is how many cards fit in a column.
	Slots int
}

func boardRows(height int) int {
	rows := height - headerRows - footerRows
	if rows < minBoardRows {
		rows = minBoardRows
	}
	return rows
}

func cardSlots(height int) int {
	return (boardRows(height) - columnHeaderRows - 1) / cardRows
}

func visibleColumns(width int) int {
	n := width / columnWidth
	if n < 1 {
		n = 1
	}
	return n
}

func cardRect(x, slot int) drag.Rect {
	return drag.Rect{
		X: float64(x),
		Y: float64(headerRows + columnHeaderRows + slot*cardRows),
		W: float64(columnWidth - 1),
		H: float64(cardRows - 1),
	}
}

func (m Model) frame() frame {
	f := frame{Slots: cardSlots(m.height)}
	cols := m.board.Columns()
	last := m.colOffset + visibleColumns(m.width)
	if last > len(cols) {
		last = len(cols)
	}
	rows := boardRows(m.height)
	for i := m.colOffset; i < last; i++ {
		col := cols[i]
		limit := m.window.Cap(col.ID)
		cf := columnFrame{
			Column: col,
			Cap:    limit,
			Page:   m.board.Page(col.ID, m.state.Filter, m.state.Sort, limit),
			X:      (i - m.colOffset) * columnWidth,
			Offset: m.rowOffset[col.ID],
		}
		if cf.Offset > len(cf.Page.Items) {
			cf.Offset = 0
		}
		end := cf.Offset + f.Slots
		if end > len(cf.Page.Items) {
			end = len(cf.Page.Items)
		}
		cf.Visible = cf.Page.Items[cf.Offset:end]

		f.Layout.Columns = append(f.Layout.Columns, drag.ColumnBox{
			ColumnID: col.ID,
			Rect:     drag.Rect{X: float64(cf.X), Y: headerRows, W: columnWidth, H: float64(rows)},
		})
		for slot, it := range cf.Visible {
			f.Layout.Cards = append(f.Layout.Cards, drag.CardBox{ItemID: it.ID, ColumnID: col.ID, Rect: cardRect(cf.X, slot)})
		}
		f.Columns = append(f.Columns, cf)
	}
	return f
}
