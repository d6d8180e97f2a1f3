// Package tui is the terminal rendition of the board.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lead-board/board"
	"lead-board/domain"
	"lead-board/drag"
	"lead-board/view"
)

// Board is the slice of *board.Store the terminal board drives.
type Board interface {
	Columns() []domain.Column
	Item(id int64) (domain.WorkItem, bool)
	Page(columnID string, f view.Filter, order view.Sort, limit int) view.Page[domain.WorkItem]
	MoveItem(itemID int64, target string) (domain.Placement, error)
	OpenDetail(itemID int64) error
	CloseDetail()
	Detail() int64
	Stale() bool
	Subscribe(buf int) (<-chan board.Notification, func())
}

var (
	businessTypes = []string{"", "venda", "aluguel"}
	exchanges     = []domain.ExchangeAcceptance{"", domain.ExchangeAccepted, domain.ExchangeRejected, domain.ExchangeUnknown}
	phoneStatuses = []view.PhoneStatus{view.PhoneAny, view.WithPhone, view.WithoutPhone}
)

type notificationMsg board.Notification

type reloadedMsg struct{ err error }

// Option configures a Model.
type Option func(*Model)

// WithReload sets the function the reload key runs.
func WithReload(fn func() error) Option {
	return func(m *Model) { m.reload = fn }
}

// WithState starts the board with a filter, order and open detail.
func WithState(s view.State) Option {
	return func(m *Model) { m.state = s }
}

// Model is the Bubble Tea model of the board.
type Model struct {
	board  Board
	coord  *drag.Coordinator
	window *view.Window
	state  view.State
	keys   keyMap
	help   help.Model
	search textinput.Model
	reload func() error

	notes       <-chan board.Notification
	unsubscribe func()

	searching bool
	width     int
	height    int
	selCol    int
	selRow    int
	colOffset int
	rowOffset map[string]int
	status    string
	statusErr bool
}

// New returns a model over b. It subscribes to b's notifications; call
// Close when the program exits.
func New(b Board, opts ...Option) Model {
	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "id, anúncio ou título"
	ti.CharLimit = 120

	m := Model{
		board:     b,
		coord:     drag.New(b, drag.WithThreshold(1)),
		window:    view.NewWindow(),
		keys:      defaultKeys(),
		help:      help.New(),
		search:    ti,
		rowOffset: map[string]int{},
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.notes, m.unsubscribe = b.Subscribe(32)
	if m.state.Modal != 0 {
		if err := b.OpenDetail(m.state.Modal); err != nil {
			m.state.Modal = 0
		}
	}
	return m
}

// Close drops the notification subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// State returns the current shareable view state.
func (m Model) State() view.State {
	s := m.state
	s.Modal = m.board.Detail()
	return s
}

func (m Model) Init() tea.Cmd { return m.listen() }

func (m Model) listen() tea.Cmd {
	ch := m.notes
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return notificationMsg(n)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil
	case notificationMsg:
		m.notify(board.Notification(msg))
		return m, m.listen()
	case reloadedMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("falha ao recarregar: %v", msg.err), true)
			return m, nil
		}
		m.window.Reset()
		m.rowOffset = map[string]int{}
		m.selRow = 0
		m.setStatus("quadro recarregado", false)
		return m, nil
	case tea.MouseMsg:
		m.mouse(msg)
		return m, nil
	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *Model) notify(n board.Notification) {
	if n.Kind == board.KindMoveFailed {
		m.setStatus(n.Message, true)
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.state.Filter.Search = strings.TrimSpace(m.search.Value())
		m.searching = false
		m.search.Blur()
		m.resetScroll()
		return m, nil
	case "esc":
		m.searching = false
		m.search.SetValue(m.state.Filter.Search)
		m.search.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.board.Detail() != 0 {
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Open):
			m.board.CloseDetail()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Back):
		if m.coord.State() == drag.Dragging {
			m.coord.Cancel()
			m.setStatus("movimento cancelado", false)
		}
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.search.SetValue(m.state.Filter.Search)
		m.search.CursorEnd()
		return m, m.search.Focus()
	case key.Matches(msg, m.keys.Business):
		m.state.Filter.BusinessType = next(businessTypes, m.state.Filter.BusinessType)
		m.resetScroll()
	case key.Matches(msg, m.keys.Exchange):
		m.state.Filter.Exchange = next(exchanges, m.state.Filter.Exchange)
		m.resetScroll()
	case key.Matches(msg, m.keys.Phone):
		m.state.Filter.Phone = next(phoneStatuses, m.state.Filter.Phone)
		m.resetScroll()
	case key.Matches(msg, m.keys.Sort):
		m.state.Sort = m.state.Sort.Next()
		m.resetScroll()
	case key.Matches(msg, m.keys.More):
		if col, ok := m.selectedColumn(); ok {
			n := m.window.LoadMore(col.ID)
			m.setStatus(fmt.Sprintf("%s: até %d itens", col.Name, n), false)
		}
	case key.Matches(msg, m.keys.Open):
		if it, ok := m.selectedItem(); ok {
			_ = m.board.OpenDetail(it.ID)
		}
	case key.Matches(msg, m.keys.Reload):
		if m.reload != nil {
			fn := m.reload
			m.setStatus("recarregando…", false)
			return m, func() tea.Msg { return reloadedMsg{err: fn()} }
		}
	case key.Matches(msg, m.keys.Left):
		m.selectColumn(m.selCol - 1)
	case key.Matches(msg, m.keys.Right):
		m.selectColumn(m.selCol + 1)
	case key.Matches(msg, m.keys.Up):
		m.selectRow(m.selRow - 1)
	case key.Matches(msg, m.keys.Down):
		m.selectRow(m.selRow + 1)
	case key.Matches(msg, m.keys.MoveLeft):
		m.moveSelected(-1)
	case key.Matches(msg, m.keys.MoveRight):
		m.moveSelected(1)
	}
	return m, nil
}

func next[T comparable](vals []T, cur T) T {
	for i, v := range vals {
		if v == cur {
			return vals[(i+1)%len(vals)]
		}
	}
	return vals[0]
}

func (m *Model) resetScroll() {
	m.rowOffset = map[string]int{}
	m.selRow = 0
}

func (m Model) selectedColumn() (domain.Column, bool) {
	cols := m.board.Columns()
	if m.selCol < 0 || m.selCol >= len(cols) {
		return domain.Column{}, false
	}
	return cols[m.selCol], true
}

func (m Model) columnPage(col domain.Column) view.Page[domain.WorkItem] {
	return m.board.Page(col.ID, m.state.Filter, m.state.Sort, m.window.Cap(col.ID))
}

func (m Model) selectedItem() (domain.WorkItem, bool) {
	col, ok := m.selectedColumn()
	if !ok {
		return domain.WorkItem{}, false
	}
	items := m.columnPage(col).Items
	if m.selRow < 0 || m.selRow >= len(items) {
		return domain.WorkItem{}, false
	}
	return items[m.selRow], true
}

func (m *Model) selectColumn(i int) {
	cols := m.board.Columns()
	if i < 0 || i >= len(cols) {
		return
	}
	m.selCol = i
	m.selRow = 0
	visible := visibleColumns(m.width)
	if i < m.colOffset {
		m.colOffset = i
	}
	if i >= m.colOffset+visible {
		m.colOffset = i - visible + 1
	}
	m.selectRow(m.rowOffset[cols[i].ID])
}

func (m *Model) selectRow(r int) {
	col, ok := m.selectedColumn()
	if !ok {
		return
	}
	n := len(m.columnPage(col).Items)
	if r >= n {
		r = n - 1
	}
	if r < 0 {
		r = 0
	}
	m.selRow = r
	slots := cardSlots(m.height)
	off := m.rowOffset[col.ID]
	if r < off {
		off = r
	}
	if r >= off+slots {
		off = r - slots + 1
	}
	m.rowOffset[col.ID] = off
}

// moveSelected moves the selected card dir columns over, the keyboard
// counterpart of a drag.
func (m *Model) moveSelected(dir int) {
	it, ok := m.selectedItem()
	if !ok {
		return
	}
	cols := m.board.Columns()
	target := m.selCol + dir
	if target < 0 || target >= len(cols) {
		return
	}
	if _, err := m.board.MoveItem(it.ID, cols[target].ID); err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.setStatus(fmt.Sprintf("#%d → %s", it.ID, cols[target].Name), false)
	m.selectColumn(target)
	for i, other := range m.columnPage(cols[target]).Items {
		if other.ID == it.ID {
			m.selectRow(i)
			break
		}
	}
}

func (m *Model) mouse(msg tea.MouseMsg) {
	p := drag.Point{X: float64(msg.X), Y: float64(msg.Y)}
	f := m.frame()
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return
		}
		card, ok := f.Layout.CardAt(p)
		if !ok {
			return
		}
		m.coord.Press(card.ItemID, p)
		m.selectCard(card)
	case tea.MouseActionMotion:
		m.coord.Move(p, f.Layout)
	case tea.MouseActionRelease:
		out := m.coord.Release(p, f.Layout)
		switch {
		case out.Clicked:
			_ = m.board.OpenDetail(out.ItemID)
		case out.Err != nil:
			m.setStatus(out.Err.Error(), true)
		case out.Committed:
			if col, ok := columnByID(m.board.Columns(), out.Target); ok {
				m.setStatus(fmt.Sprintf("#%d → %s", out.ItemID, col.Name), false)
			}
		}
	}
}

func (m *Model) selectCard(card drag.CardBox) {
	for i, col := range m.board.Columns() {
		if col.ID != card.ColumnID {
			continue
		}
		m.selCol = i
		for r, it := range m.columnPage(col).Items {
			if it.ID == card.ItemID {
				m.selRow = r
				return
			}
		}
	}
}

func columnByID(cols []domain.Column, id string) (domain.Column, bool) {
	for _, c := range cols {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Column{}, false
}

func (m Model) View() string {
	if m.width == 0 {
		return "carregando…"
	}
	if id := m.board.Detail(); id != 0 {
		if it, ok := m.board.Item(id); ok {
			return m.header() + "\n" + m.detail(it) + "\n" + m.footer()
		}
	}
	return m.header() + "\n" + m.renderBoard(m.frame()) + "\n" + m.footer()
}

func (m Model) header() string {
	total := 0
	for _, col := range m.board.Columns() {
		total += m.columnPage(col).Total
	}
	parts := []string{titleStyle.Render("Lead board"), fmt.Sprintf("%d itens", total), accentStyle.Render(m.state.Sort.Label())}
	f := m.state.Filter
	for _, v := range []string{f.BusinessType, string(f.Exchange), string(f.Phone)} {
		if v != "" {
			parts = append(parts, accentStyle.Render(v))
		}
	}
	line2 := mutedStyle.Render("?" + m.State().Encode())
	if m.searching {
		line2 = m.search.View()
	} else if f.Search != "" {
		line2 = accentStyle.Render("busca: "+f.Search) + "  " + line2
	}
	return strings.Join(parts, "  ") + "\n" + line2
}

func (m Model) renderBoard(f frame) string {
	rows := boardRows(m.height)
	ghostID, ghostCol, dragging := m.coord.Ghost()
	selected, _ := m.selectedItem()

	blocks := make([]string, 0, len(f.Columns))
	for _, cf := range f.Columns {
		lines := make([]string, 0, rows)
		title := fmt.Sprintf("%s (%d)", cf.Column.Name, cf.Page.Total)
		style := titleStyle
		if dragging && cf.Column.ID == ghostCol {
			style = hoverStyle
			title = fmt.Sprintf("%s ↓ #%d", title, ghostID)
		}
		lines = append(lines, cell(style, title, columnWidth-1), cell(mutedStyle, strings.Repeat("─", columnWidth-1), columnWidth-1))
		for _, it := range cf.Visible {
			st := lipgloss.NewStyle()
			switch {
			case dragging && it.ID == ghostID:
				st = ghostStyle
			case it.ID == selected.ID:
				st = selectedStyle
			}
			lines = append(lines,
				cell(st, fmt.Sprintf("#%d %s", it.ID, it.Title), columnWidth-1),
				cell(mutedStyle, cardSubtitle(it), columnWidth-1),
				"")
		}
		for len(lines) < rows-1 {
			lines = append(lines, "")
		}
		more := ""
		if hidden := cf.Page.Total - cf.Offset - len(cf.Visible); hidden > 0 {
			more = fmt.Sprintf("+%d", hidden)
			if cf.Page.HasMore {
				more += " (m)"
			}
		}
		lines = append(lines[:rows-1], cell(mutedStyle, more, columnWidth-1))
		for i := range lines {
			lines[i] = cell(lipgloss.NewStyle(), lines[i], columnWidth)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, blocks...)
}

func cardSubtitle(it domain.WorkItem) string {
	var parts []string
	if it.Price != nil {
		parts = append(parts, fmt.Sprintf("R$ %.0f", *it.Price))
	}
	if it.City != nil {
		parts = append(parts, *it.City)
	}
	if it.HasPhone() {
		parts = append(parts, "☎")
	}
	return strings.Join(parts, " · ")
}

func (m Model) detail(it domain.WorkItem) string {
	str := func(p *string) string {
		if p == nil {
			return "-"
		}
		return *p
	}
	price := "-"
	if it.Price != nil {
		price = fmt.Sprintf("R$ %.2f", *it.Price)
	}
	column := "fora do quadro"
	if c, ok := columnByID(m.board.Columns(), it.Column()); ok {
		column = c.Name
	}
	lines := []string{
		titleStyle.Render(fmt.Sprintf("#%d %s", it.ID, it.Title)),
		"coluna: " + column,
		"preço: " + price,
		"tipo: " + str(it.PropertyType) + " / " + str(it.BusinessType),
		"local: " + str(it.Neighborhood) + ", " + str(it.City),
		"vendedor: " + str(it.SellerName) + "  telefone: " + str(it.Phone),
		"permuta: " + string(it.AcceptsExchange),
		"notas: " + str(it.Notes),
	}
	if it.URL != "" {
		lines = append(lines, mutedStyle.Render(it.URL))
	}
	if len(it.History) > 0 {
		lines = append(lines, "", titleStyle.Render("histórico"))
		for _, h := range it.History {
			lines = append(lines, fmt.Sprintf("%s  %s", h.Timestamp.Local().Format("02/01/2006 15:04"), h.ColumnName))
		}
	}
	return detailStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) footer() string {
	var status []string
	if m.board.Stale() {
		status = append(status, warnStyle.Render("⚠ atualizações ao vivo interrompidas"))
	}
	switch {
	case m.status == "":
	case m.statusErr:
		status = append(status, errorStyle.Render("✖ "+m.status))
	default:
		status = append(status, successStyle.Render(m.status))
	}
	return strings.Join(status, "  ") + "\n" + m.help.View(m.keys)
}
