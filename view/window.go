package view

import "sync"

const (
	// DefaultCap is the number of items shown per column before load-more.
	DefaultCap = 50
	// CapStep is how much each load-more extends a column.
	CapStep = 50
)

// Window tracks per-column display caps. Filter and sort changes leave the
// caps alone; only Reset, on a full reload, returns them to the default.
type Window struct {
	mu   sync.Mutex
	caps map[string]int
}

// NewWindow returns a window with every column at DefaultCap.
func NewWindow() *Window {
	return &Window{caps: make(map[string]int)}
}

// Cap returns the current cap for column.
func (w *Window) Cap(column string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.caps[column]; ok {
		return c
	}
	return DefaultCap
}

// LoadMore extends column's cap by CapStep and returns the new cap.
func (w *Window) LoadMore(column string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.caps[column]
	if !ok {
		c = DefaultCap
	}
	c += CapStep
	w.caps[column] = c
	return c
}

// Set pins column's cap; values below DefaultCap are raised to it.
func (w *Window) Set(column string, n int) {
	if n < DefaultCap {
		n = DefaultCap
	}
	w.mu.Lock()
	w.caps[column] = n
	w.mu.Unlock()
}

// Reset restores every column to DefaultCap.
func (w *Window) Reset() {
	w.mu.Lock()
	w.caps = make(map[string]int)
	w.mu.Unlock()
}

// Page is the visible slice of a column.
type Page[T any] struct {
	Items   []T
	Total   int
	HasMore bool
}

// Slice cuts items to column's cap.
func Slice[T any](w *Window, column string, items []T) Page[T] {
	return Cut(items, w.Cap(column))
}

// Cut keeps the first limit items.
func Cut[T any](items []T, limit int) Page[T] {
	if limit < 0 {
		limit = 0
	}
	p := Page[T]{Total: len(items)}
	if len(items) > limit {
		p.Items = items[:limit]
		p.HasMore = true
		return p
	}
	p.Items = items
	return p
}
