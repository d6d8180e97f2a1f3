package view

import (
	"math"
	"sort"

	"lead-board/domain"
)

// Sort selects the display order inside a column.
type Sort string

const (
	SortBoard     Sort = ""
	SortNewest    Sort = "recente_antigo"
	SortOldest    Sort = "antigo_recente"
	SortPriceDesc Sort = "preco_maior"
	SortPriceAsc  Sort = "preco_menor"
)

// Sorts lists every order in the sequence a UI cycles through them.
var Sorts = []Sort{SortBoard, SortNewest, SortOldest, SortPriceDesc, SortPriceAsc}

// ParseSort returns SortBoard for unknown values.
func ParseSort(s string) Sort {
	for _, v := range Sorts {
		if string(v) == s {
			return v
		}
	}
	return SortBoard
}

// Label is a short human readable name.
func (s Sort) Label() string {
	switch s {
	case SortNewest:
		return "mais recentes"
	case SortOldest:
		return "mais antigos"
	case SortPriceDesc:
		return "maior preço"
	case SortPriceAsc:
		return "menor preço"
	default:
		return "ordem do quadro"
	}
}

// Next cycles to the following order.
func (s Sort) Next() Sort {
	for i, v := range Sorts {
		if v == s {
			return Sorts[(i+1)%len(Sorts)]
		}
	}
	return SortBoard
}

// less is a strict weak order; ties fall through to rank and then id so the
// result is total.
func (s Sort) less(a, b domain.WorkItem) bool {
	switch s {
	case SortNewest:
		if a.ID != b.ID {
			return a.ID > b.ID
		}
	case SortOldest:
		if a.ID != b.ID {
			return a.ID < b.ID
		}
	case SortPriceDesc:
		pa, pb := priceOr(a, 0), priceOr(b, 0)
		if pa != pb {
			return pa > pb
		}
	case SortPriceAsc:
		pa, pb := priceOr(a, math.Inf(1)), priceOr(b, math.Inf(1))
		if pa != pb {
			return pa < pb
		}
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}

func priceOr(item domain.WorkItem, unknown float64) float64 {
	if item.Price == nil || math.IsNaN(*item.Price) {
		return unknown
	}
	return *item.Price
}

// Apply sorts items in place.
func (s Sort) Apply(items []domain.WorkItem) {
	sort.SliceStable(items, func(i, j int) bool { return s.less(items[i], items[j]) })
}

// Select returns the items matching f in order s. The input is not modified.
func Select(items []domain.WorkItem, f Filter, s Sort) []domain.WorkItem {
	out := make([]domain.WorkItem, 0, len(items))
	for _, it := range items {
		if f.Match(it) {
			out = append(out, it)
		}
	}
	s.Apply(out)
	return out
}
