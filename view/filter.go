package view

import (
	"sort"
	"strconv"
	"strings"

	"lead-board/domain"
)

// PhoneStatus filters on whether a seller phone is known.
type PhoneStatus string

const (
	PhoneAny     PhoneStatus = ""
	WithPhone    PhoneStatus = "com_telefone"
	WithoutPhone PhoneStatus = "sem_telefone"
)

// ParsePhoneStatus returns PhoneAny for unknown values.
func ParsePhoneStatus(s string) PhoneStatus {
	switch PhoneStatus(s) {
	case WithPhone, WithoutPhone:
		return PhoneStatus(s)
	default:
		return PhoneAny
	}
}

// Filter is a conjunction of predicates over work items. Zero fields match
// everything.
type Filter struct {
	BusinessType string
	PropertyType string
	City         string
	Exchange     domain.ExchangeAcceptance
	Phone        PhoneStatus
	Search       string
}

// Active reports whether any predicate is set.
func (f Filter) Active() bool {
	return f != Filter{}
}

// Match reports whether item satisfies every set predicate.
func (f Filter) Match(item domain.WorkItem) bool {
	if f.BusinessType != "" && deref(item.BusinessType) != f.BusinessType {
		return false
	}
	if f.PropertyType != "" && deref(item.PropertyType) != f.PropertyType {
		return false
	}
	if f.City != "" && deref(item.City) != f.City {
		return false
	}
	if f.Exchange != "" && exchangeOf(item) != f.Exchange {
		return false
	}
	switch f.Phone {
	case WithPhone:
		if !item.HasPhone() {
			return false
		}
	case WithoutPhone:
		if item.HasPhone() {
			return false
		}
	}
	if term := strings.TrimSpace(f.Search); term != "" && !matchSearch(item, term) {
		return false
	}
	return true
}

// matchSearch checks identifiers by exact or substring numeric match and the
// title by case-insensitive substring.
func matchSearch(item domain.WorkItem, term string) bool {
	ids := []string{strconv.FormatInt(item.ID, 10), strconv.FormatInt(item.ListID, 10)}
	if item.AdID != nil {
		ids = append(ids, strconv.FormatInt(*item.AdID, 10))
	}
	for _, id := range ids {
		if id == term || strings.Contains(id, term) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(item.Title), strings.ToLower(term))
}

func exchangeOf(item domain.WorkItem) domain.ExchangeAcceptance {
	if item.AcceptsExchange == "" {
		return domain.ExchangeUnknown
	}
	return item.AcceptsExchange
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Options lists the distinct cities and property types present in items,
// sorted, for populating filter choices.
func Options(items []domain.WorkItem) (cities, propertyTypes []string) {
	seenCity := map[string]struct{}{}
	seenType := map[string]struct{}{}
	for _, it := range items {
		if c := deref(it.City); c != "" {
			if _, ok := seenCity[c]; !ok {
				seenCity[c] = struct{}{}
				cities = append(cities, c)
			}
		}
		if pt := deref(it.PropertyType); pt != "" {
			if _, ok := seenType[pt]; !ok {
				seenType[pt] = struct{}{}
				propertyTypes = append(propertyTypes, pt)
			}
		}
	}
	sort.Strings(cities)
	sort.Strings(propertyTypes)
	return cities, propertyTypes
}
