package view

import (
	"net/url"
	"strconv"
	"strings"

	"lead-board/domain"
)

// Query parameter names of the shareable view state.
const (
	ParamBusinessType = "tipo_negocio"
	ParamPropertyType = "tipo_imovel"
	ParamCity         = "cidade"
	ParamExchange     = "aceita_permuta"
	ParamPhone        = "telefone_status"
	ParamSort         = "ordenacao"
	ParamSearch       = "busca"
	ParamModal        = "modal"
)

// State is everything a board URL reproduces: filters, order and the item
// open in the detail view.
type State struct {
	Filter Filter
	Sort   Sort
	// Modal is the id of the item open in the detail view, 0 when closed.
	Modal int64
}

// ParseState reads view state from query values. Invalid values are dropped
// rather than rejected.
func ParseState(q url.Values) State {
	var s State
	s.Filter.BusinessType = strings.TrimSpace(q.Get(ParamBusinessType))
	s.Filter.PropertyType = strings.TrimSpace(q.Get(ParamPropertyType))
	s.Filter.City = strings.TrimSpace(q.Get(ParamCity))
	if v := strings.TrimSpace(q.Get(ParamExchange)); v != "" {
		s.Filter.Exchange = domain.ParseExchangeAcceptance(v)
	}
	s.Filter.Phone = ParsePhoneStatus(q.Get(ParamPhone))
	s.Filter.Search = strings.TrimSpace(q.Get(ParamSearch))
	s.Sort = ParseSort(q.Get(ParamSort))
	if v := q.Get(ParamModal); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			s.Modal = id
		}
	}
	return s
}

// Values returns the populated parameters only.
func (s State) Values() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set(ParamBusinessType, s.Filter.BusinessType)
	set(ParamPropertyType, s.Filter.PropertyType)
	set(ParamCity, s.Filter.City)
	set(ParamExchange, string(s.Filter.Exchange))
	set(ParamPhone, string(s.Filter.Phone))
	set(ParamSort, string(s.Sort))
	set(ParamSearch, s.Filter.Search)
	if s.Modal > 0 {
		q.Set(ParamModal, strconv.FormatInt(s.Modal, 10))
	}
	return q
}

// Encode renders the state as a query string with keys in sorted order, so
// equal states always produce equal URLs.
func (s State) Encode() string {
	return s.Values().Encode()
}
