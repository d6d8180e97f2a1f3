package domain

import (
	"strings"
	"time"
)

// ExchangeAcceptance records whether a seller accepts a property exchange.
type ExchangeAcceptance string

const (
	ExchangeAccepted ExchangeAcceptance = "aceita"
	ExchangeRejected ExchangeAcceptance = "nao_aceita"
	ExchangeUnknown  ExchangeAcceptance = "nao_informado"
)

// ParseExchangeAcceptance maps raw values onto the known set. Anything
// unrecognised is treated as not informed.
func ParseExchangeAcceptance(s string) ExchangeAcceptance {
	switch ExchangeAcceptance(strings.ToLower(strings.TrimSpace(s))) {
	case ExchangeAccepted:
		return ExchangeAccepted
	case ExchangeRejected:
		return ExchangeRejected
	default:
		return ExchangeUnknown
	}
}

// HistoryEntry is one column transition in an item's board history.
type HistoryEntry struct {
	ColumnName string    `json:"coluna"`
	Timestamp  time.Time `json:"data"`
}

// ExtractedPhone is a phone number found in the listing text or by the worker.
type ExtractedPhone struct {
	Name   *string `json:"nome"`
	Phone  string  `json:"telefone"`
	Source string  `json:"origem,omitempty"`
}

// Column is a board lane. Columns are loaded once per session.
type Column struct {
	ID    string `json:"id"`
	Name  string `json:"nome"`
	Order int    `json:"ordem"`
}

// WorkItem is a property listing tracked on the board.
type WorkItem struct {
	ID       int64   `json:"id"`
	AdID     *int64  `json:"ad_id"`
	ListID   int64   `json:"list_id"`
	ColumnID *string `json:"kanban_coluna_id"`
	Order    int     `json:"kanban_ordem"`

	Title        string   `json:"titulo"`
	URL          string   `json:"url"`
	Price        *float64 `json:"preco"`
	PriceText    *string  `json:"preco_str"`
	PropertyType *string  `json:"tipo_imovel"`
	BusinessType *string  `json:"tipo_negocio"`
	AreaM2       *float64 `json:"area_m2"`
	Bedrooms     *int     `json:"quartos"`
	Bathrooms    *int     `json:"banheiros"`
	ParkingSpots *int     `json:"vagas_garagem"`

	Neighborhood *string `json:"bairro"`
	City         *string `json:"cidade"`
	State        *string `json:"estado"`
	PostalCode   *string `json:"cep"`

	SellerName      *string          `json:"vendedor_nome"`
	Phone           *string          `json:"telefone"`
	PhoneMask       *string          `json:"telefone_mascara"`
	PhoneExists     bool             `json:"telefone_existe"`
	PhoneSearched   bool             `json:"telefone_pesquisado"`
	ExtractedPhones []ExtractedPhone `json:"telefones_extraidos,omitempty"`
	WhatsApp        bool             `json:"vendedor_whatsapp"`
	ChatActive      bool             `json:"vendedor_chat_ativo"`

	AdExpired       bool               `json:"anuncio_expirado"`
	Authorized      bool               `json:"autorizado"`
	CommissionPct   *float64           `json:"comissao_pct"`
	CoverPhoto      *string            `json:"foto_capa"`
	Photos          []string           `json:"fotos,omitempty"`
	Origin          *string            `json:"origem"`
	AcceptsExchange ExchangeAcceptance `json:"aceita_permuta"`
	Notes           *string            `json:"notas_corretor"`

	History []HistoryEntry `json:"historico_kanban"`
}

// OnBoard reports whether the item is placed in a column.
func (w WorkItem) OnBoard() bool {
	return w.ColumnID != nil && *w.ColumnID != ""
}

// Column returns the column id or "" when the item is off the board.
func (w WorkItem) Column() string {
	if w.ColumnID == nil {
		return ""
	}
	return *w.ColumnID
}

// HasPhone reports whether a usable phone number is known for the seller.
func (w WorkItem) HasPhone() bool {
	if w.Phone != nil && strings.TrimSpace(*w.Phone) != "" {
		return true
	}
	return w.PhoneExists
}

// Clone returns a copy that shares no slices with w. Pointer fields are
// shared; they are never mutated through, only replaced.
func (w WorkItem) Clone() WorkItem {
	out := w
	if w.History != nil {
		out.History = append([]HistoryEntry(nil), w.History...)
	}
	if w.Photos != nil {
		out.Photos = append([]string(nil), w.Photos...)
	}
	if w.ExtractedPhones != nil {
		out.ExtractedPhones = append([]ExtractedPhone(nil), w.ExtractedPhones...)
	}
	return out
}

// Placement captures the fields a move changes. It doubles as the rollback
// snapshot of a move.
type Placement struct {
	ItemID   int64          `json:"itemId"`
	ColumnID *string        `json:"columnId"`
	Order    int            `json:"order"`
	History  []HistoryEntry `json:"history"`
}

// PlacementOf captures the current placement of item.
func PlacementOf(item WorkItem) Placement {
	p := Placement{ItemID: item.ID, Order: item.Order}
	if item.ColumnID != nil {
		col := *item.ColumnID
		p.ColumnID = &col
	}
	p.History = append([]HistoryEntry(nil), item.History...)
	return p
}

// ItemWrite is the payload persisted for a move.
type ItemWrite struct {
	ColumnID string         `json:"kanban_coluna_id"`
	Order    int            `json:"kanban_ordem"`
	History  []HistoryEntry `json:"historico_kanban"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
