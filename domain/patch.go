package domain

import (
	"bytes"
	"encoding/json"
)

// Field is one entry of a partial payload. A missing key leaves Present
// false; an explicit JSON null sets Nil.
type Field[T any] struct {
	Present bool
	Nil     bool
	Value   T
}

// Some returns a present, non-null field.
func Some[T any](v T) Field[T] { return Field[T]{Present: true, Value: v} }

// Null returns a present field holding an explicit null.
func Null[T any]() Field[T] { return Field[T]{Present: true, Nil: true} }

// IsZero reports whether the field was absent. It drives omitzero.
func (f Field[T]) IsZero() bool { return !f.Present }

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Present || f.Nil {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON never fails: a value of the wrong shape is treated as absent
// so one bad field cannot poison the rest of a remote payload.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = Field[T]{Present: true, Nil: true}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		*f = Field[T]{}
		return nil
	}
	*f = Field[T]{Present: true, Value: v}
	return nil
}

// ItemPatch carries a partial update of a WorkItem. Only present fields are
// applied.
type ItemPatch struct {
	ColumnID Field[string]         `json:"kanban_coluna_id,omitzero"`
	Order    Field[int]            `json:"kanban_ordem,omitzero"`
	History  Field[[]HistoryEntry] `json:"historico_kanban,omitzero"`

	Title        Field[string]  `json:"titulo,omitzero"`
	Price        Field[float64] `json:"preco,omitzero"`
	PriceText    Field[string]  `json:"preco_str,omitzero"`
	PropertyType Field[string]  `json:"tipo_imovel,omitzero"`
	BusinessType Field[string]  `json:"tipo_negocio,omitzero"`
	Neighborhood Field[string]  `json:"bairro,omitzero"`
	City         Field[string]  `json:"cidade,omitzero"`

	SellerName      Field[string]           `json:"vendedor_nome,omitzero"`
	Phone           Field[string]           `json:"telefone,omitzero"`
	PhoneExists     Field[bool]             `json:"telefone_existe,omitzero"`
	PhoneSearched   Field[bool]             `json:"telefone_pesquisado,omitzero"`
	ExtractedPhones Field[[]ExtractedPhone] `json:"telefones_extraidos,omitzero"`
	WhatsApp        Field[bool]             `json:"vendedor_whatsapp,omitzero"`

	AdExpired       Field[bool]     `json:"anuncio_expirado,omitzero"`
	Authorized      Field[bool]     `json:"autorizado,omitzero"`
	CommissionPct   Field[float64]  `json:"comissao_pct,omitzero"`
	CoverPhoto      Field[string]   `json:"foto_capa,omitzero"`
	Photos          Field[[]string] `json:"fotos,omitzero"`
	AcceptsExchange Field[string]   `json:"aceita_permuta,omitzero"`
	Notes           Field[string]   `json:"notas_corretor,omitzero"`
}

// TouchesPlacement reports whether the patch names the column or the rank.
func (p ItemPatch) TouchesPlacement() bool {
	return p.ColumnID.Present || p.Order.Present
}

// Empty reports whether no field is present.
func (p ItemPatch) Empty() bool {
	return !p.TouchesPlacement() && p.isBlank()
}

// WithoutPlacement returns a copy with the column and rank fields cleared.
func (p ItemPatch) WithoutPlacement() ItemPatch {
	p.ColumnID = Field[string]{}
	p.Order = Field[int]{}
	return p
}

func (p ItemPatch) isBlank() bool {
	return !p.History.Present && !p.Title.Present && !p.Price.Present &&
		!p.PriceText.Present && !p.PropertyType.Present && !p.BusinessType.Present &&
		!p.Neighborhood.Present && !p.City.Present && !p.SellerName.Present &&
		!p.Phone.Present && !p.PhoneExists.Present && !p.PhoneSearched.Present &&
		!p.ExtractedPhones.Present && !p.WhatsApp.Present && !p.AdExpired.Present &&
		!p.Authorized.Present && !p.CommissionPct.Present && !p.CoverPhoto.Present &&
		!p.Photos.Present && !p.AcceptsExchange.Present && !p.Notes.Present
}

// ApplyDescriptive overwrites every present non-placement field of item.
// Placement is handled by the board, which must keep column ranks dense.
func (p ItemPatch) ApplyDescriptive(item *WorkItem) {
	if p.History.Present && !p.History.Nil {
		item.History = append([]HistoryEntry(nil), p.History.Value...)
	}
	applyValue(p.Title, &item.Title)
	applyPtr(p.Price, &item.Price)
	applyPtr(p.PriceText, &item.PriceText)
	applyPtr(p.PropertyType, &item.PropertyType)
	applyPtr(p.BusinessType, &item.BusinessType)
	applyPtr(p.Neighborhood, &item.Neighborhood)
	applyPtr(p.City, &item.City)
	applyPtr(p.SellerName, &item.SellerName)
	applyPtr(p.Phone, &item.Phone)
	applyValue(p.PhoneExists, &item.PhoneExists)
	applyValue(p.PhoneSearched, &item.PhoneSearched)
	if p.ExtractedPhones.Present {
		item.ExtractedPhones = append([]ExtractedPhone(nil), p.ExtractedPhones.Value...)
	}
	applyValue(p.WhatsApp, &item.WhatsApp)
	applyValue(p.AdExpired, &item.AdExpired)
	applyValue(p.Authorized, &item.Authorized)
	applyPtr(p.CommissionPct, &item.CommissionPct)
	applyPtr(p.CoverPhoto, &item.CoverPhoto)
	if p.Photos.Present {
		item.Photos = append([]string(nil), p.Photos.Value...)
	}
	if p.AcceptsExchange.Present {
		if p.AcceptsExchange.Nil {
			item.AcceptsExchange = ExchangeUnknown
		} else {
			item.AcceptsExchange = ParseExchangeAcceptance(p.AcceptsExchange.Value)
		}
	}
	applyPtr(p.Notes, &item.Notes)
}

// Apply overwrites every present field of item, placement included, without
// any rank bookkeeping. Storage backends use it on single records.
func (p ItemPatch) Apply(item *WorkItem) {
	p.ApplyDescriptive(item)
	if p.ColumnID.Present {
		if p.ColumnID.Nil || p.ColumnID.Value == "" {
			item.ColumnID = nil
		} else {
			item.ColumnID = StringPtr(p.ColumnID.Value)
		}
	}
	if p.Order.Present && !p.Order.Nil {
		item.Order = p.Order.Value
	}
}

// PlacementPatch builds the patch announcing a persisted move.
func PlacementPatch(w ItemWrite) ItemPatch {
	return ItemPatch{
		ColumnID: Some(w.ColumnID),
		Order:    Some(w.Order),
		History:  Some(append([]HistoryEntry(nil), w.History...)),
	}
}

func applyPtr[T any](f Field[T], dst **T) {
	if !f.Present {
		return
	}
	if f.Nil {
		*dst = nil
		return
	}
	v := f.Value
	*dst = &v
}

func applyValue[T any](f Field[T], dst *T) {
	if !f.Present {
		return
	}
	if f.Nil {
		var zero T
		*dst = zero
		return
	}
	*dst = f.Value
}
