// Package query describes queries and aggregation pipelines against a remote
// domain and translates them into the backend's wire representation.
package query

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bfast/bfast-go/pkg/apperr"
)

// Direction is a sort direction: 1 ascending, -1 descending.
type Direction int

const (
	Asc  Direction = 1
	Desc Direction = -1
)

// Order is a single-field sort directive.
type Order struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Ascending returns an ascending directive on field.
func Ascending(field string) Order { return Order{Field: field, Direction: Asc} }

// Descending returns a descending directive on field.
func Descending(field string) Order { return Order{Field: field, Direction: Desc} }

// Model describes a logical query against one domain whose records decode into T.
// Zero Skip and Size mean "not set".
type Model[T any] struct {
	Skip    int
	Size    int
	OrderBy []Order
	Filter  Filter
	Keys    []string
	ID      string
}

// Validate checks the model before anything is sent.
func (m Model[T]) Validate() error {
	if m.Skip < 0 {
		return apperr.Validation("skip must be non-negative, got %d", m.Skip)
	}
	if m.Size < 0 {
		return apperr.Validation("size must be non-negative, got %d", m.Size)
	}
	if m.ID != "" && len(m.Filter) > 0 {
		return apperr.Validation("id and filter are mutually exclusive")
	}
	fields, err := FieldsOf[T]()
	if err != nil {
		return err
	}
	for i, o := range m.OrderBy {
		if o.Direction != Asc && o.Direction != Desc {
			return apperr.Validation("orderBy[%d]: direction must be 1 or -1, got %d", i, o.Direction)
		}
		if !fields.Has(o.Field) {
			return apperr.Validation("orderBy[%d]: %q is not a field of %s", i, o.Field, fields.TypeName())
		}
	}
	for _, k := range m.Keys {
		if strings.TrimSpace(k) == "" {
			return apperr.Validation("keys must not contain empty names")
		}
	}
	return nil
}

// OrderParam concatenates OrderBy into a single sort directive, e.g. "age,-name".
func (m Model[T]) OrderParam() string {
	parts := make([]string, 0, len(m.OrderBy))
	for _, o := range m.OrderBy {
		if o.Direction == Desc {
			parts = append(parts, "-"+o.Field)
		} else {
			parts = append(parts, o.Field)
		}
	}
	return strings.Join(parts, ",")
}

// Values encodes the fetch parameters: where, order, skip, limit and keys.
func (m Model[T]) Values() (url.Values, error) {
	v := url.Values{}
	if len(m.Filter) > 0 {
		where, err := m.Filter.JSON()
		if err != nil {
			return nil, err
		}
		v.Set("where", where)
	}
	if order := m.OrderParam(); order != "" {
		v.Set("order", order)
	}
	if m.Skip > 0 {
		v.Set("skip", strconv.Itoa(m.Skip))
	}
	if m.Size > 0 {
		v.Set("limit", strconv.Itoa(m.Size))
	}
	if len(m.Keys) > 0 {
		v.Set("keys", strings.Join(m.Keys, ","))
	}
	return v, nil
}

// CountValues encodes a count request. Only the filter takes part.
func (m Model[T]) CountValues() (url.Values, error) {
	v := url.Values{}
	if len(m.Filter) > 0 {
		where, err := m.Filter.JSON()
		if err != nil {
			return nil, err
		}
		v.Set("where", where)
	}
	v.Set("limit", "0")
	v.Set("count", "1")
	return v, nil
}

// CountOnly strips the fetch-shaping fields so equal filters produce equal count queries.
func (m Model[T]) CountOnly() Model[T] {
	return Model[T]{Filter: m.Filter}
}

type wireModel struct {
	Skip    int      `json:"skip,omitempty"`
	Size    int      `json:"size,omitempty"`
	OrderBy []Order  `json:"orderBy,omitempty"`
	Filter  Filter   `json:"filter,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	ID      string   `json:"id,omitempty"`
}

// MarshalJSON returns the canonical serialization used for cache identifiers.
func (m Model[T]) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(wireModel{
		Skip:    m.Skip,
		Size:    m.Size,
		OrderBy: m.OrderBy,
		Filter:  m.Filter,
		Keys:    m.Keys,
		ID:      m.ID,
	})
	if err != nil {
		return nil, apperr.Validation("query is not serializable: %v", err)
	}
	return b, nil
}

func (d Direction) String() string {
	switch d {
	case Asc:
		return "asc"
	case Desc:
		return "desc"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}
