package query

import (
	"encoding/json"
	"maps"
	"regexp"

	"github.com/bfast/bfast-go/pkg/apperr"
)

// Filter is a predicate tree in the backend's "where" syntax.
type Filter map[string]any

// JSON serializes the filter. Map keys come out sorted so equal filters
// always produce equal strings.
func (f Filter) JSON() (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", apperr.Validation("filter is not serializable: %v", err)
	}
	return string(b), nil
}

// FullTextOptions tune a full-text predicate. Nil flags are left to the server.
type FullTextOptions struct {
	Language           string
	CaseSensitive      *bool
	DiacriticSensitive *bool
}

// Criteria builds a Filter field by field. Constraints on the same field merge.
type Criteria struct {
	filter Filter
}

// Where starts a new criteria builder.
func Where() *Criteria {
	return &Criteria{filter: Filter{}}
}

func (c *Criteria) constrain(field, op string, value any) *Criteria {
	existing, ok := c.filter[field].(map[string]any)
	if !ok {
		existing = map[string]any{}
	}
	existing[op] = value
	c.filter[field] = existing
	return c
}

// Equal matches records whose field equals value.
func (c *Criteria) Equal(field string, value any) *Criteria {
	c.filter[field] = value
	return c
}

func (c *Criteria) NotEqual(field string, value any) *Criteria {
	return c.constrain(field, "$ne", value)
}

func (c *Criteria) GreaterThan(field string, value any) *Criteria {
	return c.constrain(field, "$gt", value)
}

func (c *Criteria) GreaterThanOrEqual(field string, value any) *Criteria {
	return c.constrain(field, "$gte", value)
}

func (c *Criteria) LessThan(field string, value any) *Criteria {
	return c.constrain(field, "$lt", value)
}

func (c *Criteria) LessThanOrEqual(field string, value any) *Criteria {
	return c.constrain(field, "$lte", value)
}

func (c *Criteria) In(field string, values ...any) *Criteria {
	return c.constrain(field, "$in", values)
}

func (c *Criteria) NotIn(field string, values ...any) *Criteria {
	return c.constrain(field, "$nin", values)
}

// Exists matches records where field is present (or absent when exists is false).
func (c *Criteria) Exists(field string, exists bool) *Criteria {
	return c.constrain(field, "$exists", exists)
}

// Regex matches field against pattern. modifiers follow the server's regex options, e.g. "i".
func (c *Criteria) Regex(field, pattern, modifiers string) *Criteria {
	c.constrain(field, "$regex", pattern)
	if modifiers != "" {
		c.constrain(field, "$options", modifiers)
	}
	return c
}

// StartsWith matches string fields with the literal prefix.
func (c *Criteria) StartsWith(field, prefix string) *Criteria {
	return c.constrain(field, "$regex", "^"+regexp.QuoteMeta(prefix))
}

// FullText matches field against a full-text search term.
func (c *Criteria) FullText(field, term string, opts FullTextOptions) *Criteria {
	search := map[string]any{"$term": term}
	if opts.Language != "" {
		search["$language"] = opts.Language
	}
	if opts.CaseSensitive != nil {
		search["$caseSensitive"] = *opts.CaseSensitive
	}
	if opts.DiacriticSensitive != nil {
		search["$diacriticSensitive"] = *opts.DiacriticSensitive
	}
	return c.constrain(field, "$text", map[string]any{"$search": search})
}

// Build returns a copy of the accumulated filter.
func (c *Criteria) Build() Filter {
	out := make(Filter, len(c.filter))
	for field, v := range c.filter {
		if constraints, ok := v.(map[string]any); ok {
			v = maps.Clone(constraints)
		}
		out[field] = v
	}
	return out
}

// Or matches records satisfying any of filters.
func Or(filters ...Filter) Filter {
	return Filter{"$or": nonEmpty(filters)}
}

// And matches records satisfying all of filters.
func And(filters ...Filter) Filter {
	return Filter{"$and": nonEmpty(filters)}
}

func nonEmpty(filters []Filter) []Filter {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if len(f) > 0 {
			out = append(out, f)
		}
	}
	return out
}
