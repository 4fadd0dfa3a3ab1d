package query

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bfast/bfast-go/pkg/apperr"
)

// builtinFields exist on every record regardless of the declared type.
var builtinFields = map[string]struct{}{
	"objectId":  {},
	"id":        {},
	"_id":       {},
	"createdAt": {},
	"updatedAt": {},
	"ACL":       {},
}

// FieldSet is the set of top-level JSON field names of a record type.
// A nil set accepts every name.
type FieldSet struct {
	typeName string
	names    map[string]struct{}
}

// Has reports whether name, or the first segment of a dotted path, is a known field.
func (s FieldSet) Has(name string) bool {
	if name == "" {
		return false
	}
	if s.names == nil {
		return true
	}
	head, _, _ := strings.Cut(name, ".")
	if _, ok := builtinFields[head]; ok {
		return true
	}
	_, ok := s.names[head]
	return ok
}

// TypeName returns the record type the set was derived from.
func (s FieldSet) TypeName() string { return s.typeName }

var fieldCache sync.Map // reflect.Type -> FieldSet

// FieldsOf derives the field set of T from its JSON schema.
// Maps, interfaces and other non-struct types produce an open set.
func FieldsOf[T any]() (FieldSet, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(FieldSet), nil
	}

	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	set := FieldSet{typeName: t.String()}
	if base.Kind() == reflect.Struct {
		schema, err := jsonschema.ForType(base, &jsonschema.ForOptions{
			IgnoreInvalidTypes: true,
			TypeSchemas: map[reflect.Type]*jsonschema.Schema{
				reflect.TypeOf(time.Time{}):      {Type: "string"},
				reflect.TypeOf(time.Duration(0)): {Type: "string"},
			},
		})
		if err != nil {
			return FieldSet{}, apperr.Validation("cannot derive fields of %s: %v", t, err)
		}
		set.names = make(map[string]struct{}, len(schema.Properties))
		for name := range schema.Properties {
			set.names[name] = struct{}{}
		}
	}
	fieldCache.Store(t, set)
	return set, nil
}
