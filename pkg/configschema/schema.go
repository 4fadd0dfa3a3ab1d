// Package configschema generates the JSON Schema of the SDK configuration file.
package configschema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bfast/bfast-go/pkg/config"
)

// secretFields are described as write-only so editors do not echo them back.
var secretFields = map[string]struct{}{
	"app_password":      {},
	"token":             {},
	"secret_access_key": {},
}

// Build returns the JSON Schema of config.Config with DefaultConfig values as defaults.
func Build() (*jsonschema.Schema, error) {
	opts := &jsonschema.ForOptions{
		IgnoreInvalidTypes: true,
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeOf(time.Duration(0)): {Type: "string"},
		},
	}

	typeOf := reflect.TypeOf(config.Config{})
	schema, err := jsonschema.ForType(typeOf, opts)
	if err != nil {
		return nil, fmt.Errorf("build config schema: %w", err)
	}
	applyFieldNames(schema, typeOf)
	injectDefaults(schema, reflect.ValueOf(config.DefaultConfig()))
	pruneRequiredWithDefaults(schema)

	if apps := schema.Properties["apps"]; apps != nil && apps.AdditionalProperties != nil {
		apps.AdditionalProperties.Required = []string{"application_id"}
	}
	markSecrets(schema)

	schema.Title = "BFast Client Configuration"
	schema.Description = "Schema for the bfast SDK and CLI configuration file."
	schema.Schema = "https://json-schema.org/draft/2020-12/schema"
	return schema, nil
}

// JSON renders the schema with indentation.
func JSON() ([]byte, error) {
	schema, err := Build()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(schema, "", "  ")
}

// applyFieldNames renames properties from Go field names to config keys,
// recursing through nested structs and map values.
func applyFieldNames(schema *jsonschema.Schema, t reflect.Type) {
	if schema == nil {
		return
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Map:
		applyFieldNames(schema.AdditionalProperties, t.Elem())
	case reflect.Slice, reflect.Array:
		applyFieldNames(schema.Items, t.Elem())
	case reflect.Struct:
		renamed := make(map[string]string, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			key := configKey(field)
			renamed[field.Name] = key
			if prop, ok := schema.Properties[field.Name]; ok {
				delete(schema.Properties, field.Name)
				schema.Properties[key] = prop
				applyFieldNames(prop, field.Type)
			}
		}
		for i, name := range schema.Required {
			if key, ok := renamed[name]; ok {
				schema.Required[i] = key
			}
		}
		for i, name := range schema.PropertyOrder {
			if key, ok := renamed[name]; ok {
				schema.PropertyOrder[i] = key
			}
		}
	}
}

// injectDefaults records the values of defaults as schema defaults.
func injectDefaults(schema *jsonschema.Schema, value reflect.Value) {
	if schema == nil || !value.IsValid() {
		return
	}
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return
		}
		value = value.Elem()
	}

	if value.Kind() != reflect.Struct {
		if schema.Default == nil {
			schema.Default = defaultValue(value)
		}
		return
	}
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		prop, ok := schema.Properties[configKey(field)]
		if !ok {
			continue
		}
		if prop.Default == nil && value.Field(i).Kind() != reflect.Struct {
			prop.Default = defaultValue(value.Field(i))
		}
		injectDefaults(prop, value.Field(i))
	}
}

// pruneRequiredWithDefaults drops required entries that have a default.
func pruneRequiredWithDefaults(schema *jsonschema.Schema) {
	if schema == nil {
		return
	}
	for _, prop := range schema.Properties {
		pruneRequiredWithDefaults(prop)
	}
	kept := schema.Required[:0]
	for _, name := range schema.Required {
		prop := schema.Properties[name]
		if prop == nil || (prop.Default == nil && !optionalSection(prop)) {
			kept = append(kept, name)
		}
	}
	schema.Required = kept
}

// optionalSection reports whether prop is an object none of whose keys are required.
func optionalSection(prop *jsonschema.Schema) bool {
	return prop.Type == "object" && len(prop.Properties) > 0 && len(prop.Required) == 0
}

// markSecrets flags secret keys at any depth as write-only.
func markSecrets(schema *jsonschema.Schema) {
	if schema == nil {
		return
	}
	for name, prop := range schema.Properties {
		if _, secret := secretFields[name]; secret {
			prop.WriteOnly = true
		}
		markSecrets(prop)
	}
	markSecrets(schema.AdditionalProperties)
}

// defaultValue renders a default; durations use their string form.
func defaultValue(value reflect.Value) json.RawMessage {
	if value.Kind() == reflect.Slice && value.IsNil() {
		return json.RawMessage("[]")
	}
	var v any = value.Interface()
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// configKey is the mapstructure tag of a field, or its snake_case name.
func configKey(field reflect.StructField) string {
	if name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ","); name != "" && name != "-" {
		return name
	}
	return snakeCase(field.Name)
}

func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
