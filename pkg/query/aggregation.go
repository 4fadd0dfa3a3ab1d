package query

import (
	"bytes"
	"reflect"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/bfast/bfast-go/pkg/apperr"
)

// AggregationOptions is one stage-set of an aggregation pipeline.
// Sort keeps its directive order on the wire; zero Limit and Skip are omitted.
type AggregationOptions struct {
	Group   map[string]any
	Match   Filter
	Project map[string]any
	Limit   int
	Skip    int
	Sort    []Order
}

// Pipeline is anything that can be sent as an aggregation pipeline: a single
// AggregationOptions or a Stages sequence.
type Pipeline interface {
	AsStages() []AggregationOptions
}

// AsStages normalizes a single stage into a one-element pipeline.
func (a AggregationOptions) AsStages() []AggregationOptions {
	return []AggregationOptions{a}
}

// Stages is an ordered aggregation pipeline.
type Stages []AggregationOptions

func (s Stages) AsStages() []AggregationOptions { return s }

// Validate checks every stage of p.
func Validate(p Pipeline) error {
	if p == nil {
		return apperr.Validation("pipeline is required")
	}
	stages := p.AsStages()
	if len(stages) == 0 {
		return apperr.Validation("pipeline must have at least one stage")
	}
	for i, st := range stages {
		if st.Limit < 0 || st.Skip < 0 {
			return apperr.Validation("stage %d: limit and skip must be non-negative", i)
		}
		for _, o := range st.Sort {
			if o.Direction != Asc && o.Direction != Desc {
				return apperr.Validation("stage %d: sort %q must be 1 or -1", i, o.Field)
			}
		}
		if st.isEmpty() {
			return apperr.Validation("stage %d is empty", i)
		}
	}
	return nil
}

func (a AggregationOptions) isEmpty() bool {
	return len(a.Group) == 0 && len(a.Match) == 0 && len(a.Project) == 0 &&
		a.Limit == 0 && a.Skip == 0 && len(a.Sort) == 0
}

// document renders the stage as an ordered document.
func (a AggregationOptions) document() bson.D {
	doc := bson.D{}
	if len(a.Group) > 0 {
		doc = append(doc, bson.E{Key: "group", Value: ordered(a.Group)})
	}
	if len(a.Match) > 0 {
		doc = append(doc, bson.E{Key: "match", Value: ordered(map[string]any(a.Match))})
	}
	if len(a.Project) > 0 {
		doc = append(doc, bson.E{Key: "project", Value: ordered(a.Project)})
	}
	if a.Limit > 0 {
		doc = append(doc, bson.E{Key: "limit", Value: int64(a.Limit)})
	}
	if a.Skip > 0 {
		doc = append(doc, bson.E{Key: "skip", Value: int64(a.Skip)})
	}
	if len(a.Sort) > 0 {
		sortDoc := make(bson.D, 0, len(a.Sort))
		for _, o := range a.Sort {
			sortDoc = append(sortDoc, bson.E{Key: o.Field, Value: int32(o.Direction)})
		}
		doc = append(doc, bson.E{Key: "sort", Value: sortDoc})
	}
	return doc
}

// EncodePipeline renders p as a JSON array of stage objects, preserving stage
// order and sort directive order.
func EncodePipeline(p Pipeline) (string, error) {
	if err := Validate(p); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, st := range p.AsStages() {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := bson.MarshalExtJSON(st.document(), false, false)
		if err != nil {
			return "", apperr.Validation("stage %d is not serializable: %v", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

// ordered converts string-keyed maps of any type (bson.M, map[string]int,
// Filter, ...) into key-sorted documents so the encoding is deterministic.
func ordered(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		doc := make(bson.D, 0, len(keys))
		for _, k := range keys {
			doc = append(doc, bson.E{Key: k, Value: ordered(val[k])})
		}
		return doc
	case []any:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = ordered(item)
		}
		return out
	case bson.D:
		out := make(bson.D, len(val))
		for i, e := range val {
			out[i] = bson.E{Key: e.Key, Value: ordered(e.Value)}
		}
		return out
	case int:
		return int64(val)
	case []byte, string, bool, float64, int32, int64, nil:
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		doc := make(bson.D, 0, len(keys))
		for _, k := range keys {
			doc = append(doc, bson.E{Key: k.String(), Value: ordered(rv.MapIndex(k).Interface())})
		}
		return doc
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return v
		}
		out := make(bson.A, rv.Len())
		for i := range out {
			out[i] = ordered(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
