package database

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
	"github.com/bfast/bfast-go/pkg/query"
)

type distinctPayload[T any] struct {
	Key   string         `json:"key"`
	Query query.Model[T] `json:"query"`
}

// Distinct returns the distinct values of key among records matching q.Filter,
// in the order the server returns them.
func Distinct[V any, T any](ctx context.Context, d *Domain[T], key string, q query.Model[T], opts ...RequestOptions) (values []V, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "distinct", d.name)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(key) == "" {
		return nil, apperr.Validation("distinct key is required")
	}
	fields, err := query.FieldsOf[T]()
	if err != nil {
		return nil, err
	}
	if !fields.Has(key) {
		return nil, apperr.Validation("%q is not a field of %s", key, fields.TypeName())
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.ID != "" {
		return nil, apperr.Validation("distinct does not accept an id")
	}

	params := url.Values{"distinct": {key}}
	if len(q.Filter) > 0 {
		where, err := q.Filter.JSON()
		if err != nil {
			return nil, err
		}
		params.Set("where", where)
	}
	return aggregateCall[[]V](ctx, d, "distinct", distinctPayload[T]{Key: key, Query: q.CountOnly()}, params, opts)
}

// Aggregate runs pipeline on the domain and decodes the results into V.
// A single AggregationOptions is sent as a one-element pipeline.
func Aggregate[V any, T any](ctx context.Context, d *Domain[T], pipeline query.Pipeline, opts ...RequestOptions) (result V, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "aggregate", d.name)
	defer func() { tracing.End(span, err) }()

	encoded, err := query.EncodePipeline(pipeline)
	if err != nil {
		return result, err
	}
	return aggregateCall[V](ctx, d, "aggregate", pipeline, url.Values{"pipeline": {encoded}}, opts)
}

func aggregateCall[V any, T any](ctx context.Context, d *Domain[T], operation string, payload any, params url.Values, opts []RequestOptions) (V, error) {
	var zero V
	policy, master, err := d.options(opts)
	if err != nil {
		return zero, err
	}
	identifier, err := d.identifier(ctx, operation, payload, master)
	if err != nil {
		return zero, err
	}
	target, err := d.db.url("aggregate", d.name)
	if err != nil {
		return zero, err
	}
	return cache.Fetch(ctx, d.cache, identifier, policy, func(ctx context.Context) (V, error) {
		var out struct {
			Results V `json:"results"`
		}
		resp, err := d.db.send(ctx, http.MethodGet, target, params, nil, master)
		if err != nil {
			return out.Results, err
		}
		if err := resp.Decode(&out); err != nil {
			return out.Results, err
		}
		return out.Results, nil
	})
}
