package database

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
	"github.com/bfast/bfast-go/pkg/query"
)

// Domain reads and writes records of one remote domain, decoding them into T.
type Domain[T any] struct {
	db    *Database
	name  string
	cache *cache.Controller
	log   logger.Logger
}

// NewDomain returns a typed handle on the domain called name.
func NewDomain[T any](db *Database, name string) *Domain[T] {
	d := &Domain[T]{
		db:   db,
		name: name,
		log:  db.log.With("domain", name),
	}
	if db.store != nil {
		ns, err := db.registry.CacheNamespace(db.app, cacheDatabaseName, name)
		if err == nil {
			d.cache = cache.NewController(db.store, ns, d.log)
		}
	}
	return d
}

// Name returns the domain name.
func (d *Domain[T]) Name() string { return d.name }

// Wait blocks until background cache refreshes of this domain have finished.
func (d *Domain[T]) Wait() {
	if d.cache != nil {
		d.cache.Wait()
	}
}

type listResponse[V any] struct {
	Results []V `json:"results"`
	Count   int `json:"count"`
}

// Find returns every record matching q, in the order q.OrderBy requests.
func (d *Domain[T]) Find(ctx context.Context, q query.Model[T], opts ...RequestOptions) (records []T, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "find", d.name)
	defer func() { tracing.End(span, err) }()
	return d.find(ctx, "find", q, opts)
}

// First returns the first record matching q, or nil when nothing matches.
func (d *Domain[T]) First(ctx context.Context, q query.Model[T], opts ...RequestOptions) (record *T, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "first", d.name)
	defer func() { tracing.End(span, err) }()

	q.Size = 1
	records, err := d.find(ctx, "first", q, opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Get returns the record with objectId id. A missing record is an ErrNotFound.
func (d *Domain[T]) Get(ctx context.Context, id string, opts ...RequestOptions) (record T, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "get", d.name)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(id) == "" {
		return record, apperr.Validation("id is required")
	}
	records, err := d.find(ctx, "get", query.Model[T]{ID: id}, opts)
	if err != nil {
		return record, err
	}
	if len(records) == 0 {
		return record, apperr.NotFound("%s %q does not exist", d.name, id)
	}
	return records[0], nil
}

// Count returns the number of records matching q.Filter. The other fields of
// q do not take part in the request.
func (d *Domain[T]) Count(ctx context.Context, q query.Model[T], opts ...RequestOptions) (n int, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "count", d.name)
	defer func() { tracing.End(span, err) }()

	q = q.CountOnly()
	if err := q.Validate(); err != nil {
		return 0, err
	}
	values, err := q.CountValues()
	if err != nil {
		return 0, err
	}
	policy, master, err := d.options(opts)
	if err != nil {
		return 0, err
	}
	identifier, err := d.identifier(ctx, "count", q, master)
	if err != nil {
		return 0, err
	}
	target, err := d.db.url("classes", d.name)
	if err != nil {
		return 0, err
	}
	return cache.Fetch(ctx, d.cache, identifier, policy, func(ctx context.Context) (int, error) {
		resp, err := d.db.send(ctx, http.MethodGet, target, values, nil, master)
		if err != nil {
			return 0, err
		}
		var out listResponse[T]
		if err := resp.Decode(&out); err != nil {
			return 0, err
		}
		return out.Count, nil
	})
}

func (d *Domain[T]) find(ctx context.Context, operation string, q query.Model[T], opts []RequestOptions) ([]T, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	policy, master, err := d.options(opts)
	if err != nil {
		return nil, err
	}
	identifier, err := d.identifier(ctx, operation, q, master)
	if err != nil {
		return nil, err
	}

	var load func(context.Context) ([]T, error)
	if q.ID != "" {
		load, err = d.loadByID(q, master)
	} else {
		load, err = d.loadList(q, master)
	}
	if err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, d.cache, identifier, policy, load)
}

func (d *Domain[T]) loadList(q query.Model[T], master bool) (func(context.Context) ([]T, error), error) {
	values, err := q.Values()
	if err != nil {
		return nil, err
	}
	target, err := d.db.url("classes", d.name)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) ([]T, error) {
		resp, err := d.db.send(ctx, http.MethodGet, target, values, nil, master)
		if err != nil {
			return nil, err
		}
		var out listResponse[T]
		if err := resp.Decode(&out); err != nil {
			return nil, err
		}
		if out.Results == nil {
			out.Results = []T{}
		}
		return out.Results, nil
	}, nil
}

// loadByID fetches one record. Only the backend's object-not-found code
// means the record is missing; any other 404 is a wrong database URL.
func (d *Domain[T]) loadByID(q query.Model[T], master bool) (func(context.Context) ([]T, error), error) {
	target, err := d.db.url("classes", d.name, q.ID)
	if err != nil {
		return nil, err
	}
	var values url.Values
	if len(q.Keys) > 0 {
		values = url.Values{"keys": {strings.Join(q.Keys, ",")}}
	}
	return func(ctx context.Context) ([]T, error) {
		resp, err := d.db.send(ctx, http.MethodGet, target, values, nil, master)
		switch {
		case apperr.CodeOf(err) == apperr.CodeObjectNotFound:
			return []T{}, nil
		case errors.Is(err, apperr.ErrNotFound):
			return nil, fmt.Errorf("%w: %s has no route: %v", apperr.ErrConfig, target, err)
		case err != nil:
			return nil, err
		}
		var record T
		if err := resp.Decode(&record); err != nil {
			return nil, err
		}
		return []T{record}, nil
	}, nil
}

// identifier keys a read in the domain cache. The credential scope is part
// of the key: master, per-session and anonymous reads never share entries.
func (d *Domain[T]) identifier(ctx context.Context, operation string, payload any, master bool) (string, error) {
	id, err := query.Identifier(operation, d.name, payload)
	if err != nil {
		return "", err
	}
	return id + "_" + d.db.scope(ctx, master), nil
}

func (d *Domain[T]) options(opts []RequestOptions) (cache.Policy, bool, error) {
	creds, err := d.db.registry.Resolve(d.db.app)
	if err != nil {
		return cache.Policy{}, false, err
	}
	policy, master := resolveOptions(creds.Cache, opts)
	return policy, master, nil
}
