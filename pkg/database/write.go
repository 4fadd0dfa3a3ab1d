package database

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
)

// ObjectRef identifies a record the backend has created.
type ObjectRef struct {
	ObjectID  string    `json:"objectId"`
	CreatedAt time.Time `json:"createdAt"`
}

// UpdateResult is returned by Update.
type UpdateResult struct {
	UpdatedAt time.Time `json:"updatedAt"`
}

// Save creates record in the domain.
func (d *Domain[T]) Save(ctx context.Context, record T, opts ...RequestOptions) (ref ObjectRef, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "save", d.name)
	defer func() { tracing.End(span, err) }()

	target, err := d.db.url("classes", d.name)
	if err != nil {
		return ref, err
	}
	resp, err := d.db.send(ctx, http.MethodPost, target, nil, record, masterOf(opts))
	if err != nil {
		return ref, err
	}
	if err := resp.Decode(&ref); err != nil {
		return ref, err
	}
	d.invalidate(ctx)
	return ref, nil
}

// Update applies fields to the record with objectId id.
func (d *Domain[T]) Update(ctx context.Context, id string, fields map[string]any, opts ...RequestOptions) (res UpdateResult, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "update", d.name)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(id) == "" {
		return res, apperr.Validation("id is required")
	}
	if len(fields) == 0 {
		return res, apperr.Validation("update requires at least one field")
	}
	target, err := d.db.url("classes", d.name, id)
	if err != nil {
		return res, err
	}
	resp, err := d.db.send(ctx, http.MethodPut, target, nil, fields, masterOf(opts))
	if err != nil {
		return res, err
	}
	if err := resp.Decode(&res); err != nil {
		return res, err
	}
	d.invalidate(ctx)
	return res, nil
}

// Delete removes the record with objectId id.
func (d *Domain[T]) Delete(ctx context.Context, id string, opts ...RequestOptions) (err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentDatabase, "delete", d.name)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(id) == "" {
		return apperr.Validation("id is required")
	}
	target, err := d.db.url("classes", d.name, id)
	if err != nil {
		return err
	}
	if _, err := d.db.send(ctx, http.MethodDelete, target, nil, nil, masterOf(opts)); err != nil {
		return err
	}
	d.invalidate(ctx)
	return nil
}

// invalidate drops cached reads of the domain after a write.
func (d *Domain[T]) invalidate(ctx context.Context) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Clear(ctx); err != nil {
		d.log.WithContext(ctx).Warn("cache invalidation failed", "error", err)
	}
}

func masterOf(opts []RequestOptions) bool {
	return len(opts) > 0 && opts[len(opts)-1].UseMasterKey
}
