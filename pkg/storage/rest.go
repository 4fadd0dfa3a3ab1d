package storage

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
	"github.com/bfast/bfast-go/pkg/transport"
)

// REST stores files through the database's file endpoints.
type REST struct {
	app       string
	registry  *config.Registry
	transport transport.Transport
	log       logger.Logger
}

// NewREST returns a REST backend bound to app.
func NewREST(app string, registry *config.Registry, tr transport.Transport, log logger.Logger) (*REST, error) {
	if registry == nil {
		return nil, apperr.Config("registry is required")
	}
	if tr == nil {
		return nil, apperr.Config("transport is required")
	}
	if _, err := registry.Resolve(app); err != nil {
		return nil, err
	}
	if strings.TrimSpace(app) == "" {
		app = config.DefaultApp
	}
	return &REST{app: app, registry: registry, transport: tr, log: logger.OrNop(log).With("app", app)}, nil
}

// Save uploads body as name. The backend may rename the file; the returned
// FileRef carries the stored name.
func (s *REST) Save(ctx context.Context, name string, body io.Reader, contentType string) (ref FileRef, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentStorage, "save", name)
	defer func() { tracing.End(span, err) }()

	name, err = cleanName(name)
	if err != nil {
		return ref, err
	}
	if body == nil {
		return ref, apperr.Validation("file body is required")
	}
	headers, err := s.registry.Headers(s.app)
	if err != nil {
		return ref, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers.Set("Content-Type", contentType)
	target, err := s.registry.DatabaseURL(s.app, "/files/"+url.PathEscape(name))
	if err != nil {
		return ref, err
	}
	resp, err := s.transport.Send(ctx, transport.Request{
		Method:    http.MethodPost,
		URL:       target,
		Headers:   headers,
		Body:      body,
		Component: string(tracing.ComponentStorage),
	})
	if err != nil {
		return ref, err
	}
	if err := resp.Decode(&ref); err != nil {
		return ref, err
	}
	return ref, nil
}

// URL returns the public URL of name.
func (s *REST) URL(_ context.Context, name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	creds, err := s.registry.Resolve(s.app)
	if err != nil {
		return "", err
	}
	return s.registry.DatabaseURL(s.app, "/files/"+url.PathEscape(creds.ApplicationID)+"/"+url.PathEscape(name))
}

// Delete removes name. It always uses the master key.
func (s *REST) Delete(ctx context.Context, name string) (err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentStorage, "delete", name)
	defer func() { tracing.End(span, err) }()

	name, err = cleanName(name)
	if err != nil {
		return err
	}
	headers, err := s.registry.MasterHeaders(s.app)
	if err != nil {
		return err
	}
	target, err := s.registry.DatabaseURL(s.app, "/files/"+url.PathEscape(name))
	if err != nil {
		return err
	}
	_, err = s.transport.Send(ctx, transport.Request{
		Method:    http.MethodDelete,
		URL:       target,
		Headers:   headers,
		Component: string(tracing.ComponentStorage),
	})
	return err
}

// List returns the files whose name starts with prefix.
func (s *REST) List(ctx context.Context, prefix string) (refs []FileRef, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentStorage, "list", prefix)
	defer func() { tracing.End(span, err) }()

	creds, err := s.registry.Resolve(s.app)
	if err != nil {
		return nil, err
	}
	headers, err := s.registry.MasterHeaders(s.app)
	if err != nil {
		return nil, err
	}
	target, err := s.registry.DatabaseURL(s.app, "/storage/"+url.PathEscape(creds.ApplicationID)+"/list")
	if err != nil {
		return nil, err
	}
	var query url.Values
	if prefix != "" {
		query = url.Values{"prefix": {prefix}}
	}
	resp, err := s.transport.Send(ctx, transport.Request{
		Method:    http.MethodGet,
		URL:       target,
		Query:     query,
		Headers:   headers,
		Component: string(tracing.ComponentStorage),
	})
	if err != nil {
		return nil, err
	}
	var names []string
	if err := resp.Decode(&names); err != nil {
		return nil, err
	}
	refs = make([]FileRef, 0, len(names))
	for _, n := range names {
		u, err := s.URL(ctx, n)
		if err != nil {
			return nil, err
		}
		refs = append(refs, FileRef{Name: n, URL: u})
	}
	return refs, nil
}
