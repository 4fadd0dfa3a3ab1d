// Package functions calls HTTP functions and opens realtime events of an application.
package functions

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
	"github.com/bfast/bfast-go/pkg/realtime/ws"
	"github.com/bfast/bfast-go/pkg/transport"
)

// SessionSource supplies the session token of the signed-in user, if any.
type SessionSource interface {
	SessionToken(ctx context.Context) string
}

// Options configures a Functions client.
type Options struct {
	App       string
	Registry  *config.Registry
	Transport transport.Transport
	Sessions  SessionSource
	Logger    logger.Logger
	// Socket tunes realtime event connections.
	Socket ws.Config
}

// Functions is the entry point to the functions of one application.
type Functions struct {
	app       string
	registry  *config.Registry
	transport transport.Transport
	sessions  SessionSource
	socket    ws.Config
	log       logger.Logger
}

// New creates a Functions client bound to opts.App.
func New(opts Options) (*Functions, error) {
	if opts.Registry == nil {
		return nil, apperr.Config("registry is required")
	}
	if opts.Transport == nil {
		return nil, apperr.Config("transport is required")
	}
	if _, err := opts.Registry.Resolve(opts.App); err != nil {
		return nil, err
	}
	app := opts.App
	if strings.TrimSpace(app) == "" {
		app = config.DefaultApp
	}
	return &Functions{
		app:       app,
		registry:  opts.Registry,
		transport: opts.Transport,
		sessions:  opts.Sessions,
		socket:    opts.Socket,
		log:       logger.OrNop(opts.Logger).With("app", app),
	}, nil
}

// Request returns a handle on the function mounted at path.
func (f *Functions) Request(path string) *Request {
	return &Request{f: f, path: path}
}

// Event returns an open realtime socket for the event name. The socket URL
// is the functions URL of "/"+name with a ws(s) scheme.
func (f *Functions) Event(ctx context.Context, name string, opts ...ws.Option) (*ws.Socket, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return nil, apperr.Validation("event name is required")
	}
	target, err := f.registry.FunctionsURL("/"+name, f.app)
	if err != nil {
		return nil, err
	}
	header, err := f.registry.Headers(f.app)
	if err != nil {
		return nil, err
	}
	base := []ws.Option{
		ws.WithConfig(f.socket),
		ws.WithHeader(header),
		ws.WithLogger(f.log),
	}
	socket := ws.NewSocket(socketURL(target), name, append(base, opts...)...)
	if err := socket.Open(ctx); err != nil {
		return nil, err
	}
	return socket, nil
}

func socketURL(target string) string {
	switch {
	case strings.HasPrefix(target, "https://"):
		return "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		return "ws://" + strings.TrimPrefix(target, "http://")
	default:
		return target
	}
}

// Request is one function endpoint.
type Request struct {
	f    *Functions
	path string
}

// Get calls the function with query parameters and decodes the response into out.
// A nil out discards the body.
func (r *Request) Get(ctx context.Context, query url.Values, out any) error {
	return r.call(ctx, http.MethodGet, query, nil, out)
}

// Post calls the function with a JSON body. A nil body is sent as {}.
func (r *Request) Post(ctx context.Context, body, out any) error {
	return r.call(ctx, http.MethodPost, nil, orEmpty(body), out)
}

// Put calls the function with a JSON body. A nil body is sent as {}.
func (r *Request) Put(ctx context.Context, body, out any) error {
	return r.call(ctx, http.MethodPut, nil, orEmpty(body), out)
}

// Delete calls the function with query parameters.
func (r *Request) Delete(ctx context.Context, query url.Values, out any) error {
	return r.call(ctx, http.MethodDelete, query, nil, out)
}

func orEmpty(body any) any {
	if body == nil {
		return map[string]any{}
	}
	return body
}

func (r *Request) call(ctx context.Context, method string, query url.Values, body, out any) (err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentFunctions, strings.ToLower(method), r.path)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(r.path) == "" {
		return apperr.Validation("function path is required")
	}
	path := r.path
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "http") {
		path = "/" + path
	}
	target, err := r.f.registry.FunctionsURL(path, r.f.app)
	if err != nil {
		return err
	}
	headers, err := r.f.registry.Headers(r.f.app)
	if err != nil {
		return err
	}
	if r.f.sessions != nil {
		if token := r.f.sessions.SessionToken(ctx); token != "" {
			headers.Set(config.HeaderSessionToken, token)
		}
	}

	resp, err := r.f.transport.Send(ctx, transport.Request{
		Method:    method,
		URL:       target,
		Query:     query,
		Headers:   headers,
		Body:      body,
		Component: string(tracing.ComponentFunctions),
	})
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = append((*raw)[:0], resp.Body...)
		return nil
	}
	return resp.Decode(out)
}
