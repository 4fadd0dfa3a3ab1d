// Package database reads and writes records of remote domains.
package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/transport"
)

// cacheDatabaseName is the cache database under which domain reads are stored.
const cacheDatabaseName = "bfast_database"

// SessionSource supplies the session token of the signed-in user, if any.
type SessionSource interface {
	SessionToken(ctx context.Context) string
}

// Options configures a Database.
type Options struct {
	App       string
	Registry  *config.Registry
	Transport transport.Transport
	// Store enables response caching. Nil disables it regardless of request options.
	Store    cache.Store
	Sessions SessionSource
	Logger   logger.Logger
}

// Database is the entry point to the domains of one application.
type Database struct {
	app       string
	registry  *config.Registry
	transport transport.Transport
	store     cache.Store
	sessions  SessionSource
	log       logger.Logger
}

// New creates a Database bound to opts.App.
func New(opts Options) (*Database, error) {
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
	return &Database{
		app:       app,
		registry:  opts.Registry,
		transport: opts.Transport,
		store:     opts.Store,
		sessions:  opts.Sessions,
		log:       logger.OrNop(opts.Logger).With("app", app),
	}, nil
}

// App returns the application name the database is bound to.
func (db *Database) App() string { return db.app }

// Domain returns an untyped handle on a domain; records decode into maps.
func (db *Database) Domain(name string) *Domain[map[string]any] {
	return NewDomain[map[string]any](db, name)
}

// Collection is an alias of Domain.
func (db *Database) Collection(name string) *Domain[map[string]any] { return db.Domain(name) }

// Table is an alias of Domain.
func (db *Database) Table(name string) *Domain[map[string]any] { return db.Domain(name) }

// headers builds the header set of one call.
func (db *Database) headers(ctx context.Context, master bool) (http.Header, error) {
	var (
		h   http.Header
		err error
	)
	if master {
		h, err = db.registry.MasterHeaders(db.app)
	} else {
		h, err = db.registry.Headers(db.app)
	}
	if err != nil {
		return nil, err
	}
	if db.sessions != nil {
		if token := db.sessions.SessionToken(ctx); token != "" {
			h.Set(config.HeaderSessionToken, token)
		}
	}
	return h, nil
}

// scope names the credential a call runs under: "master", "user-" plus a
// digest of the session token, or "anon".
func (db *Database) scope(ctx context.Context, master bool) string {
	if master {
		return "master"
	}
	if db.sessions != nil {
		if token := db.sessions.SessionToken(ctx); token != "" {
			sum := sha256.Sum256([]byte(token))
			return "user-" + hex.EncodeToString(sum[:8])
		}
	}
	return "anon"
}

func (db *Database) url(segments ...string) (string, error) {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return db.registry.DatabaseURL(db.app, b.String())
}

func (db *Database) send(ctx context.Context, method, target string, query url.Values, body any, master bool) (*transport.Response, error) {
	headers, err := db.headers(ctx, master)
	if err != nil {
		return nil, err
	}
	return db.transport.Send(ctx, transport.Request{
		Method:    method,
		URL:       target,
		Query:     query,
		Headers:   headers,
		Body:      body,
		Component: "database",
	})
}
