// Package bfast is the entry point of the SDK: it binds a credential registry
// to a shared transport and cache store and hands out per-application clients.
package bfast

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/auth"
	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/database"
	"github.com/bfast/bfast-go/pkg/functions"
	"github.com/bfast/bfast-go/pkg/health"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/metrics"
	"github.com/bfast/bfast-go/pkg/realtime/ws"
	"github.com/bfast/bfast-go/pkg/storage"
	"github.com/bfast/bfast-go/pkg/transport"
)

// Options configures a Client. Zero values take defaults.
type Options struct {
	// Transport overrides the HTTP transport built from TransportConfig.
	Transport       transport.Transport
	TransportConfig config.TransportConfig
	// Store enables caching of reads and of the current user.
	Store      cache.Store
	Storage    config.StorageConfig
	Socket     ws.Config
	SessionTTL time.Duration
	Logger     logger.Logger
}

// Client hands out database, functions, storage, auth and cache clients per
// application. It is safe for concurrent use.
type Client struct {
	registry  *config.Registry
	transport transport.Transport
	store     cache.Store
	opts      Options
	log       logger.Logger

	mu    sync.Mutex
	auths map[string]*auth.Auth
}

// New creates a Client over registry.
func New(registry *config.Registry, opts Options) (*Client, error) {
	if registry == nil {
		return nil, apperr.Config("registry is required")
	}
	log := logger.OrNop(opts.Logger)
	tr := opts.Transport
	if tr == nil {
		tr = transport.NewHTTPTransport(opts.TransportConfig, log)
	}
	return &Client{
		registry:  registry,
		transport: tr,
		store:     opts.Store,
		opts:      opts,
		log:       log,
		auths:     make(map[string]*auth.Auth),
	}, nil
}

// NewFromConfig builds the registry, transport and cache store described by cfg.
func NewFromConfig(cfg *config.Config, log logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, apperr.Config("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		return nil, err
	}
	return New(registry, Options{
		TransportConfig: cfg.Transport,
		Store:           store,
		Storage:         cfg.Storage,
		Logger:          log,
	})
}

// Registry returns the credential registry of the client.
func (c *Client) Registry() *config.Registry { return c.registry }

// Auth returns the auth client of app. Every call for the same app returns
// the same instance so the current user is shared.
func (c *Client) Auth(app string) (*auth.Auth, error) {
	key := appKey(app)
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.auths[key]; ok {
		return a, nil
	}
	a, err := auth.New(auth.Options{
		App:        app,
		Registry:   c.registry,
		Transport:  c.transport,
		Store:      c.store,
		Logger:     c.log,
		SessionTTL: c.opts.SessionTTL,
	})
	if err != nil {
		return nil, err
	}
	c.auths[key] = a
	return a, nil
}

// Database returns the database client of app. Calls carry the session token
// of app's current user.
func (c *Client) Database(app string) (*database.Database, error) {
	a, err := c.Auth(app)
	if err != nil {
		return nil, err
	}
	return database.New(database.Options{
		App:       app,
		Registry:  c.registry,
		Transport: c.transport,
		Store:     c.store,
		Sessions:  a,
		Logger:    c.log,
	})
}

// Functions returns the functions client of app.
func (c *Client) Functions(app string) (*functions.Functions, error) {
	a, err := c.Auth(app)
	if err != nil {
		return nil, err
	}
	return functions.New(functions.Options{
		App:       app,
		Registry:  c.registry,
		Transport: c.transport,
		Sessions:  a,
		Logger:    c.log,
		Socket:    c.opts.Socket,
	})
}

// Storage returns the file storage of app.
func (c *Client) Storage(ctx context.Context, app string) (storage.Storage, error) {
	return storage.New(ctx, storage.Options{
		App:       app,
		Registry:  c.registry,
		Transport: c.transport,
		Config:    c.opts.Storage,
		Logger:    c.log,
	})
}

// Cache returns a cache controller scoped to app, database and collection.
func (c *Client) Cache(app, database, collection string) (*cache.Controller, error) {
	if c.store == nil {
		return nil, apperr.Config("no cache store configured")
	}
	if strings.TrimSpace(database) == "" || strings.TrimSpace(collection) == "" {
		return nil, apperr.Validation("cache database and collection are required")
	}
	ns, err := c.registry.CacheNamespace(app, database, collection)
	if err != nil {
		return nil, err
	}
	return cache.NewController(c.store, ns, c.log), nil
}

// Health probes the cache store and the database and functions endpoints of
// every registered application.
func (c *Client) Health(ctx context.Context) health.AggregatedResult {
	checks := health.NewRegistry()
	if c.store != nil {
		checks.Register(health.NewCacheChecker(c.store, 0))
	}
	for _, app := range c.registry.Names() {
		headers, err := c.registry.Headers(app)
		if err != nil {
			continue
		}
		if target, err := c.registry.DatabaseURL(app, "/health"); err == nil {
			checks.Register(health.NewEndpointChecker("database:"+app, c.transport, target, headers, 0))
		}
		if target, err := c.registry.FunctionsURL("/functions-health", app); err == nil {
			checks.Register(health.NewEndpointChecker("functions:"+app, c.transport, target, headers, 0))
		}
	}
	return checks.Check(ctx)
}

var (
	metricsOnce     sync.Once
	metricsRegistry *metrics.Registry
)

// MetricsHandler exposes the request, cache and refresh metrics of every
// client in the process in Prometheus format.
func (c *Client) MetricsHandler() http.Handler {
	metricsOnce.Do(func() { metricsRegistry = metrics.NewRegistry() })
	return metricsRegistry.Handler()
}

// Close releases the cache store.
func (c *Client) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func appKey(app string) string {
	if strings.TrimSpace(app) == "" || strings.EqualFold(app, config.DefaultApp) {
		return config.DefaultApp
	}
	return app
}
