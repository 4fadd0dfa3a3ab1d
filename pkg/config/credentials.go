package config

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/bfast/bfast-go/pkg/apperr"
)

// DefaultApp is the application name used when callers do not name one.
const DefaultApp = "DEFAULT"

// Header names understood by the backend.
const (
	HeaderApplicationID = "X-Parse-Application-Id"
	HeaderMasterKey     = "X-Parse-Master-Key"
	HeaderSessionToken  = "X-Parse-Session-Token"
)

// CacheOptions are the per-application cache defaults. Request options override them per call.
type CacheOptions struct {
	Enable bool `mapstructure:"enable"`
	// DTL is the default time-to-live of cache entries, in seconds.
	DTL int `mapstructure:"dtl"`
}

// AppCredentials identifies one remote application.
type AppCredentials struct {
	ApplicationID string       `mapstructure:"application_id"`
	ProjectID     string       `mapstructure:"project_id"`
	FunctionsURL  string       `mapstructure:"functions_url"`
	DatabaseURL   string       `mapstructure:"database_url"`
	Token         string       `mapstructure:"token"`
	AppPassword   string       `mapstructure:"app_password"`
	Cache         CacheOptions `mapstructure:"cache"`
}

// Validate checks the credentials carry enough to derive URLs and headers.
func (c AppCredentials) Validate() error {
	if strings.TrimSpace(c.ApplicationID) == "" {
		return apperr.Config("application_id is required")
	}
	if strings.TrimSpace(c.ProjectID) == "" && !isHTTPURL(c.DatabaseURL) && !isHTTPURL(c.FunctionsURL) {
		return apperr.Config("project_id is required unless database_url or functions_url is set")
	}
	if c.Cache.DTL < 0 {
		return apperr.Config("cache.dtl cannot be negative")
	}
	return nil
}

// Registry holds the credentials of every application the process talks to.
// It replaces a process-wide singleton: callers build one, register apps
// explicitly and hand it to the SDK components that need it.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]AppCredentials
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]AppCredentials)}
}

// Register validates creds and stores them under name, replacing any previous entry.
func (r *Registry) Register(name string, creds AppCredentials) error {
	name = normalizeAppName(name)
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("register app %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[name] = creds
	return nil
}

// Unregister removes name from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.apps, normalizeAppName(name))
}

// Resolve returns the credentials registered under name.
func (r *Registry) Resolve(name string) (AppCredentials, error) {
	name = normalizeAppName(name)
	r.mu.RLock()
	creds, ok := r.apps[name]
	r.mu.RUnlock()
	if !ok {
		return AppCredentials{}, apperr.Config("app %q is not registered", name)
	}
	return creds, nil
}

// Names returns the registered application names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Headers returns the standard header set of an application.
func (r *Registry) Headers(name string) (http.Header, error) {
	creds, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(HeaderApplicationID, creds.ApplicationID)
	return h, nil
}

// MasterHeaders returns the elevated header set of an application.
func (r *Registry) MasterHeaders(name string) (http.Header, error) {
	creds, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(creds.AppPassword) == "" {
		return nil, apperr.Config("app %q has no app_password for master key access", normalizeAppName(name))
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(HeaderApplicationID, creds.ApplicationID)
	h.Set(HeaderMasterKey, creds.AppPassword)
	return h, nil
}

// DatabaseURL resolves the database endpoint of an application with an optional path suffix.
func (r *Registry) DatabaseURL(name, suffix string) (string, error) {
	creds, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	if isHTTPURL(creds.DatabaseURL) {
		return creds.DatabaseURL + suffix, nil
	}
	return fmt.Sprintf("https://%s-daas.bfast.fahamutech.com%s", creds.ProjectID, suffix), nil
}

// FunctionsURL resolves a functions path of an application.
// Absolute http(s) paths are returned unchanged.
func (r *Registry) FunctionsURL(path, name string) (string, error) {
	if isHTTPURL(path) {
		return path, nil
	}
	creds, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	if isHTTPURL(creds.FunctionsURL) {
		return strings.TrimRight(creds.FunctionsURL, "/") + path, nil
	}
	return fmt.Sprintf("https://%s-faas.bfast.fahamutech.com%s", creds.ProjectID, path), nil
}

// CacheNamespace builds the cache key namespace of an application's database/collection pair.
func (r *Registry) CacheNamespace(name, database, collection string) (string, error) {
	creds, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	project := creds.ProjectID
	if project == "" {
		project = creds.ApplicationID
	}
	return strings.Join([]string{project, normalizeAppName(name), database, collection}, ":"), nil
}

func normalizeAppName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, DefaultApp) {
		return DefaultApp
	}
	return name
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http")
}
