// Package auth signs users in and keeps the current session of an application.
package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
	"github.com/bfast/bfast-go/pkg/transport"
)

const (
	cacheDatabaseName   = "bfast_auth"
	cacheCollectionName = "cache"
	currentUserKey      = "_current_user_"
)

// User is a user record as the backend returns it.
type User map[string]any

func (u User) str(key string) string {
	s, _ := u[key].(string)
	return s
}

// ObjectID returns the user's objectId.
func (u User) ObjectID() string { return u.str("objectId") }

// Username returns the user's username.
func (u User) Username() string { return u.str("username") }

// Email returns the user's email.
func (u User) Email() string { return u.str("email") }

// SessionToken returns the user's session token.
func (u User) SessionToken() string { return u.str("sessionToken") }

// Options configures an Auth client.
type Options struct {
	App       string
	Registry  *config.Registry
	Transport transport.Transport
	// Store persists the current user. Nil keeps it in memory only.
	Store  cache.Store
	Logger logger.Logger
	// SessionTTL bounds how long the current user is cached. Zero keeps it until LogOut.
	SessionTTL time.Duration
}

// Auth manages sign-in and the current session of one application.
type Auth struct {
	app        string
	registry   *config.Registry
	transport  transport.Transport
	cache      *cache.Controller
	sessionTTL time.Duration
	log        logger.Logger
	now        func() time.Time

	mu      sync.RWMutex
	current User
	loaded  bool
}

// New creates an Auth client bound to opts.App.
func New(opts Options) (*Auth, error) {
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
	a := &Auth{
		app:        app,
		registry:   opts.Registry,
		transport:  opts.Transport,
		sessionTTL: opts.SessionTTL,
		log:        logger.OrNop(opts.Logger).With("app", app),
		now:        time.Now,
	}
	if opts.Store != nil {
		ns, err := opts.Registry.CacheNamespace(app, cacheDatabaseName, cacheCollectionName)
		if err != nil {
			return nil, err
		}
		a.cache = cache.NewController(opts.Store, ns, a.log)
	}
	return a, nil
}

// SignUp creates a user and makes it the current user.
// attrs may carry extra fields such as email.
func (a *Auth) SignUp(ctx context.Context, username, password string, attrs map[string]any) (user User, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentAuth, "signup", username)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(username) == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}
	body := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		body[k] = v
	}
	body["username"] = username
	body["password"] = password

	var created User
	if err := a.call(ctx, http.MethodPost, "/users", nil, body, "", &created); err != nil {
		return nil, err
	}
	user = make(User, len(body)+len(created))
	for k, v := range body {
		if k != "password" {
			user[k] = v
		}
	}
	for k, v := range created {
		user[k] = v
	}
	a.SetCurrentUser(ctx, user)
	return user, nil
}

// LogIn signs a user in and makes it the current user.
func (a *Auth) LogIn(ctx context.Context, username, password string) (user User, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentAuth, "login", username)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(username) == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}
	body := map[string]any{"username": username, "password": password}
	if err := a.call(ctx, http.MethodPost, "/login", nil, body, "", &user); err != nil {
		return nil, err
	}
	a.SetCurrentUser(ctx, user)
	return user, nil
}

// LogOut ends the remote session, if any, and forgets the current user.
// The local session is cleared even when the remote call fails.
func (a *Auth) LogOut(ctx context.Context) (err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentAuth, "logout", a.app)
	defer func() { tracing.End(span, err) }()

	token := a.SessionToken(ctx)
	if token != "" {
		if err = a.call(ctx, http.MethodPost, "/logout", nil, map[string]any{}, token, nil); err != nil {
			a.log.WithContext(ctx).Warn("remote logout failed", "error", err)
		}
	}
	a.SetCurrentUser(ctx, nil)
	return err
}

// CurrentUser returns the signed-in user, or nil. A user whose JWT session
// has expired is forgotten and nil is returned.
func (a *Auth) CurrentUser(ctx context.Context) (User, error) {
	a.mu.RLock()
	user, loaded := a.current, a.loaded
	a.mu.RUnlock()

	if !loaded && a.cache != nil {
		var cached User
		hit, err := a.cache.Get(ctx, currentUserKey, &cached)
		if err != nil {
			a.log.WithContext(ctx).Warn("reading cached user failed", "error", err)
		}
		if hit {
			user = cached
		}
		a.mu.Lock()
		if !a.loaded {
			a.current, a.loaded = user, true
		} else {
			user = a.current
		}
		a.mu.Unlock()
	}

	if user != nil && SessionExpired(user.SessionToken(), a.now()) {
		a.log.WithContext(ctx).Debug("session expired", "user", user.ObjectID())
		a.SetCurrentUser(ctx, nil)
		return nil, nil
	}
	return user, nil
}

// SetCurrentUser replaces the current user. Nil signs out locally.
// The in-process user is always updated; a failure to persist it to the
// cache store is logged and leaves the next process without a session.
func (a *Auth) SetCurrentUser(ctx context.Context, user User) {
	a.mu.Lock()
	a.current, a.loaded = user, true
	a.mu.Unlock()

	if a.cache == nil {
		return
	}
	var err error
	if user == nil {
		err = a.cache.Remove(ctx, currentUserKey)
	} else {
		err = a.cache.Set(ctx, currentUserKey, user, a.sessionTTL)
	}
	if err != nil {
		a.log.WithContext(ctx).Warn("persisting current user failed", "error", err)
	}
}

// SessionToken returns the session token of the current user, or "".
func (a *Auth) SessionToken(ctx context.Context) string {
	user, err := a.CurrentUser(ctx)
	if err != nil || user == nil {
		return ""
	}
	return user.SessionToken()
}

// Me fetches the current user from the backend using the current session.
func (a *Auth) Me(ctx context.Context) (user User, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentAuth, "me", a.app)
	defer func() { tracing.End(span, err) }()

	token := a.SessionToken(ctx)
	if token == "" {
		return nil, apperr.Validation("no user is signed in")
	}
	if err := a.call(ctx, http.MethodGet, "/users/me", nil, nil, token, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUser applies fields to the current user and refreshes the local copy.
func (a *Auth) UpdateUser(ctx context.Context, fields map[string]any) (user User, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentAuth, "update", a.app)
	defer func() { tracing.End(span, err) }()

	if len(fields) == 0 {
		return nil, apperr.Validation("update requires at least one field")
	}
	current, err := a.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.ObjectID() == "" {
		return nil, apperr.Validation("no user is signed in")
	}
	var updated User
	path := "/users/" + url.PathEscape(current.ObjectID())
	if err := a.call(ctx, http.MethodPut, path, nil, fields, current.SessionToken(), &updated); err != nil {
		return nil, err
	}
	user = make(User, len(current)+len(fields)+len(updated))
	for _, src := range []map[string]any{current, fields, updated} {
		for k, v := range src {
			user[k] = v
		}
	}
	delete(user, "password")
	a.SetCurrentUser(ctx, user)
	return user, nil
}

// RequestPasswordReset asks the backend to email a reset link.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentAuth, "password_reset", a.app)
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(email) == "" {
		return apperr.Validation("email is required")
	}
	return a.call(ctx, http.MethodPost, "/requestPasswordReset", nil, map[string]any{"email": email}, "", nil)
}

func (a *Auth) call(ctx context.Context, method, path string, query url.Values, body any, token string, out any) error {
	target, err := a.registry.DatabaseURL(a.app, path)
	if err != nil {
		return err
	}
	headers, err := a.registry.Headers(a.app)
	if err != nil {
		return err
	}
	if token != "" {
		headers.Set(config.HeaderSessionToken, token)
	}
	resp, err := a.transport.Send(ctx, transport.Request{
		Method:    method,
		URL:       target,
		Query:     query,
		Headers:   headers,
		Body:      body,
		Component: string(tracing.ComponentAuth),
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}
