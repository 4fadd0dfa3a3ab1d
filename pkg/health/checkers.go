package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/cache"
	"github.com/bfast/bfast-go/pkg/transport"
)

const defaultTimeout = 5 * time.Second

// Checkable is an interface for components that support health checks
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker reports a Checkable as healthy when HealthCheck returns nil within the timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	return run(ctx, c.name, c.timeout, func(ctx context.Context) (Status, string, error) {
		if err := c.adapter.HealthCheck(ctx); err != nil {
			return StatusUnhealthy, "", err
		}
		return StatusHealthy, "OK", nil
	})
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// CacheChecker writes, reads back and deletes a probe key in a cache store.
type CacheChecker struct {
	store   cache.Store
	timeout time.Duration
}

// NewCacheChecker creates a round-trip checker for store.
func NewCacheChecker(store cache.Store, timeout time.Duration) *CacheChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CacheChecker{store: store, timeout: timeout}
}

// Name returns the name of the health check
func (c *CacheChecker) Name() string { return "cache" }

// Check performs the round trip.
func (c *CacheChecker) Check(ctx context.Context) CheckResult {
	return run(ctx, c.Name(), c.timeout, func(ctx context.Context) (Status, string, error) {
		key := "health:probe:" + uuid.NewString()
		want := []byte("ok")
		if err := c.store.Set(ctx, key, want, time.Minute); err != nil {
			return StatusUnhealthy, "", fmt.Errorf("set: %w", err)
		}
		defer func() { _ = c.store.Delete(context.WithoutCancel(ctx), key) }()

		got, err := c.store.Get(ctx, key)
		if err != nil {
			return StatusUnhealthy, "", fmt.Errorf("get: %w", err)
		}
		if string(got) != string(want) {
			return StatusDegraded, "", fmt.Errorf("probe value mismatch")
		}
		return StatusHealthy, "OK", nil
	})
}

// EndpointChecker probes a remote endpoint through the SDK transport. An
// endpoint that answers with an error is degraded; one that cannot be reached is unhealthy.
type EndpointChecker struct {
	name      string
	transport transport.Transport
	url       string
	headers   http.Header
	timeout   time.Duration
}

// NewEndpointChecker creates a checker issuing GET url with headers.
func NewEndpointChecker(name string, tr transport.Transport, url string, headers http.Header, timeout time.Duration) *EndpointChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &EndpointChecker{name: name, transport: tr, url: url, headers: headers, timeout: timeout}
}

// Name returns the name of the health check
func (c *EndpointChecker) Name() string { return c.name }

// Check performs the request.
func (c *EndpointChecker) Check(ctx context.Context) CheckResult {
	result := run(ctx, c.name, c.timeout, func(ctx context.Context) (Status, string, error) {
		resp, err := c.transport.Send(ctx, transport.Request{Method: http.MethodGet, URL: c.url, Headers: c.headers, Component: "health"})
		switch {
		case err == nil:
			return StatusHealthy, fmt.Sprintf("HTTP %d", resp.Status), nil
		case errors.Is(err, apperr.ErrNetwork):
			return StatusUnhealthy, "", err
		default:
			return StatusDegraded, "endpoint reachable", err
		}
	})
	result.Metadata = map[string]any{"url": c.url}
	return result
}

func run(ctx context.Context, name string, timeout time.Duration, probe func(context.Context) (Status, string, error)) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, message, err := probe(checkCtx)
	result := CheckResult{
		Name:      name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
