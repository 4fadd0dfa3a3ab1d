package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/metrics"
)

// envelope is the stored form of every entry.
type envelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at,omitempty"` // unix milliseconds, 0 = never
}

// Controller reads and writes JSON values under one namespace of a store,
// typically one app/database/collection triple.
type Controller struct {
	store     Store
	namespace string
	log       logger.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

// NewController creates a controller writing under namespace.
func NewController(store Store, namespace string, log logger.Logger) *Controller {
	return &Controller{
		store:     store,
		namespace: strings.TrimSuffix(namespace, ":"),
		log:       logger.OrNop(log).With("cache_namespace", namespace),
		now:       time.Now,
	}
}

// Namespace returns the key namespace of the controller.
func (c *Controller) Namespace() string { return c.namespace }

// Get decodes the entry stored under key into out. It reports false on a miss
// or when the entry has expired.
func (c *Controller) Get(ctx context.Context, key string, out any) (bool, error) {
	start := c.now()
	raw, err := c.store.Get(ctx, c.key(key))
	metrics.ObserveCacheLatency("get", time.Since(start))
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Cache(err, "cache read failed")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, apperr.Cache(err, "cache entry is corrupt")
	}
	if env.ExpiresAt > 0 && c.now().UnixMilli() > env.ExpiresAt {
		_ = c.store.Delete(ctx, c.key(key))
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(env.Value, out); err != nil {
			return false, apperr.Cache(err, "cache entry does not match the requested type")
		}
	}
	return true, nil
}

// Set stores value under key for dtl. A non-positive dtl never expires.
func (c *Controller) Set(ctx context.Context, key string, value any, dtl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperr.Cache(err, "cache value is not serializable")
	}
	env := envelope{Value: data}
	if dtl > 0 {
		env.ExpiresAt = c.now().Add(dtl).UnixMilli()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return apperr.Cache(err, "cache entry is not serializable")
	}

	start := c.now()
	err = c.store.Set(ctx, c.key(key), raw, dtl)
	metrics.ObserveCacheLatency("set", time.Since(start))
	if err != nil {
		return apperr.Cache(err, "cache write failed")
	}
	return nil
}

// Remove deletes the entry stored under key.
func (c *Controller) Remove(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, c.key(key)); err != nil {
		return apperr.Cache(err, "cache delete failed")
	}
	return nil
}

// Clear deletes every entry of the namespace.
func (c *Controller) Clear(ctx context.Context) error {
	if err := c.store.DeletePrefix(ctx, c.namespace+":"); err != nil {
		return apperr.Cache(err, "cache clear failed")
	}
	return nil
}

// Wait blocks until every background refresh started by Fetch has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}
