package cache

import (
	"context"
	"time"

	"github.com/bfast/bfast-go/pkg/observability/metrics"
)

// Policy is the per-call caching policy of a read.
type Policy struct {
	Enable bool
	DTL    time.Duration
	// OnFresh observes data fetched from the network before it is written to the cache.
	OnFresh func(identifier string, data any)
}

// Fetch serves identifier with a stale-while-revalidate policy.
//
// With caching enabled and a live entry, the cached value is returned at once
// and load runs in a background task that calls OnFresh and then overwrites
// the entry. On a miss load runs inline and its result is written back.
// Cache failures are logged and never returned. Background work is not
// cancelled with ctx; use Controller.Wait to join it.
func Fetch[V any](ctx context.Context, c *Controller, identifier string, p Policy, load func(context.Context) (V, error)) (V, error) {
	if c == nil || !p.Enable {
		metrics.RecordCacheResult("bypass")
		return load(ctx)
	}

	var cached V
	hit, err := c.Get(ctx, identifier, &cached)
	if err != nil {
		metrics.RecordCacheResult("read_error")
		c.log.WithContext(ctx).Warn("cache read failed, falling back to network", "identifier", identifier, "error", err)
	}
	if hit {
		metrics.RecordCacheResult("hit")
		c.refresh(ctx, identifier, p, func(ctx context.Context) (any, error) { return load(ctx) })
		return cached, nil
	}

	metrics.RecordCacheResult("miss")
	fresh, err := load(ctx)
	if err != nil {
		return fresh, err
	}
	c.writeBack(ctx, identifier, p, fresh)
	return fresh, nil
}

func (c *Controller) refresh(ctx context.Context, identifier string, p Policy, load func(context.Context) (any, error)) {
	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fresh, err := load(bg)
		if err != nil {
			metrics.RecordRefresh("error")
			c.log.WithContext(bg).Warn("background refresh failed", "identifier", identifier, "error", err)
			return
		}
		metrics.RecordRefresh("ok")
		c.writeBack(bg, identifier, p, fresh)
	}()
}

// writeBack hands fresh data to OnFresh, then writes it to the cache.
func (c *Controller) writeBack(ctx context.Context, identifier string, p Policy, fresh any) {
	if p.OnFresh != nil {
		p.OnFresh(identifier, fresh)
	}
	if err := c.Set(ctx, identifier, fresh, p.DTL); err != nil {
		metrics.RecordCacheResult("write_error")
		c.log.WithContext(ctx).Error("cache write failed", "identifier", identifier, "error", err)
	}
}
