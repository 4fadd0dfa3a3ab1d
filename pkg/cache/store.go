// Package cache stores backend responses close to the caller and serves them
// with a stale-while-revalidate policy.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/config"
)

var (
	// ErrCacheMiss indicates that a cache key was not found.
	ErrCacheMiss = errors.New("cache key not found")
	// ErrPrefixUnsupported is returned by stores that cannot enumerate keys.
	ErrPrefixUnsupported = errors.New("cache store cannot delete by prefix")
)

// Store is a pluggable cache backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// NewStore builds the store selected by cfg.
func NewStore(cfg config.CacheConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", config.CacheStoreInMemory:
		return NewInMemoryStore(), nil
	case config.CacheStoreRedis:
		return NewRedisStore(RedisConfig{
			URL:              cfg.Redis.URL,
			MaxConns:         cfg.Redis.MaxConns,
			OperationTimeout: cfg.Redis.OperationTimeout,
			Prefix:           cfg.Redis.Prefix,
		})
	case config.CacheStoreMemcached:
		return NewMemcachedStoreFromConfig(MemcachedConfig{
			Addresses: cfg.Memcached.Addresses,
			Timeout:   cfg.Memcached.Timeout,
			Prefix:    cfg.Memcached.Prefix,
		})
	default:
		return nil, apperr.Config("unsupported cache store %q", cfg.Store)
	}
}
