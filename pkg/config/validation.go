package config

import (
	"fmt"
	"strings"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for name, creds := range c.Apps {
		if err := creds.Validate(); err != nil {
			return fmt.Errorf("apps.%s: %w", name, err)
		}
	}

	if c.Transport.Timeout < 0 {
		return fmt.Errorf("transport.timeout cannot be negative")
	}
	if c.Transport.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("transport.rate_limit.requests_per_second cannot be negative")
	}
	if c.Transport.RateLimit.RequestsPerSecond > 0 && c.Transport.RateLimit.Burst <= 0 {
		return fmt.Errorf("transport.rate_limit.burst must be positive when rate limiting is enabled")
	}
	if c.Transport.CircuitBreaker.MaxFailures < 0 {
		return fmt.Errorf("transport.circuit_breaker.max_failures cannot be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Cache.Store)) {
	case "", CacheStoreInMemory:
	case CacheStoreRedis:
		if c.Cache.Redis.URL == "" {
			return fmt.Errorf("cache.redis.url is required when cache.store is redis")
		}
	case CacheStoreMemcached:
		if len(c.Cache.Memcached.Addresses) == 0 {
			return fmt.Errorf("cache.memcached.addresses is required when cache.store is memcached")
		}
	default:
		return fmt.Errorf("invalid cache.store: %s", c.Cache.Store)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case "", StorageBackendREST:
	case StorageBackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when storage.backend is s3")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when storage.backend is s3")
		}
	default:
		return fmt.Errorf("invalid storage.backend: %s", c.Storage.Backend)
	}

	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		return fmt.Errorf("observability.tracing_endpoint is required when tracing is enabled")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1")
	}
	return nil
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Apps = make(map[string]AppCredentials, len(c.Apps))
	for name, creds := range c.Apps {
		creds.AppPassword = mask(creds.AppPassword)
		creds.Token = mask(creds.Token)
		out.Apps[name] = creds
	}
	out.Storage.S3.SecretAccessKey = mask(c.Storage.S3.SecretAccessKey)
	out.Cache.Redis.URL = mask(c.Cache.Redis.URL)
	return &out
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	return "********"
}
