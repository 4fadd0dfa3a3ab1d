// Package config holds application credentials and SDK runtime configuration.
package config

import "time"

// Cache store type constants
const (
	CacheStoreInMemory  = "inmemory"
	CacheStoreRedis     = "redis"
	CacheStoreMemcached = "memcached"
)

// Storage backend constants
const (
	StorageBackendREST = "rest"
	StorageBackendS3   = "s3"
)

// Config is the root configuration of the SDK.
type Config struct {
	Apps          map[string]AppCredentials `mapstructure:"apps"`
	Transport     TransportConfig           `mapstructure:"transport"`
	Cache         CacheConfig               `mapstructure:"cache"`
	Storage       StorageConfig             `mapstructure:"storage"`
	Observability ObservabilityConfig       `mapstructure:"observability"`
}

// DefaultMaxResponseBytes bounds decoded response bodies unless configured.
const DefaultMaxResponseBytes int64 = 32 << 20

// TransportConfig configures the HTTP transport shared by all components.
type TransportConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	UserAgent           string        `mapstructure:"user_agent"`
	// MaxResponseBytes caps a response body after decompression.
	MaxResponseBytes int64                `mapstructure:"max_response_bytes"`
	RateLimit        RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker   CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// RateLimitConfig bounds the client-side request rate. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CircuitBreakerConfig configures the transport circuit breaker. MaxFailures zero disables it.
type CircuitBreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// CacheConfig selects and configures the cache store.
type CacheConfig struct {
	Store     string               `mapstructure:"store"` // inmemory, redis, memcached
	Redis     CacheRedisConfig     `mapstructure:"redis"`
	Memcached CacheMemcachedConfig `mapstructure:"memcached"`
}

// CacheRedisConfig configures the Redis cache store.
type CacheRedisConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Prefix           string        `mapstructure:"prefix"`
}

// CacheMemcachedConfig configures the memcached cache store.
type CacheMemcachedConfig struct {
	Addresses []string      `mapstructure:"addresses"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Prefix    string        `mapstructure:"prefix"`
}

// StorageConfig selects the file storage backend.
type StorageConfig struct {
	Backend string   `mapstructure:"backend"` // rest, s3
	S3      S3Config `mapstructure:"s3"`
}

// S3Config configures direct object storage.
type S3Config struct {
	Bucket           string        `mapstructure:"bucket"`
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	UsePathStyle     bool          `mapstructure:"use_path_style"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	PresignExpiry    time.Duration `mapstructure:"presign_expiry"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	ServiceName       string  `mapstructure:"service_name"`
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
}

// DefaultConfig returns a configuration with sensible defaults and no apps.
func DefaultConfig() *Config {
	return &Config{
		Apps: map[string]AppCredentials{},
		Transport: TransportConfig{
			Timeout:             30 * time.Second,
			MaxIdleConnsPerHost: 16,
			UserAgent:           "",
			MaxResponseBytes:    DefaultMaxResponseBytes,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures:  0,
				ResetTimeout: 30 * time.Second,
			},
		},
		Cache: CacheConfig{
			Store: CacheStoreInMemory,
			Redis: CacheRedisConfig{
				MaxConns:         10,
				OperationTimeout: 5 * time.Second,
				Prefix:           "bfast",
			},
			Memcached: CacheMemcachedConfig{
				Timeout: 500 * time.Millisecond,
				Prefix:  "bfast",
			},
		},
		Storage: StorageConfig{
			Backend: StorageBackendREST,
			S3: S3Config{
				OperationTimeout: 10 * time.Second,
				PresignExpiry:    15 * time.Minute,
			},
		},
		Observability: ObservabilityConfig{
			ServiceName:       "bfast-client",
			LogLevel:          "warn",
			LogFormat:         "json",
			TracingSampleRate: 1.0,
		},
	}
}

// Registry builds a credential registry from the configured apps.
func (c *Config) Registry() (*Registry, error) {
	reg := NewRegistry()
	for name, creds := range c.Apps {
		if err := reg.Register(name, creds); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
