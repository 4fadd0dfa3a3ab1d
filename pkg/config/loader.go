package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
}

// ViperLoader implements Loader using Viper.
// Precedence: flags > ENV > secrets file > config file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to "BFAST")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags binds command line flags named after config keys (dots replaced by dashes).
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// Load reads, merges, unmarshals and validates the configuration.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, err
	}
	if secretsFile != "" {
		sv := viper.New()
		sv.SetConfigFile(secretsFile)
		if err := sv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
	}

	v.SetEnvPrefix(l.prefix())
	l.bindEnvVars(v)

	if l.flags != nil {
		if err := l.bindFlags(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Apps = normalizeApps(cfg.Apps)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// bindEnvVars binds environment variables explicitly; viper does not
// discover nested keys from the environment on its own.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Default application
	v.BindEnv("apps.default.application_id", l.prefixedEnv("APPLICATION_ID"))
	v.BindEnv("apps.default.project_id", l.prefixedEnv("PROJECT_ID"))
	v.BindEnv("apps.default.functions_url", l.prefixedEnv("FUNCTIONS_URL"))
	v.BindEnv("apps.default.database_url", l.prefixedEnv("DATABASE_URL"))
	v.BindEnv("apps.default.token", l.prefixedEnv("TOKEN"))
	v.BindEnv("apps.default.app_password", l.prefixedEnv("APP_PASSWORD"), l.prefixedEnv("MASTER_KEY"))
	v.BindEnv("apps.default.cache.enable", l.prefixedEnv("CACHE_ENABLE"))
	v.BindEnv("apps.default.cache.dtl", l.prefixedEnv("CACHE_DTL"))

	// Transport
	v.BindEnv("transport.timeout", l.prefixedEnv("TRANSPORT_TIMEOUT"))
	v.BindEnv("transport.max_idle_conns_per_host", l.prefixedEnv("TRANSPORT_MAX_IDLE_CONNS_PER_HOST"))
	v.BindEnv("transport.user_agent", l.prefixedEnv("TRANSPORT_USER_AGENT"))
	v.BindEnv("transport.max_response_bytes", l.prefixedEnv("TRANSPORT_MAX_RESPONSE_BYTES"))
	v.BindEnv("transport.rate_limit.requests_per_second", l.prefixedEnv("TRANSPORT_RATE_LIMIT_RPS"))
	v.BindEnv("transport.rate_limit.burst", l.prefixedEnv("TRANSPORT_RATE_LIMIT_BURST"))
	v.BindEnv("transport.circuit_breaker.max_failures", l.prefixedEnv("TRANSPORT_CIRCUIT_BREAKER_MAX_FAILURES"))
	v.BindEnv("transport.circuit_breaker.reset_timeout", l.prefixedEnv("TRANSPORT_CIRCUIT_BREAKER_RESET_TIMEOUT"))

	// Cache
	v.BindEnv("cache.store", l.prefixedEnv("CACHE_STORE"))
	v.BindEnv("cache.redis.url", l.prefixedEnv("CACHE_REDIS_URL"))
	v.BindEnv("cache.redis.max_conns", l.prefixedEnv("CACHE_REDIS_MAX_CONNS"))
	v.BindEnv("cache.redis.operation_timeout", l.prefixedEnv("CACHE_REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("cache.redis.prefix", l.prefixedEnv("CACHE_REDIS_PREFIX"))
	v.BindEnv("cache.memcached.addresses", l.prefixedEnv("CACHE_MEMCACHED_ADDRESSES"))
	v.BindEnv("cache.memcached.timeout", l.prefixedEnv("CACHE_MEMCACHED_TIMEOUT"))
	v.BindEnv("cache.memcached.prefix", l.prefixedEnv("CACHE_MEMCACHED_PREFIX"))

	// Storage
	v.BindEnv("storage.backend", l.prefixedEnv("STORAGE_BACKEND"))
	v.BindEnv("storage.s3.bucket", l.prefixedEnv("STORAGE_S3_BUCKET"))
	v.BindEnv("storage.s3.region", l.prefixedEnv("STORAGE_S3_REGION"), "AWS_REGION")
	v.BindEnv("storage.s3.endpoint", l.prefixedEnv("STORAGE_S3_ENDPOINT"))
	v.BindEnv("storage.s3.access_key_id", l.prefixedEnv("STORAGE_S3_ACCESS_KEY_ID"))
	v.BindEnv("storage.s3.secret_access_key", l.prefixedEnv("STORAGE_S3_SECRET_ACCESS_KEY"))
	v.BindEnv("storage.s3.use_path_style", l.prefixedEnv("STORAGE_S3_USE_PATH_STYLE"))

	// Observability
	v.BindEnv("observability.service_name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
}

// bindFlags binds changed flags whose name is a config key with "." and "_"
// replaced by "-", e.g. --observability-log-level.
func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	flagKey := strings.NewReplacer(".", "-", "_", "-")
	keys := make(map[string]string)
	for _, key := range v.AllKeys() {
		keys[flagKey.Replace(key)] = key
	}

	var bindErr error
	l.flags.Visit(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("transport.timeout", cfg.Transport.Timeout)
	v.SetDefault("transport.max_idle_conns_per_host", cfg.Transport.MaxIdleConnsPerHost)
	v.SetDefault("transport.user_agent", cfg.Transport.UserAgent)
	v.SetDefault("transport.max_response_bytes", cfg.Transport.MaxResponseBytes)
	v.SetDefault("transport.rate_limit.requests_per_second", cfg.Transport.RateLimit.RequestsPerSecond)
	v.SetDefault("transport.rate_limit.burst", cfg.Transport.RateLimit.Burst)
	v.SetDefault("transport.circuit_breaker.max_failures", cfg.Transport.CircuitBreaker.MaxFailures)
	v.SetDefault("transport.circuit_breaker.reset_timeout", cfg.Transport.CircuitBreaker.ResetTimeout)

	v.SetDefault("cache.store", cfg.Cache.Store)
	v.SetDefault("cache.redis.max_conns", cfg.Cache.Redis.MaxConns)
	v.SetDefault("cache.redis.operation_timeout", cfg.Cache.Redis.OperationTimeout)
	v.SetDefault("cache.redis.prefix", cfg.Cache.Redis.Prefix)
	v.SetDefault("cache.memcached.timeout", cfg.Cache.Memcached.Timeout)
	v.SetDefault("cache.memcached.prefix", cfg.Cache.Memcached.Prefix)

	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.s3.operation_timeout", cfg.Storage.S3.OperationTimeout)
	v.SetDefault("storage.s3.presign_expiry", cfg.Storage.S3.PresignExpiry)

	v.SetDefault("observability.service_name", cfg.Observability.ServiceName)
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
}

// discoverSecretsFile finds the secrets file holding app passwords and tokens:
// 1. <PREFIX>_SECRETS_FILE
// 2. secrets.{ext} next to the config file
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	secretsEnv := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(secretsEnv); ok {
		secretsFile := strings.TrimSpace(raw)
		if secretsFile == "" {
			return "", fmt.Errorf("%s is set but empty", secretsEnv)
		}
		info, err := os.Stat(secretsFile)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", secretsEnv, secretsFile, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", secretsEnv, secretsFile)
		}
		return secretsFile, nil
	}

	if l.configFile != "" {
		dir := filepath.Dir(l.configFile)
		ext := filepath.Ext(l.configFile)
		secretsFile := filepath.Join(dir, "secrets"+ext)
		if info, err := os.Stat(secretsFile); err == nil && !info.IsDir() {
			return secretsFile, nil
		}
	}
	return "", nil
}

func (l *ViperLoader) prefix() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "BFAST"
	}
	return strings.ToUpper(prefix)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	return fmt.Sprintf("%s_%s", l.prefix(), suffix)
}

// normalizeApps maps viper's lower-cased "default" key back to DefaultApp.
func normalizeApps(apps map[string]AppCredentials) map[string]AppCredentials {
	out := make(map[string]AppCredentials, len(apps))
	for name, creds := range apps {
		out[normalizeAppName(name)] = creds
	}
	return out
}
