package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Transport.Timeout != 30*time.Second {
		t.Errorf("expected transport timeout 30s, got %v", cfg.Transport.Timeout)
	}
	if cfg.Cache.Store != CacheStoreInMemory {
		t.Errorf("expected cache store inmemory, got %s", cfg.Cache.Store)
	}
	if cfg.Storage.Backend != StorageBackendREST {
		t.Errorf("expected storage backend rest, got %s", cfg.Storage.Backend)
	}
	if cfg.Observability.LogLevel != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Observability.LogLevel)
	}
	if len(cfg.Apps) != 0 {
		t.Errorf("expected no apps by default, got %d", len(cfg.Apps))
	}
}

func TestViperLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewViperLoader("", "BFASTTEST").Load()
	if err != nil {
		t.Fatalf("expected no error loading defaults, got: %v", err)
	}
	if cfg.Cache.Redis.Prefix != "bfast" {
		t.Errorf("expected redis prefix bfast, got %s", cfg.Cache.Redis.Prefix)
	}
	if len(cfg.Apps) != 0 {
		t.Errorf("expected no apps, got %v", cfg.Apps)
	}
}

func TestViperLoader_DefaultAppFromEnv(t *testing.T) {
	t.Setenv("BFASTTEST_APPLICATION_ID", "envapp")
	t.Setenv("BFASTTEST_PROJECT_ID", "envproj")
	t.Setenv("BFASTTEST_CACHE_ENABLE", "true")
	t.Setenv("BFASTTEST_CACHE_DTL", "120")
	t.Setenv("BFASTTEST_LOG_LEVEL", "debug")

	cfg, err := NewViperLoader("", "bfasttest").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	app, ok := cfg.Apps[DefaultApp]
	if !ok {
		t.Fatalf("expected default app, got %v", cfg.Apps)
	}
	if app.ApplicationID != "envapp" || app.ProjectID != "envproj" {
		t.Errorf("unexpected app %+v", app)
	}
	if !app.Cache.Enable || app.Cache.DTL != 120 {
		t.Errorf("unexpected cache options %+v", app.Cache)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Observability.LogLevel)
	}
}

func TestViperLoader_FileAndSecrets(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "bfast.yaml")
	writeFile(t, configFile, `
apps:
  default:
    application_id: fileapp
    project_id: fileproj
  reports:
    application_id: rep
    database_url: http://localhost:3000
cache:
  store: redis
  redis:
    url: redis://localhost:6379/0
transport:
  timeout: 5s
`)
	writeFile(t, filepath.Join(dir, "secrets.yaml"), `
apps:
  default:
    app_password: topsecret
`)

	cfg, err := NewViperLoader(configFile, "BFASTTEST").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Apps[DefaultApp].AppPassword; got != "topsecret" {
		t.Errorf("expected app password from secrets file, got %q", got)
	}
	if got := cfg.Apps[DefaultApp].ApplicationID; got != "fileapp" {
		t.Errorf("expected application id from config file, got %q", got)
	}
	if got := cfg.Apps["reports"].DatabaseURL; got != "http://localhost:3000" {
		t.Errorf("unexpected reports database url %q", got)
	}
	if cfg.Transport.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Transport.Timeout)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if len(reg.Names()) != 2 {
		t.Errorf("expected two registered apps, got %v", reg.Names())
	}

	redacted := cfg.Redacted()
	if redacted.Apps[DefaultApp].AppPassword != "********" {
		t.Error("expected app password to be masked")
	}
	if cfg.Apps[DefaultApp].AppPassword != "topsecret" {
		t.Error("redaction must not modify the original config")
	}
}

func TestViperLoader_SecretsFileEnvMustExist(t *testing.T) {
	t.Setenv("BFASTTEST_SECRETS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := NewViperLoader("", "BFASTTEST").Load(); err == nil {
		t.Fatal("expected error for missing secrets file")
	}
}

func TestViperLoader_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("BFASTTEST_LOG_LEVEL", "info")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("observability-log-level", "", "")
	if err := flags.Parse([]string{"--observability-log-level=error"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := NewViperLoader("", "BFASTTEST").WithFlags(flags).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("expected flag to win, got %s", cfg.Observability.LogLevel)
	}
}

func TestConfig_ValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"redis without url", func(c *Config) { c.Cache.Store = CacheStoreRedis }, "cache.redis.url"},
		{"memcached without addresses", func(c *Config) { c.Cache.Store = CacheStoreMemcached }, "cache.memcached.addresses"},
		{"unknown store", func(c *Config) { c.Cache.Store = "disk" }, "invalid cache.store"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = StorageBackendS3 }, "storage.s3.bucket"},
		{"tracing without endpoint", func(c *Config) { c.Observability.TracingEnabled = true }, "tracing_endpoint"},
		{"burst missing", func(c *Config) { c.Transport.RateLimit.RequestsPerSecond = 5 }, "burst"},
		{"bad app", func(c *Config) { c.Apps["x"] = AppCredentials{} }, "apps.x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config must be valid: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
