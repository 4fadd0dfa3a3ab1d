// Package cli builds the bfast command line: data queries, function calls
// and configuration inspection against registered applications.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bfast/bfast-go/pkg/bfast"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/configschema"
	"github.com/bfast/bfast-go/pkg/health"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
	"github.com/bfast/bfast-go/pkg/version"
)

// CommandOptions configures NewCommand.
type CommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string
	// NewClient overrides how the SDK client is built from the loaded configuration.
	NewClient func(cfg *config.Config, log logger.Logger) (*bfast.Client, error)
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	opts       CommandOptions
	cfgPath    string
	secretFile string
	app        string
	output     string
}

// NewCommand creates the root command with query, call, version and config subcommands.
func NewCommand(opts CommandOptions) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "bfast"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "BFAST"
	}
	if opts.NewClient == nil {
		opts.NewClient = bfast.NewFromConfig
	}
	g := &globals{opts: opts}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	flags.StringVar(&g.secretFile, "secret-file", "", "path to secrets file (sets "+strings.ToUpper(opts.EnvPrefix)+"_SECRETS_FILE)")
	flags.StringVarP(&g.app, "app", "a", config.DefaultApp, "application name")
	flags.StringVarP(&g.output, "output", "o", formatJSON, "output format: json or yaml")
	flags.String("observability-log-level", "", "log level override (debug, info, warn, error)")
	flags.Duration("transport-timeout", 0, "HTTP timeout override")

	rootCmd.AddCommand(
		newFindCommand(g),
		newFirstCommand(g),
		newGetCommand(g),
		newCountCommand(g),
		newDistinctCommand(g),
		newAggregateCommand(g),
		newCallCommand(g),
		newHealthCommand(g),
		newVersionCommand(g),
		newConfigCommand(g),
	)
	return rootCmd
}

// session is a loaded configuration with the client built from it.
type session struct {
	cfg    *config.Config
	log    logger.Logger
	client *bfast.Client
	close  func()
}

func (g *globals) open(cmd *cobra.Command) (*session, error) {
	cfg, log, err := LoadConfigAndLogger(g.cfgPath, g.opts.EnvPrefix, g.secretFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	tp, err := tracing.NewTracerProvider(cmd.Context(), tracing.TracerConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version.Current().Version,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer: %w", err)
	}
	client, err := g.opts.NewClient(cfg, log)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}
	return &session{
		cfg:    cfg,
		log:    log,
		client: client,
		close: func() {
			if err := client.Close(); err != nil {
				log.Warn("closing client failed", "error", err)
			}
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", "error", err)
			}
		},
	}, nil
}

// LoadConfigAndLogger loads configuration with ViperLoader and builds the zap logger it describes.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath string, flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLogLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	format, err := logger.ParseLogFormat(cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log.Debug("configuration loaded", "apps", len(cfg.Apps), "cache_store", cfg.Cache.Store, "storage_backend", cfg.Storage.Backend)
	return cfg, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(strings.ToUpper(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func newHealthCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the cache store and application endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			result := s.client.Health(cmd.Context())
			if err := write(cmd.OutOrStdout(), g.output, result); err != nil {
				return err
			}
			if result.Status == health.StatusUnhealthy {
				return fmt.Errorf("one or more checks are unhealthy")
			}
			return nil
		},
	}
}

func newVersionCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd.OutOrStdout(), g.output, version.Current())
		},
	}
}

func newConfigCommand(g *globals) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := LoadConfigAndLogger(g.cfgPath, g.opts.EnvPrefix, g.secretFile, cmd.Flags()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return err
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := LoadConfigAndLogger(g.cfgPath, g.opts.EnvPrefix, g.secretFile, cmd.Flags())
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg = cfg.Redacted()
			}
			return write(cmd.OutOrStdout(), formatYAML, cfg)
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	configCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := configschema.JSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	})
	return configCmd
}
