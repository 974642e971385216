package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittocgi/pkg/adapter/tcp"
	"github.com/marmos91/dittocgi/pkg/content/cache"
	"github.com/marmos91/dittocgi/pkg/handlers"
	"github.com/marmos91/dittocgi/pkg/transforms"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides,
// e.g. DITTOCGI_LOGGING_LEVEL=DEBUG.
const EnvPrefix = "DITTOCGI"

// Config represents the complete DittoCGI configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOCGI_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store sections follow one pattern: a Type field selects the
// implementation and only the matching type-specific map is decoded, by the
// store's own config struct, when the store is created.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains backend, limit and pipeline settings
	Server ServerConfig `mapstructure:"server"`

	// Adapters contains transport adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`

	// Metrics controls Prometheus collection and the /metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Content configures the store behind the static file handler
	Content ContentConfig `mapstructure:"content"`

	// Journal configures the request journal
	Journal JournalConfig `mapstructure:"journal"`

	// Compression configures the gzip response transform
	Compression CompressionConfig `mapstructure:"compression"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// Backend selects the wire protocol spoken on accepted connections
	// Valid values: fastcgi, direct
	Backend string `mapstructure:"backend" validate:"required,oneof=fastcgi direct"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// FastCGI holds limits for the fastcgi backend
	FastCGI FastCGIConfig `mapstructure:"fastcgi"`

	// Direct holds limits for the direct HTTP backend
	Direct DirectConfig `mapstructure:"direct"`

	// RateLimit sheds requests above a sustained rate (fastcgi only)
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// StripPrefix is removed from request paths before routing
	StripPrefix string `mapstructure:"strip_prefix" validate:"omitempty,startswith=/"`

	// ResponseHeaders are added to every response that does not set them
	ResponseHeaders map[string]string `mapstructure:"response_headers"`

	// AccessLog logs one line per completed request
	AccessLog bool `mapstructure:"access_log"`

	// HealthPath serves server health. Empty disables.
	HealthPath string `mapstructure:"health_path" validate:"omitempty,startswith=/"`

	// ConnectionsPath serves the connection registry snapshot. Empty disables.
	ConnectionsPath string `mapstructure:"connections_path" validate:"omitempty,startswith=/"`
}

// FastCGIConfig holds FastCGI backend limits.
type FastCGIConfig struct {
	// MaxConns is advertised as FCGI_MAX_CONNS (0 = adapter max_connections)
	MaxConns int `mapstructure:"max_conns" validate:"min=0"`

	// MaxParamsSize bounds the encoded params of one request (0 = unlimited)
	MaxParamsSize int `mapstructure:"max_params_size" validate:"min=0"`

	// MaxBodySize bounds one request body (0 = unlimited)
	MaxBodySize int `mapstructure:"max_body_size" validate:"min=0"`
}

// DirectConfig holds direct HTTP backend limits.
type DirectConfig struct {
	// MaxHeaderSize bounds the request line plus headers
	MaxHeaderSize int `mapstructure:"max_header_size" validate:"min=0"`

	// MaxBodySize bounds one request body (0 = unlimited)
	MaxBodySize int `mapstructure:"max_body_size" validate:"min=0"`
}

// RateLimitConfig configures request admission.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate for all connections (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the bucket size of the shared limiter
	Burst uint `mapstructure:"burst"`

	// PerConnection applies a separate bucket to each connection (0 = unlimited)
	PerConnection uint `mapstructure:"per_connection"`

	// PerConnectionBurst is the bucket size of each per-connection limiter
	PerConnectionBurst uint `mapstructure:"per_connection_burst"`
}

// AdaptersConfig contains all transport adapter configurations.
type AdaptersConfig struct {
	// TCP uses the tcp.TCPConfig type directly to avoid duplication.
	TCP tcp.TCPConfig `mapstructure:"tcp"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// ContentConfig specifies the static content store.
type ContentConfig struct {
	// Enabled registers the static handler
	Enabled bool `mapstructure:"enabled"`

	// Type specifies which content store implementation to use
	// Valid values: memory, filesystem, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory filesystem s3"`

	// Filesystem contains fs.Config fields. Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// S3 contains S3 fields. Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`

	// Cache configures the read cache in front of the store
	Cache ContentCacheConfig `mapstructure:"cache"`

	// Static configures the handler; its prefix is also the route
	Static handlers.StaticConfig `mapstructure:"static"`
}

// ContentCacheConfig wraps cache.Config with an on/off switch.
type ContentCacheConfig struct {
	Enabled bool `mapstructure:"enabled"`

	cache.Config `mapstructure:",squash"`
}

// JournalConfig configures the request journal.
type JournalConfig struct {
	// Enabled records every completed request
	Enabled bool `mapstructure:"enabled"`

	// Type specifies which journal store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration (capacity)
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	Badger map[string]any `mapstructure:"badger"`

	// Path serves recent entries as JSON. Empty disables.
	Path string `mapstructure:"path" validate:"omitempty,startswith=/"`
}

// CompressionConfig configures gzip compression of responses.
type CompressionConfig struct {
	Enabled bool `mapstructure:"enabled"`

	transforms.GzipConfig `mapstructure:",squash"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Flags in flags that were set on the command line
//  2. Environment variables (DITTOCGI_*)
//  3. Configuration file
//  4. Default values
//
// flags may be nil. Flag names map to config keys through FlagKeys.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := registerDefaults(v, GetDefaultConfig()); err != nil {
		return nil, err
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"log-output":       "logging.output",
	"backend":          "server.backend",
	"port":             "adapters.tcp.port",
	"bind-address":     "adapters.tcp.bind_address",
	"max-connections":  "adapters.tcp.max_connections",
	"shutdown-timeout": "server.shutdown_timeout",
	"metrics":          "metrics.enabled",
	"metrics-port":     "metrics.port",
	"content-type":     "content.type",
}

// RegisterFlags defines the flags listed in FlagKeys on flags. Defaults are
// zero so that unset flags never shadow the file or environment.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.String("log-output", "", "Log output (stdout, stderr or a file path)")
	flags.String("backend", "", "Wire protocol (fastcgi, direct)")
	flags.Int("port", 0, "Port to listen on")
	flags.String("bind-address", "", "Interface to listen on")
	flags.Int("max-connections", 0, "Maximum concurrent connections (0 = unlimited)")
	flags.Duration("shutdown-timeout", 0, "Graceful shutdown timeout")
	flags.Bool("metrics", false, "Enable Prometheus metrics")
	flags.Int("metrics-port", 0, "Metrics HTTP port")
	flags.String("content-type", "", "Static content store (memory, filesystem, s3)")
}

// bindFlags binds the flags that were explicitly set.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	var err error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := FlagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("failed to bind flag --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOCGI_ADAPTERS_TCP_PORT=9001
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/dittocgi/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Missing file: defaults and environment only
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittocgi")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittocgi")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
