package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/marmos91/dittocgi/pkg/adapter/tcp"
	"github.com/marmos91/dittocgi/pkg/backend"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are preserved.
// Store-specific maps receive defaults for every store type so that a
// generated sample file documents all of them.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAdaptersDefaults(&cfg.Adapters)
	applyMetricsDefaults(&cfg.Metrics)
	applyContentDefaults(&cfg.Content)
	applyJournalDefaults(&cfg.Journal)
	applyCompressionDefaults(&cfg.Compression)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Backend == "" {
		cfg.Backend = backend.NameFastCGI
	}
	cfg.Backend = strings.ToLower(cfg.Backend)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	if cfg.FastCGI.MaxParamsSize == 0 {
		cfg.FastCGI.MaxParamsSize = 1 << 20 // 1MB
	}
	if cfg.FastCGI.MaxBodySize == 0 {
		cfg.FastCGI.MaxBodySize = 32 << 20 // 32MB
	}

	if cfg.Direct.MaxHeaderSize == 0 {
		cfg.Direct.MaxHeaderSize = 64 << 10 // 64KB
	}
	if cfg.Direct.MaxBodySize == 0 {
		cfg.Direct.MaxBodySize = 32 << 20
	}

	// Viper lowercases map keys.
	if len(cfg.ResponseHeaders) > 0 {
		headers := make(map[string]string, len(cfg.ResponseHeaders))
		for name, value := range cfg.ResponseHeaders {
			headers[http.CanonicalHeaderKey(name)] = value
		}
		cfg.ResponseHeaders = headers
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// A config without an explicit port is treated as unconfigured and
	// gets the TCP adapter enabled, so a freshly loaded config validates.
	if !cfg.TCP.Enabled && cfg.TCP.Port == 0 {
		cfg.TCP.Enabled = true
	}

	applyTCPDefaults(&cfg.TCP)
}

// applyTCPDefaults sets TCP adapter defaults.
func applyTCPDefaults(cfg *tcp.TCPConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 64 << 10
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 30 * time.Second
	}
	if cfg.Timeouts.Idle == 0 {
		cfg.Timeouts.Idle = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["root"]; !ok {
		cfg.Filesystem["root"] = "/var/lib/dittocgi/static"
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = 10
	}

	if cfg.Cache.MaxBytes == 0 {
		cfg.Cache.MaxBytes = 64 << 20 // 64MB
	}
	if cfg.Cache.MaxObjectSize == 0 {
		cfg.Cache.MaxObjectSize = 1 << 20 // 1MB
	}

	if cfg.Static.Prefix == "" {
		cfg.Static.Prefix = "/static"
	}
	if cfg.Static.IndexFile == "" {
		cfg.Static.IndexFile = "index.html"
	}
	if cfg.Static.Timeout == 0 {
		cfg.Static.Timeout = 5 * time.Second
	}
}

// applyJournalDefaults sets journal defaults.
func applyJournalDefaults(cfg *JournalConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.Memory["capacity"]; !ok {
		cfg.Memory["capacity"] = 1000
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/var/lib/dittocgi/journal"
	}
	if _, ok := cfg.Badger["retention"]; !ok {
		cfg.Badger["retention"] = "168h"
	}
}

// applyCompressionDefaults sets gzip defaults.
func applyCompressionDefaults(cfg *CompressionConfig) {
	if cfg.Level == 0 {
		cfg.Level = -1 // gzip.DefaultCompression
	}
	if cfg.MinSize == 0 {
		cfg.MinSize = 1024
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Seeding viper so every key can be overridden from the environment
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			AccessLog:       true,
			HealthPath:      "/_health",
			ConnectionsPath: "/_connections",
			ResponseHeaders: map[string]string{
				"Server": "dittocgi",
			},
		},
		Adapters: AdaptersConfig{
			TCP: tcp.TCPConfig{
				Enabled: true,
			},
		},
		Content: ContentConfig{
			Cache: ContentCacheConfig{Enabled: true},
		},
		Journal: JournalConfig{
			Path: "/_journal",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}

// ToMap renders cfg as nested maps keyed by configuration key names.
func ToMap(cfg *Config) (map[string]any, error) {
	out := make(map[string]any)
	if err := mapstructure.Decode(cfg, &out); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}

// registerDefaults seeds v with every key of cfg. Viper only consults the
// environment for keys it knows, so this also enables DITTOCGI_* overrides
// when no config file is present.
func registerDefaults(v *viper.Viper, cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	setDefaults(v, "", m)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for key, value := range m {
		if prefix != "" {
			key = prefix + "." + key
		}
		switch nested := value.(type) {
		case map[string]any:
			if len(nested) > 0 {
				setDefaults(v, key, nested)
				continue
			}
		case map[string]string:
			// Per-entry defaults merge with entries from the file.
			if len(nested) > 0 {
				m := make(map[string]any, len(nested))
				for k, s := range nested {
					m[k] = s
				}
				setDefaults(v, key, m)
				continue
			}
		}
		v.SetDefault(key, value)
	}
}
