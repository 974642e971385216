package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Empty(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Server.Backend != "fastcgi" {
		t.Errorf("Expected backend 'fastcgi', got %q", cfg.Server.Backend)
	}
	if cfg.Server.FastCGI.MaxParamsSize != 1<<20 {
		t.Errorf("Expected max_params_size 1MB, got %d", cfg.Server.FastCGI.MaxParamsSize)
	}
	if cfg.Server.Direct.MaxHeaderSize != 64<<10 {
		t.Errorf("Expected max_header_size 64KB, got %d", cfg.Server.Direct.MaxHeaderSize)
	}
	if !cfg.Adapters.TCP.Enabled || cfg.Adapters.TCP.Port != 9000 {
		t.Errorf("Expected enabled TCP adapter on 9000, got %+v", cfg.Adapters.TCP)
	}
	if cfg.Adapters.TCP.Timeouts.Write != 30*time.Second {
		t.Errorf("Expected write timeout 30s, got %v", cfg.Adapters.TCP.Timeouts.Write)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Content.Type != "memory" || cfg.Journal.Type != "memory" {
		t.Errorf("Expected memory stores, got content=%q journal=%q", cfg.Content.Type, cfg.Journal.Type)
	}
	if cfg.Content.Filesystem["root"] == nil {
		t.Error("Expected filesystem defaults to be present")
	}
	if cfg.Journal.Badger["retention"] != "168h" {
		t.Errorf("Expected badger retention default, got %v", cfg.Journal.Badger["retention"])
	}
	if cfg.Compression.MinSize != 1024 || cfg.Compression.Level != -1 {
		t.Errorf("Unexpected compression defaults %+v", cfg.Compression.GzipConfig)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "warn", Format: "json", Output: "stderr"},
		Server: ServerConfig{
			Backend:         "DIRECT",
			ShutdownTimeout: 5 * time.Second,
			ResponseHeaders: map[string]string{"x-powered-by": "ditto"},
		},
		Content: ContentConfig{
			Type:       "filesystem",
			Filesystem: map[string]any{"root": "/srv/www"},
		},
	}
	cfg.Adapters.TCP.Port = 7000

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected normalized level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Explicit logging values were overwritten: %+v", cfg.Logging)
	}
	if cfg.Server.Backend != "direct" {
		t.Errorf("Expected normalized backend 'direct', got %q", cfg.Server.Backend)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.ResponseHeaders["X-Powered-By"] != "ditto" {
		t.Errorf("Expected canonical header key, got %v", cfg.Server.ResponseHeaders)
	}
	if cfg.Content.Filesystem["root"] != "/srv/www" {
		t.Errorf("Expected explicit root to be kept, got %v", cfg.Content.Filesystem["root"])
	}
	if cfg.Adapters.TCP.Enabled {
		t.Error("An explicitly configured but disabled adapter must stay disabled")
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
	if !cfg.Server.AccessLog {
		t.Error("Expected access log enabled by default")
	}
	if cfg.Server.HealthPath != "/_health" || cfg.Journal.Path != "/_journal" {
		t.Errorf("Unexpected built-in routes: health=%q journal=%q", cfg.Server.HealthPath, cfg.Journal.Path)
	}
	if !cfg.Content.Cache.Enabled {
		t.Error("Expected content cache enabled by default")
	}
}

func TestToMap_UsesConfigKeys(t *testing.T) {
	m, err := ToMap(GetDefaultConfig())
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}

	adapters, ok := m["adapters"].(map[string]any)
	if !ok {
		t.Fatalf("Expected adapters section, got %T", m["adapters"])
	}
	tcp, ok := adapters["tcp"].(map[string]any)
	if !ok {
		t.Fatalf("Expected adapters.tcp section, got %T", adapters["tcp"])
	}
	if tcp["port"] != 9000 {
		t.Errorf("Expected adapters.tcp.port 9000, got %v", tcp["port"])
	}

	// Squashed fields appear directly in their section
	compression := m["compression"].(map[string]any)
	if _, ok := compression["min_size"]; !ok {
		t.Errorf("Expected compression.min_size, got keys %v", compression)
	}
}
