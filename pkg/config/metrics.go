package config

import (
	"github.com/marmos91/dittocgi/pkg/metrics"
	promMetrics "github.com/marmos91/dittocgi/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// CGI, Content and Journal are never nil; they are no-ops when disabled.
	CGI     metrics.CGIMetrics
	Content metrics.ContentMetrics
	Journal metrics.JournalMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// When metrics are enabled it initializes the global Prometheus registry,
// creates the /metrics HTTP server and Prometheus-backed collectors.
// Otherwise it returns a nil server and no-op collectors.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			CGI:     metrics.NewNoopCGIMetrics(),
			Content: metrics.NewNoopContentMetrics(),
			Journal: metrics.NewNoopJournalMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:  metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		CGI:     promMetrics.NewCGIMetrics(),
		Content: promMetrics.NewContentMetrics(),
		Journal: promMetrics.NewJournalMetrics(),
	}
}
