package config

import (
	"fmt"

	"github.com/marmos91/dittocgi/pkg/adapter"
	"github.com/marmos91/dittocgi/pkg/adapter/tcp"
	"github.com/marmos91/dittocgi/pkg/metrics"
)

// CreateAdapters creates all enabled transport adapters from the configuration.
func CreateAdapters(cfg *Config, m metrics.CGIMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.TCP.Enabled {
		adapters = append(adapters, tcp.New(cfg.Adapters.TCP, m))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
