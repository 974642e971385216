package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/content"
	"github.com/marmos91/dittocgi/pkg/handlers"
	"github.com/marmos91/dittocgi/pkg/journal"
	"github.com/marmos91/dittocgi/pkg/server"
	"github.com/marmos91/dittocgi/pkg/transforms"
)

// Runtime is a server assembled from a Config together with the resources
// it owns.
type Runtime struct {
	Server  *server.Server
	Backend *BackendResult
	Metrics *MetricsResult

	// Content and Journal are nil when their sections are disabled.
	Content content.Store
	Journal journal.Store
}

// Build assembles a ready-to-serve server from cfg.
//
// It orchestrates:
//  1. Metrics collectors and the optional /metrics server
//  2. The backend selected by server.backend
//  3. Pipeline stages: prefix stripping, compression, fixed headers,
//     access log and journal recording
//  4. Built-in routes: health, connections, journal and static content
//  5. Transport adapters
//
// On error every resource created so far is released.
func Build(ctx context.Context, cfg *Config) (rt *Runtime, err error) {
	logger.Debug("Building server from configuration")

	rt = &Runtime{Metrics: InitializeMetrics(cfg)}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	rt.Backend, err = CreateBackend(cfg, rt.Metrics.CGI)
	if err != nil {
		return rt, err
	}

	opts := []server.Option{
		server.WithMetrics(rt.Metrics.CGI),
		server.WithStopTimeout(cfg.Server.ShutdownTimeout),
	}
	if rt.Metrics.Server != nil {
		opts = append(opts, server.WithMetricsServer(rt.Metrics.Server))
	}
	srv := server.New(rt.Backend.Backend, opts...)
	rt.Server = srv

	if cfg.Server.StripPrefix != "" {
		srv.RegisterPre(transforms.StripPrefix(cfg.Server.StripPrefix))
	}

	if cfg.Compression.Enabled {
		srv.RegisterResponseTransform(transforms.Gzip(cfg.Compression.GzipConfig))
	}
	if len(cfg.Server.ResponseHeaders) > 0 {
		srv.RegisterResponseTransform(transforms.Headers(cfg.Server.ResponseHeaders))
	}

	if cfg.Server.AccessLog {
		srv.RegisterPostCompletion(transforms.AccessLog())
	}

	if cfg.Server.HealthPath != "" {
		if err = srv.Handle(cfg.Server.HealthPath, handlers.Health(srv.Registry(), rt.Backend.Backend.Name(), time.Now())); err != nil {
			return rt, fmt.Errorf("failed to register health route: %w", err)
		}
	}
	if cfg.Server.ConnectionsPath != "" {
		if err = srv.Handle(cfg.Server.ConnectionsPath, handlers.Connections(srv.Registry())); err != nil {
			return rt, fmt.Errorf("failed to register connections route: %w", err)
		}
	}

	if cfg.Journal.Enabled {
		rt.Journal, err = CreateJournalStore(ctx, &cfg.Journal)
		if err != nil {
			return rt, fmt.Errorf("failed to create journal store: %w", err)
		}
		srv.RegisterPostCompletion(journal.Recorder(rt.Journal, cfg.Journal.Type, rt.Metrics.Journal))

		if cfg.Journal.Path != "" {
			if err = srv.Handle(cfg.Journal.Path, handlers.Journal(rt.Journal)); err != nil {
				return rt, fmt.Errorf("failed to register journal route: %w", err)
			}
		}
		logger.Info("Request journal enabled (type: %s)", cfg.Journal.Type)
	}

	if cfg.Content.Enabled {
		rt.Content, err = CreateContentStore(ctx, &cfg.Content, rt.Metrics.Content)
		if err != nil {
			return rt, fmt.Errorf("failed to create content store: %w", err)
		}

		pattern := strings.TrimSuffix(cfg.Content.Static.Prefix, "/") + "/*"
		if err = srv.Handle(pattern, handlers.Static(rt.Content, cfg.Content.Static)); err != nil {
			return rt, fmt.Errorf("failed to register static route: %w", err)
		}
		logger.Info("Static content served at %s (store: %s, cache: %v)",
			pattern, cfg.Content.Type, cfg.Content.Cache.Enabled)
	}

	adapters, err := CreateAdapters(cfg, rt.Metrics.CGI)
	if err != nil {
		return rt, err
	}
	for _, a := range adapters {
		if err = srv.AddAdapter(a); err != nil {
			return rt, fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	logger.Debug("Server built: backend=%s routes=%v", rt.Backend.Backend.Name(), srv.Router().Patterns())
	return rt, nil
}

// Apply retunes a running server from a reloaded configuration. Only the
// log level and the shared rate limit change at runtime; other settings
// need a restart.
func (rt *Runtime) Apply(cfg *Config) {
	if lvl := strings.ToUpper(cfg.Logging.Level); lvl != logger.GetLevel().String() {
		logger.SetLevel(lvl)
		logger.Info("Log level changed to %s", lvl)
	}

	if rt.Backend != nil && rt.Backend.Limiter != nil {
		rl := cfg.Server.RateLimit
		rt.Backend.Limiter.Update(rl.RequestsPerSecond, rl.Burst)
	}
}

// Close releases the stores owned by the runtime.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Content != nil {
		if err := rt.Content.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close content store: %w", err))
		}
	}
	if rt.Journal != nil {
		if err := rt.Journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal store: %w", err))
		}
	}
	return errors.Join(errs...)
}
