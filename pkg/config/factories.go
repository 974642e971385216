package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/internal/ratelimiter"
	"github.com/marmos91/dittocgi/pkg/backend"
	"github.com/marmos91/dittocgi/pkg/backend/direct"
	"github.com/marmos91/dittocgi/pkg/backend/fastcgi"
	"github.com/marmos91/dittocgi/pkg/content"
	"github.com/marmos91/dittocgi/pkg/content/cache"
	contentFs "github.com/marmos91/dittocgi/pkg/content/fs"
	contentMemory "github.com/marmos91/dittocgi/pkg/content/memory"
	contentS3 "github.com/marmos91/dittocgi/pkg/content/s3"
	"github.com/marmos91/dittocgi/pkg/journal"
	journalBadger "github.com/marmos91/dittocgi/pkg/journal/badger"
	journalMemory "github.com/marmos91/dittocgi/pkg/journal/memory"
	"github.com/marmos91/dittocgi/pkg/metrics"
	"github.com/mitchellh/mapstructure"
)

// decodeOptions decodes a type-specific options map into out, accepting
// durations written as strings ("30s").
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// ============================================================================
// Content stores
// ============================================================================

// CreateContentStore creates the static content store based on configuration.
//
// The Type field selects the implementation; its options map is decoded by
// that store's config struct. The store is instrumented with m and, when
// enabled, wrapped by the read cache.
//
// Supported types:
//   - "memory": pkg/content/memory (ephemeral)
//   - "filesystem": pkg/content/fs (local directory through afero)
//   - "s3": pkg/content/s3 (Amazon S3 or compatible storage)
func CreateContentStore(ctx context.Context, cfg *ContentConfig, m metrics.ContentMetrics) (content.Store, error) {
	var (
		store content.Store
		err   error
	)

	switch cfg.Type {
	case "memory":
		store = contentMemory.New()
	case "filesystem":
		store, err = createFilesystemContentStore(cfg.Filesystem)
	case "s3":
		store, err = createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	store = content.Instrument(store, cfg.Type, m)

	if !cfg.Cache.Enabled {
		return store, nil
	}

	cached, err := cache.New(store, cfg.Cache.Config, m)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create content cache: %w", err)
	}
	return cached, nil
}

// createFilesystemContentStore creates a filesystem-based content store.
func createFilesystemContentStore(options map[string]any) (content.Store, error) {
	var storeCfg contentFs.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	if storeCfg.Root == "" {
		return nil, fmt.Errorf("filesystem content store: root is required")
	}

	store, err := contentFs.NewOS(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	logger.Info("Filesystem content store initialized: root=%s", storeCfg.Root)
	return store, nil
}

// s3Options is the YAML shape of the s3 section.
type s3Options struct {
	contentS3.ClientConfig `mapstructure:",squash"`

	Bucket    string `mapstructure:"bucket"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// createS3ContentStore creates an S3-based content store.
func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	var storeCfg s3Options
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	client, err := contentS3.NewClient(ctx, storeCfg.ClientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	store, err := contentS3.New(ctx, contentS3.S3ContentStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// ============================================================================
// Journal stores
// ============================================================================

// CreateJournalStore creates the request journal store based on configuration.
//
// Supported types:
//   - "memory": pkg/journal/memory (bounded ring, ephemeral)
//   - "badger": pkg/journal/badger (BadgerDB, persistent)
func CreateJournalStore(ctx context.Context, cfg *JournalConfig) (journal.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		var opts struct {
			Capacity int `mapstructure:"capacity"`
		}
		if err := decodeOptions(cfg.Memory, &opts); err != nil {
			return nil, fmt.Errorf("failed to decode memory journal config: %w", err)
		}
		return journalMemory.New(opts.Capacity), nil

	case "badger":
		var storeCfg journalBadger.BadgerJournalStoreConfig
		if err := decodeOptions(cfg.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger journal config: %w", err)
		}
		if storeCfg.DBPath == "" && !storeCfg.InMemory {
			return nil, fmt.Errorf("badger journal store: db_path is required")
		}
		store, err := journalBadger.New(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger journal store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown journal store type: %q (supported: memory, badger)", cfg.Type)
	}
}

// ============================================================================
// Backend
// ============================================================================

// BackendResult holds the backend and the limiters it consults, so a
// config reload can retune them in place.
type BackendResult struct {
	Backend backend.Backend

	// Limiter and PerConnection are nil for the direct backend.
	Limiter       *ratelimiter.Limiter
	PerConnection *ratelimiter.Keyed
}

// CreateBackend creates the protocol backend selected by cfg.Server.Backend.
func CreateBackend(cfg *Config, m metrics.CGIMetrics) (*BackendResult, error) {
	switch cfg.Server.Backend {
	case backend.NameFastCGI:
		maxConns := cfg.Server.FastCGI.MaxConns
		if maxConns == 0 {
			maxConns = cfg.Adapters.TCP.MaxConnections
		}

		rl := cfg.Server.RateLimit
		limiter := ratelimiter.New(rl.RequestsPerSecond, rl.Burst)
		perConn := ratelimiter.NewKeyed(rl.PerConnection, rl.PerConnectionBurst)

		b := fastcgi.New(fastcgi.Config{
			MaxConns:      maxConns,
			MaxParamsSize: cfg.Server.FastCGI.MaxParamsSize,
			MaxBodySize:   cfg.Server.FastCGI.MaxBodySize,
		},
			fastcgi.WithLimiter(limiter),
			fastcgi.WithPerConnectionLimiter(perConn),
			fastcgi.WithMetrics(m),
		)
		return &BackendResult{Backend: b, Limiter: limiter, PerConnection: perConn}, nil

	case backend.NameDirect:
		b := direct.New(direct.Config{
			MaxHeaderSize: cfg.Server.Direct.MaxHeaderSize,
			MaxBodySize:   cfg.Server.Direct.MaxBodySize,
		}, direct.WithMetrics(m))
		return &BackendResult{Backend: b}, nil

	default:
		return nil, fmt.Errorf("unknown backend: %q (supported: fastcgi, direct)", cfg.Server.Backend)
	}
}
