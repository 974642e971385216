// Package cache adds a bounded read cache in front of a content store.
//
// Bodies are kept in a ristretto cache weighted by size. Writes and deletes
// through the cache invalidate the key; writes that bypass it become
// visible once the entry expires (TTL) or is evicted.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/content"
	"github.com/marmos91/dittocgi/pkg/metrics"
)

// Config bounds the cache.
type Config struct {
	// MaxBytes is the total body size kept (default 64MB).
	MaxBytes int64 `mapstructure:"max_bytes" validate:"min=0"`

	// MaxObjectSize skips caching larger bodies (default 1MB).
	MaxObjectSize int64 `mapstructure:"max_object_size" validate:"min=0"`

	// TTL expires entries. 0 keeps them until evicted.
	TTL time.Duration `mapstructure:"ttl" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 64 << 20
	}
	if c.MaxObjectSize <= 0 {
		c.MaxObjectSize = 1 << 20
	}
}

type entry struct {
	data []byte
	obj  content.Object
}

// CachedContentStore wraps a content.Store with a read cache.
type CachedContentStore struct {
	inner   content.Store
	cache   *ristretto.Cache[string, entry]
	cfg     Config
	metrics metrics.ContentMetrics
}

// New wraps inner. m may be nil.
func New(inner content.Store, cfg Config, m metrics.ContentMetrics) (*CachedContentStore, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner store is required")
	}
	cfg.applyDefaults()
	if m == nil {
		m = metrics.NewNoopContentMetrics()
	}

	// Roughly ten counters per expected entry, assuming 4KB bodies.
	numCounters := max(cfg.MaxBytes/4096*10, 1000)

	c, err := ristretto.NewCache(&ristretto.Config[string, entry]{
		NumCounters: numCounters,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create content cache: %w", err)
	}

	logger.Debug("Content cache: max_bytes=%d max_object_size=%d ttl=%v",
		cfg.MaxBytes, cfg.MaxObjectSize, cfg.TTL)

	return &CachedContentStore{inner: inner, cache: c, cfg: cfg, metrics: m}, nil
}

// Get implements content.Store, serving from the cache when possible.
func (s *CachedContentStore) Get(ctx context.Context, key string) ([]byte, content.Object, error) {
	k, err := content.NormalizeKey(key)
	if err != nil {
		return nil, content.Object{}, fmt.Errorf("key %q: %w", key, err)
	}

	if e, ok := s.cache.Get(k); ok {
		s.metrics.RecordCacheHit()
		return e.data, e.obj, nil
	}
	s.metrics.RecordCacheMiss()

	data, obj, err := s.inner.Get(ctx, k)
	if err != nil {
		return nil, content.Object{}, err
	}

	if int64(len(data)) <= s.cfg.MaxObjectSize {
		cost := max(int64(len(data)), 1)
		if s.cfg.TTL > 0 {
			s.cache.SetWithTTL(k, entry{data: data, obj: obj}, cost, s.cfg.TTL)
		} else {
			s.cache.Set(k, entry{data: data, obj: obj}, cost)
		}
		s.cache.Wait()
	}
	return data, obj, nil
}

// Stat implements content.Store.
func (s *CachedContentStore) Stat(ctx context.Context, key string) (content.Object, error) {
	if k, err := content.NormalizeKey(key); err == nil {
		if e, ok := s.cache.Get(k); ok {
			return e.obj, nil
		}
	}
	return s.inner.Stat(ctx, key)
}

// Put implements content.Store and invalidates key.
func (s *CachedContentStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	err := s.inner.Put(ctx, key, data, contentType)
	s.invalidate(key)
	return err
}

// Delete implements content.Store and invalidates key.
func (s *CachedContentStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	s.invalidate(key)
	return err
}

// List implements content.Store. Listings are not cached.
func (s *CachedContentStore) List(ctx context.Context, prefix string) ([]content.Object, error) {
	return s.inner.List(ctx, prefix)
}

// Purge drops every cached entry.
func (s *CachedContentStore) Purge() {
	s.cache.Clear()
}

// Close closes the cache and the inner store.
func (s *CachedContentStore) Close() error {
	s.cache.Close()
	return s.inner.Close()
}

func (s *CachedContentStore) invalidate(key string) {
	if k, err := content.NormalizeKey(key); err == nil {
		s.cache.Del(k)
	}
}
