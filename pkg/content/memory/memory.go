// Package memory implements an in-process content store.
//
// Objects are lost when the process exits. Intended for tests and for
// serving a handful of embedded assets.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittocgi/pkg/content"
)

type object struct {
	data []byte
	info content.Object
}

// MemoryContentStore keeps objects in a map guarded by a RWMutex.
type MemoryContentStore struct {
	mu      sync.RWMutex
	objects map[string]object
	closed  bool
}

// New returns an empty store.
func New() *MemoryContentStore {
	return &MemoryContentStore{objects: make(map[string]object)}
}

func (s *MemoryContentStore) lookup(ctx context.Context, key string) (object, error) {
	if err := ctx.Err(); err != nil {
		return object{}, err
	}
	k, err := content.NormalizeKey(key)
	if err != nil {
		return object{}, fmt.Errorf("key %q: %w", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return object{}, fmt.Errorf("memory store closed")
	}
	obj, ok := s.objects[k]
	if !ok {
		return object{}, fmt.Errorf("content %s: %w", k, content.ErrContentNotFound)
	}
	return obj, nil
}

// Get implements content.Store.
func (s *MemoryContentStore) Get(ctx context.Context, key string) ([]byte, content.Object, error) {
	obj, err := s.lookup(ctx, key)
	if err != nil {
		return nil, content.Object{}, err
	}
	return append([]byte(nil), obj.data...), obj.info, nil
}

// Stat implements content.Store.
func (s *MemoryContentStore) Stat(ctx context.Context, key string) (content.Object, error) {
	obj, err := s.lookup(ctx, key)
	return obj.info, err
}

// Put implements content.Store.
func (s *MemoryContentStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := content.NormalizeKey(key)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	s.objects[k] = object{
		data: append([]byte(nil), data...),
		info: content.Object{
			Key:         k,
			Size:        int64(len(data)),
			ContentType: contentType,
			ModTime:     time.Now(),
		},
	}
	return nil
}

// Delete implements content.Store.
func (s *MemoryContentStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := content.NormalizeKey(key)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}

	s.mu.Lock()
	delete(s.objects, k)
	s.mu.Unlock()
	return nil
}

// List implements content.Store.
func (s *MemoryContentStore) List(ctx context.Context, prefix string) ([]content.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = content.NormalizePrefix(prefix)

	s.mu.RLock()
	out := make([]content.Object, 0, len(s.objects))
	for k, obj := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close implements content.Store. Later calls fail.
func (s *MemoryContentStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.objects = make(map[string]object)
	s.mu.Unlock()
	return nil
}
