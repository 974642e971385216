// Package content defines the storage interface behind the static file
// handler, plus shared helpers for its implementations.
//
// Keys are slash-separated relative paths ("css/site.css"). Every store
// normalizes keys with NormalizeKey, so "/css/site.css" and
// "css/./site.css" address the same object and keys that escape the root
// are rejected.
package content

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var (
	// ErrContentNotFound indicates the requested object does not exist.
	//
	// Implementations wrap it with the key:
	//
	//	return fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidKey indicates a key that is empty or escapes the store root.
	ErrInvalidKey = errors.New("invalid content key")
)

// Object describes a stored object.
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	ModTime     time.Time `json:"mod_time"`
}

// Store is a flat key/value object store.
//
// Objects served by the static handler are small enough to be read whole,
// so Get returns the full body.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// Get returns the body and description of the object at key.
	//
	// Returns ErrContentNotFound if the object does not exist.
	Get(ctx context.Context, key string) ([]byte, Object, error)

	// Stat describes the object at key without reading its body.
	Stat(ctx context.Context, key string) (Object, error)

	// Put creates or replaces the object at key. contentType may be empty;
	// stores that cannot persist it ignore it.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Delete removes the object at key. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// List describes every object whose key starts with prefix, in key
	// order.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Close releases the store's resources.
	Close() error
}

// NormalizeKey cleans key into the canonical relative form.
func NormalizeKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidKey
	}
	// Rooting the path hides "..", so the raw segments are checked too.
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", ErrInvalidKey
		}
	}
	return cleaned, nil
}

// NormalizePrefix cleans a List prefix. An empty prefix matches everything.
func NormalizePrefix(prefix string) string {
	p := strings.TrimLeft(prefix, "/")
	if p == "" {
		return ""
	}
	if cleaned, err := NormalizeKey(p); err == nil {
		if strings.HasSuffix(p, "/") {
			return cleaned + "/"
		}
		return cleaned
	}
	return p
}
