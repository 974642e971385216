// Package fs implements a content store on a filesystem through afero.
//
// Production deployments use an OS directory (NewOS); tests use an
// in-memory afero filesystem. Keys map to paths below the root.
package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marmos91/dittocgi/pkg/content"
	"github.com/spf13/afero"
)

// FSContentStore serves objects from an afero.Fs.
//
// The filesystem does not record content types, so objects report an empty
// ContentType and callers sniff it.
type FSContentStore struct {
	fs       afero.Fs
	dirMode  os.FileMode
	fileMode os.FileMode
}

// Config configures an OS-backed store.
type Config struct {
	// Root is the directory served. Created if missing.
	Root string `mapstructure:"root" validate:"required"`

	// DirMode is used for directories created by Put (default 0755).
	DirMode uint32 `mapstructure:"dir_mode"`

	// FileMode is used for files created by Put (default 0644).
	FileMode uint32 `mapstructure:"file_mode"`
}

// New returns a store over fsys, whose root is the store root.
func New(fsys afero.Fs) *FSContentStore {
	return &FSContentStore{fs: fsys, dirMode: 0o755, fileMode: 0o644}
}

// NewOS returns a store rooted at cfg.Root on the local filesystem.
func NewOS(cfg Config) (*FSContentStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", cfg.Root, err)
	}

	dirMode := os.FileMode(0o755)
	if cfg.DirMode != 0 {
		dirMode = os.FileMode(cfg.DirMode)
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("create root %q: %w", root, err)
	}

	s := New(afero.NewBasePathFs(afero.NewOsFs(), root))
	s.dirMode = dirMode
	if cfg.FileMode != 0 {
		s.fileMode = os.FileMode(cfg.FileMode)
	}
	return s, nil
}

func (s *FSContentStore) resolve(ctx context.Context, key string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	k, err := content.NormalizeKey(key)
	if err != nil {
		return "", "", fmt.Errorf("key %q: %w", key, err)
	}
	return k, "/" + k, nil
}

func mapError(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
	}
	return fmt.Errorf("content %s: %w", key, err)
}

func describe(key string, info iofs.FileInfo) content.Object {
	return content.Object{Key: key, Size: info.Size(), ModTime: info.ModTime()}
}

// Get implements content.Store.
func (s *FSContentStore) Get(ctx context.Context, key string) ([]byte, content.Object, error) {
	k, p, err := s.resolve(ctx, key)
	if err != nil {
		return nil, content.Object{}, err
	}

	obj, err := s.stat(k, p)
	if err != nil {
		return nil, content.Object{}, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, content.Object{}, mapError(k, err)
	}
	obj.Size = int64(len(data))
	return data, obj, nil
}

// Stat implements content.Store.
func (s *FSContentStore) Stat(ctx context.Context, key string) (content.Object, error) {
	k, p, err := s.resolve(ctx, key)
	if err != nil {
		return content.Object{}, err
	}
	return s.stat(k, p)
}

func (s *FSContentStore) stat(k, p string) (content.Object, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return content.Object{}, mapError(k, err)
	}
	if info.IsDir() {
		return content.Object{}, fmt.Errorf("content %s is a directory: %w", k, content.ErrContentNotFound)
	}
	return describe(k, info), nil
}

// Put implements content.Store. The content type is not persisted.
func (s *FSContentStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	k, p, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(p), s.dirMode); err != nil {
		return fmt.Errorf("content %s: create parent: %w", k, err)
	}
	if err := afero.WriteFile(s.fs, p, data, s.fileMode); err != nil {
		return fmt.Errorf("content %s: %w", k, err)
	}
	return nil
}

// Delete implements content.Store.
func (s *FSContentStore) Delete(ctx context.Context, key string) error {
	k, p, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("content %s: %w", k, err)
	}
	return nil
}

// List implements content.Store.
func (s *FSContentStore) List(ctx context.Context, prefix string) ([]content.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = content.NormalizePrefix(prefix)

	var out []content.Object
	err := afero.Walk(s.fs, "/", func(p string, info iofs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		key := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if strings.HasPrefix(key, prefix) {
			out = append(out, describe(key, info))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close implements content.Store.
func (s *FSContentStore) Close() error {
	return nil
}
