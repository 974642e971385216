package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittocgi/pkg/content"
	"github.com/marmos91/dittocgi/pkg/content/contenttest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSContentStoreMemMap(t *testing.T) {
	suite := &contenttest.StoreTestSuite{
		NewStore: func(*testing.T) content.Store { return New(afero.NewMemMapFs()) },
	}
	suite.Run(t)
}

func TestFSContentStoreOS(t *testing.T) {
	suite := &contenttest.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			s, err := NewOS(Config{Root: t.TempDir()})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestNewOSWritesBelowRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewOS(Config{Root: root})
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "nested/dir/file.txt", []byte("data"), ""))

	raw, err := os.ReadFile(filepath.Join(root, "nested", "dir", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(raw))
}

func TestDirectoryIsNotContent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/assets", 0o755))
	s := New(fsys)

	_, err := s.Stat(context.Background(), "assets")
	assert.ErrorIs(t, err, content.ErrContentNotFound)
}

func TestNewOSRequiresRoot(t *testing.T) {
	_, err := NewOS(Config{})
	assert.Error(t, err)
}
