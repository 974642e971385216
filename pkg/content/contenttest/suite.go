// Package contenttest holds the behavioural test suite shared by every
// content.Store implementation.
package contenttest

import (
	"context"
	"testing"

	"github.com/marmos91/dittocgi/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the content.Store contract, not implementation
// details.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &contenttest.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.Store { return mystore.New() },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for each test.
	NewStore func(t *testing.T) content.Store

	// PersistsContentType is false for stores that cannot record it.
	PersistsContentType bool
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("NotFound", suite.testNotFound)
	t.Run("Delete", suite.testDelete)
	t.Run("KeyNormalization", suite.testKeyNormalization)
	t.Run("InvalidKeys", suite.testInvalidKeys)
	t.Run("List", suite.testList)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func (suite *StoreTestSuite) newStore(t *testing.T) content.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustPut(t *testing.T, s content.Store, key, data, contentType string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), key, []byte(data), contentType), "Put %s", key)
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	s := suite.newStore(t)
	mustPut(t, s, "css/site.css", "body{}", "text/css")

	data, obj, err := s.Get(context.Background(), "css/site.css")
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(data))
	assert.Equal(t, "css/site.css", obj.Key)
	assert.Equal(t, int64(6), obj.Size)
	if suite.PersistsContentType {
		assert.Equal(t, "text/css", obj.ContentType)
	}

	stat, err := s.Stat(context.Background(), "css/site.css")
	require.NoError(t, err)
	assert.Equal(t, int64(6), stat.Size)
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	s := suite.newStore(t)
	mustPut(t, s, "a.txt", "first", "")
	mustPut(t, s, "a.txt", "second!", "")

	data, obj, err := s.Get(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "second!", string(data))
	assert.Equal(t, int64(7), obj.Size)
}

func (suite *StoreTestSuite) testNotFound(t *testing.T) {
	s := suite.newStore(t)

	_, _, err := s.Get(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	_, err = s.Stat(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, content.ErrContentNotFound)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	s := suite.newStore(t)
	mustPut(t, s, "gone.txt", "x", "")

	require.NoError(t, s.Delete(context.Background(), "gone.txt"))
	_, _, err := s.Get(context.Background(), "gone.txt")
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	assert.NoError(t, s.Delete(context.Background(), "gone.txt"), "deleting a missing object succeeds")
}

func (suite *StoreTestSuite) testKeyNormalization(t *testing.T) {
	s := suite.newStore(t)
	mustPut(t, s, "/docs/./index.html", "<h1>hi</h1>", "")

	data, obj, err := s.Get(context.Background(), "docs/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))
	assert.Equal(t, "docs/index.html", obj.Key)
}

func (suite *StoreTestSuite) testInvalidKeys(t *testing.T) {
	s := suite.newStore(t)

	for _, key := range []string{"", "/", "../etc/passwd", "a/../../b"} {
		err := s.Put(context.Background(), key, []byte("x"), "")
		assert.ErrorIs(t, err, content.ErrInvalidKey, "key %q", key)
	}
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	s := suite.newStore(t)
	mustPut(t, s, "img/b.png", "bb", "")
	mustPut(t, s, "img/a.png", "a", "")
	mustPut(t, s, "index.html", "idx", "")

	all, err := s.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "img/a.png", all[0].Key)
	assert.Equal(t, "img/b.png", all[1].Key)
	assert.Equal(t, "index.html", all[2].Key)

	imgs, err := s.List(context.Background(), "/img/")
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, int64(2), imgs[1].Size)
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	s := suite.newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, "a.txt", []byte("x"), ""), context.Canceled)
	_, _, err := s.Get(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
}
