package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittocgi/pkg/content"
	"github.com/marmos91/dittocgi/pkg/content/contenttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryContentStore(t *testing.T) {
	suite := &contenttest.StoreTestSuite{
		NewStore:            func(*testing.T) content.Store { return New() },
		PersistsContentType: true,
	}
	suite.Run(t)
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(context.Background(), "a", []byte("abc"), ""))

	data, _, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	data[0] = 'X'

	again, _, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	assert.Error(t, s.Put(context.Background(), "a", []byte("x"), ""))
	_, _, err := s.Get(context.Background(), "a")
	assert.Error(t, err)
}
