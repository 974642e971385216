package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittocgi/pkg/journal"
	"github.com/marmos91/dittocgi/pkg/journal/journaltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJournalStore(t *testing.T) {
	suite := &journaltest.StoreTestSuite{
		NewStore: func(*testing.T) journal.Store { return New(16) },
	}
	suite.Run(t)
}

func TestRingBufferDropsOldest(t *testing.T) {
	s := New(3)
	for _, e := range journaltest.Entries(5) {
		require.NoError(t, s.Append(context.Background(), e))
	}

	got, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e04", got[0].ID)
	assert.Equal(t, "e02", got[2].ID)
}

func TestDefaultCapacity(t *testing.T) {
	s := New(0)
	assert.Len(t, s.entries, DefaultCapacity)
}
