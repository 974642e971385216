package badger

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittocgi/pkg/journal"
	"github.com/marmos91/dittocgi/pkg/journal/journaltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerJournalStoreInMemory(t *testing.T) {
	suite := &journaltest.StoreTestSuite{
		NewStore: func(t *testing.T) journal.Store {
			s, err := New(context.Background(), BadgerJournalStoreConfig{InMemory: true})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestBadgerJournalStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(ctx, BadgerJournalStoreConfig{DBPath: dir})
	require.NoError(t, err)
	for _, e := range journaltest.Entries(2) {
		require.NoError(t, s.Append(ctx, e))
	}
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "second close is a no-op")

	reopened, err := New(ctx, BadgerJournalStoreConfig{DBPath: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e01", got[0].ID)
}

func TestKeysSortByTime(t *testing.T) {
	entries := journaltest.Entries(2)
	assert.Less(t, string(entryKey(entries[0])), string(entryKey(entries[1])))

	late := entries[0]
	late.Time = late.Time.Add(time.Hour)
	assert.Greater(t, string(entryKey(late)), string(entryKey(entries[1])))
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), BadgerJournalStoreConfig{})
	assert.Error(t, err)
}
