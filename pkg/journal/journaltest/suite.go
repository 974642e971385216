// Package journaltest holds the test suite shared by journal.Store
// implementations.
package journaltest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/dittocgi/pkg/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the journal.Store contract.
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store able to hold at least ten
	// entries.
	NewStore func(t *testing.T) journal.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Empty", suite.testEmpty)
	t.Run("NewestFirst", suite.testNewestFirst)
	t.Run("Limit", suite.testLimit)
	t.Run("Closed", suite.testClosed)
}

// Entries returns n entries one millisecond apart, oldest first.
func Entries(n int) []journal.Entry {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := make([]journal.Entry, n)
	for i := range out {
		out[i] = journal.Entry{
			ID:         fmt.Sprintf("e%02d", i),
			Connection: "conn",
			RequestID:  1,
			Method:     "GET",
			Path:       fmt.Sprintf("/p/%d", i),
			Responded:  true,
			Status:     200,
			Time:       base.Add(time.Duration(i) * time.Millisecond),
		}
	}
	return out
}

func (suite *StoreTestSuite) newStore(t *testing.T) journal.Store {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (suite *StoreTestSuite) testEmpty(t *testing.T) {
	s := suite.newStore(t)
	got, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func (suite *StoreTestSuite) testNewestFirst(t *testing.T) {
	s := suite.newStore(t)
	for _, e := range Entries(3) {
		require.NoError(t, s.Append(context.Background(), e))
	}

	got, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e02", got[0].ID)
	assert.Equal(t, "e00", got[2].ID)
	assert.Equal(t, "/p/2", got[0].Path)
	assert.Equal(t, 200, got[0].Status)
}

func (suite *StoreTestSuite) testLimit(t *testing.T) {
	s := suite.newStore(t)
	for _, e := range Entries(5) {
		require.NoError(t, s.Append(context.Background(), e))
	}

	got, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e04", got[0].ID)
	assert.Equal(t, "e03", got[1].ID)
}

func (suite *StoreTestSuite) testClosed(t *testing.T) {
	s := suite.NewStore(t)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Append(context.Background(), Entries(1)[0]), journal.ErrClosed)
	_, err := s.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, journal.ErrClosed)
}
