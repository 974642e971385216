// Package memory implements a bounded in-process journal.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittocgi/pkg/journal"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1000

// MemoryJournalStore keeps the most recent entries in a ring buffer.
type MemoryJournalStore struct {
	mu      sync.Mutex
	entries []journal.Entry
	next    int
	full    bool
	closed  bool
}

// New returns a store retaining up to capacity entries.
func New(capacity int) *MemoryJournalStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryJournalStore{entries: make([]journal.Entry, capacity)}
}

// Append implements journal.Store. The oldest entry is overwritten when the
// buffer is full.
func (s *MemoryJournalStore) Append(ctx context.Context, e journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return journal.ErrClosed
	}
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent implements journal.Store.
func (s *MemoryJournalStore) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, journal.ErrClosed
	}

	n := s.next
	if s.full {
		n = len(s.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]journal.Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out, nil
}

// Close implements journal.Store.
func (s *MemoryJournalStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.entries = nil
	s.mu.Unlock()
	return nil
}
