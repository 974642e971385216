// Package badger implements a persistent journal on BadgerDB.
//
// Key Namespace:
//
//	Prefix  Key Format                         Value
//	"j:"    j:<unix-nanos, 16 hex>:<entry id>  Entry (JSON)
//
// Keys sort by time, so Recent is a reverse prefix scan. Entries expire
// through Badger TTLs when Retention is set.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittocgi/pkg/journal"
)

const entryPrefix = "j:"

// BadgerJournalStoreConfig configures New.
type BadgerJournalStoreConfig struct {
	// DBPath is the database directory. Ignored when InMemory is set.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory (tests, ephemeral runs).
	InMemory bool `mapstructure:"in_memory"`

	// Retention expires entries after this long. 0 keeps them forever.
	Retention time.Duration `mapstructure:"retention" validate:"min=0"`

	// BadgerOptions overrides every other option when set.
	BadgerOptions *badger.Options `mapstructure:"-" json:"-"`
}

// BadgerJournalStore implements journal.Store.
type BadgerJournalStore struct {
	db        *badger.DB
	retention time.Duration
	closed    atomic.Bool
}

// New opens the database.
func New(ctx context.Context, cfg BadgerJournalStoreConfig) (*BadgerJournalStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	switch {
	case cfg.BadgerOptions != nil:
		opts = *cfg.BadgerOptions
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	default:
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("db_path is required")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}
	if cfg.BadgerOptions == nil {
		opts = opts.WithLoggingLevel(badger.WARNING).
			WithCompression(options.None).
			WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &BadgerJournalStore{db: db, retention: cfg.Retention}, nil
}

func entryKey(e journal.Entry) []byte {
	return fmt.Appendf(nil, "%s%016x:%s", entryPrefix, uint64(e.Time.UnixNano()), e.ID)
}

// Append implements journal.Store.
func (s *BadgerJournalStore) Append(ctx context.Context, e journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return journal.ErrClosed
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(entryKey(e), value)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
}

// Recent implements journal.Store.
func (s *BadgerJournalStore) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, journal.ErrClosed
	}

	var out []journal.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(entryPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= the seek key.
		for it.Seek([]byte(entryPrefix + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			var e journal.Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("failed to decode journal entry %q: %w", it.Item().Key(), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements journal.Store.
func (s *BadgerJournalStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
