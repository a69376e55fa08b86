// Package badgerkv implements the store backend on BadgerDB. Expiry is
// delegated to Badger's per-entry TTL.
package badgerkv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/chmdznr/biosync/internal/logging"
)

// gcDiscardRatio is passed to RunValueLogGC during sweeps
const gcDiscardRatio = 0.5

// Backend is a BadgerDB-backed key/value store
type Backend struct {
	db *badger.DB
}

// Open opens the database in dir. An empty dir opens an in-memory database.
func Open(dir string) (*Backend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	return value, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

// List iterates keys only; expired entries are skipped by the iterator
func (b *Backend) List(ctx context.Context, prefix, after string, limit int) ([]string, string, error) {
	var keys []string
	more := false

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(prefix)
		if after > prefix {
			start = []byte(after)
		}
		for it.Seek(start); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			if key <= after {
				continue
			}
			if limit > 0 && len(keys) == limit {
				more = true
				return nil
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("list: %w", err)
	}

	if more {
		return keys, keys[len(keys)-1], nil
	}
	return keys, "", nil
}

// Sweep runs value log garbage collection until nothing is left to rewrite.
// Badger hides expired keys on its own; this reclaims their disk space.
func (b *Backend) Sweep(ctx context.Context) (int, error) {
	if b.db.Opts().InMemory {
		return 0, nil
	}
	runs := 0
	for {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		err := b.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			return runs, fmt.Errorf("value log gc: %w", err)
		}
		runs++
	}
	logging.Debug().Int("rewrites", runs).Msg("Badger value log GC finished")
	return runs, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
