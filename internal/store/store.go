// Package store persists readings as a TTL-bounded time series on top of a
// key/value Backend.
//
// Key layout:
//
//	reading:{category}:{timestamp}   one reading, expires after TTL
//	latest:{category}                most recently written reading, expires after TTL
//	drive_last_sync                  sync cursor, never expires
//
// Timestamps in keys are canonical UTC (models.TimestampLayout), so a plain
// string comparison on the key suffix orders readings chronologically.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/chmdznr/biosync/internal/metrics"
	"github.com/chmdznr/biosync/pkg/models"
)

const (
	// DefaultTTL is the retention of readings and latest pointers
	DefaultTTL = 30 * 24 * time.Hour

	// DefaultPageSize is the number of keys fetched per List call
	DefaultPageSize = 500

	// CursorKey holds the sync cursor
	CursorKey = "drive_last_sync"
)

var (
	// ErrClosed is returned by backends after Close
	ErrClosed = errors.New("store is closed")

	// ErrNonCanonicalTimestamp is returned when a key timestamp is not canonical UTC
	ErrNonCanonicalTimestamp = errors.New("timestamp is not canonical UTC")
)

// Entry is a stored reading payload and its timestamp
type Entry struct {
	Timestamp string
	Payload   []byte
}

// Reading decodes the payload of an entry of category c
func (e Entry) Reading(c models.Category) (models.Reading, error) {
	return models.UnmarshalReading(c, e.Payload)
}

type latestRecord struct {
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Options configures a Store
type Options struct {
	TTL      time.Duration
	PageSize int
}

// Store is the reading time series
type Store struct {
	backend  Backend
	ttl      time.Duration
	pageSize int
}

// New creates a store over backend; zero options take defaults
func New(backend Backend, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Store{backend: backend, ttl: opts.TTL, pageSize: opts.PageSize}
}

// ReadingKey returns the key of a reading
func ReadingKey(c models.Category, timestamp string) string {
	return readingPrefix(c) + timestamp
}

// LatestKey returns the key of a category's latest pointer
func LatestKey(c models.Category) string {
	return "latest:" + string(c)
}

func readingPrefix(c models.Category) string {
	return "reading:" + string(c) + ":"
}

// Put writes a reading payload and makes it the category's latest pointer.
// A previous value under the same key is replaced.
func (s *Store) Put(ctx context.Context, c models.Category, timestamp string, payload []byte) error {
	if !models.IsCanonicalTimestamp(timestamp) {
		return fmt.Errorf("put %s reading %q: %w", c, timestamp, ErrNonCanonicalTimestamp)
	}

	key := ReadingKey(c, timestamp)
	if err := s.backend.Set(ctx, key, payload, s.ttl); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("put").Inc()
		return fmt.Errorf("put %s: %w", key, err)
	}

	latest, err := json.Marshal(latestRecord{Timestamp: timestamp, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal latest %s: %w", c, err)
	}
	if err := s.backend.Set(ctx, LatestKey(c), latest, s.ttl); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("put_latest").Inc()
		return fmt.Errorf("put %s: %w", LatestKey(c), err)
	}
	return nil
}

// PutReading encodes r and writes it with Put
func (s *Store) PutReading(ctx context.Context, r models.Reading) error {
	payload, err := models.MarshalReading(r)
	if err != nil {
		return err
	}
	return s.Put(ctx, r.Category(), r.Time(), payload)
}

// ListSince returns every reading of c with timestamp >= cutoff, newest
// first. The whole category prefix is paged through; there is no range index.
func (s *Store) ListSince(ctx context.Context, c models.Category, cutoff string) ([]Entry, error) {
	prefix := readingPrefix(c)

	var matched []string
	after := ""
	for {
		keys, next, err := s.backend.List(ctx, prefix, after, s.pageSize)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, key := range keys {
			if strings.TrimPrefix(key, prefix) >= cutoff {
				matched = append(matched, key)
			}
		}
		if next == "" {
			break
		}
		after = next
	}

	entries := make([]Entry, 0, len(matched))
	for _, key := range matched {
		payload, ok, err := s.backend.Get(ctx, key)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("get").Inc()
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		if !ok {
			// expired between List and Get
			continue
		}
		entries = append(entries, Entry{Timestamp: strings.TrimPrefix(key, prefix), Payload: payload})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	return entries, nil
}

// GetLatest returns the most recently written reading of c
func (s *Store) GetLatest(ctx context.Context, c models.Category) (Entry, bool, error) {
	data, ok, err := s.backend.Get(ctx, LatestKey(c))
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("get_latest").Inc()
		return Entry{}, false, fmt.Errorf("get %s: %w", LatestKey(c), err)
	}
	if !ok {
		return Entry{}, false, nil
	}

	var rec latestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", LatestKey(c), err)
	}
	return Entry{Timestamp: rec.Timestamp, Payload: rec.Payload}, true, nil
}

// Cursor returns the committed sync cursor; zero if none was ever saved
func (s *Store) Cursor(ctx context.Context) (models.SyncCursor, error) {
	var cursor models.SyncCursor
	data, ok, err := s.backend.Get(ctx, CursorKey)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("get_cursor").Inc()
		return cursor, fmt.Errorf("get %s: %w", CursorKey, err)
	}
	if !ok {
		return cursor, nil
	}
	if err := json.Unmarshal(data, &cursor); err != nil {
		return cursor, fmt.Errorf("decode %s: %w", CursorKey, err)
	}
	return cursor, nil
}

// SaveCursor persists the sync cursor without expiry
func (s *Store) SaveCursor(ctx context.Context, cursor models.SyncCursor) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if err := s.backend.Set(ctx, CursorKey, data, 0); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("put_cursor").Inc()
		return fmt.Errorf("put %s: %w", CursorKey, err)
	}
	return nil
}

// Sweep removes expired keys when the backend needs it
func (s *Store) Sweep(ctx context.Context) (int, error) {
	sw, ok := s.backend.(Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sw.Sweep(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("sweep").Inc()
		return n, fmt.Errorf("sweep: %w", err)
	}
	metrics.StoreSweptTotal.Add(float64(n))
	return n, nil
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
