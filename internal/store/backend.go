package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Backend is a key/value store with per-key expiry and prefix listing.
// Expired keys must be invisible to Get and List.
type Backend interface {
	// Get returns the value of key, or false when it is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes key, replacing any previous value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// List returns up to limit keys with the given prefix that sort after
	// the after key, in ascending order. next is empty on the last page.
	List(ctx context.Context, prefix, after string, limit int) (keys []string, next string, err error)

	Close() error
}

// Sweeper is implemented by backends that remove expired keys on demand
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend. Entries are lost on restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
	closed  bool
}

// NewMemoryBackend creates an empty memory backend. now may be nil.
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{entries: make(map[string]memoryEntry), now: now}
}

func (m *MemoryBackend) live(e memoryEntry) bool {
	return e.expiresAt.IsZero() || m.now().Before(e.expiresAt)
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	e, ok := m.entries[key]
	if !ok || !m.live(e) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix, after string, limit int) ([]string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, "", ErrClosed
	}

	var keys []string
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && k > after && m.live(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
		return keys, keys[len(keys)-1], nil
	}
	return keys, "", nil
}

// Sweep drops expired entries
func (m *MemoryBackend) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if !m.live(e) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
