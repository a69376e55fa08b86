package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/biosync/internal/logging"
)

// DB represents a database connection used as a key/value backend
type DB struct {
	*sql.DB
	now func() time.Time
}

// Option configures a DB
type Option func(*DB)

// WithClock overrides the clock used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// New opens (or creates) the SQLite database at path
func New(path string, opts ...Option) (*DB, error) {
	logging.Debug().Str("path", path).Msg("Opening SQLite store")
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize %s: %w", path, err)
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
		PRAGMA busy_timeout=5000;
	`)
	return err
}

func (db *DB) nowUnix() int64 {
	return db.now().UnixMilli()
}

// Get returns the value of key unless it is missing or expired
func (db *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `
		SELECT value FROM kv
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, db.nowUnix()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set inserts or replaces key. ttl <= 0 stores it without expiry.
func (db *DB) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: db.now().Add(ttl).UnixMilli(), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	return err
}

// List pages through live keys starting with prefix, ordered by key
func (db *DB) List(ctx context.Context, prefix, after string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE substr(key, 1, ?) = ? AND key > ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
		LIMIT ?
	`, len(prefix), prefix, after, db.nowUnix(), limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, "", err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if len(keys) > limit {
		keys = keys[:limit]
		return keys, keys[len(keys)-1], nil
	}
	return keys, "", nil
}

// Sweep deletes expired rows and returns how many were removed
func (db *DB) Sweep(ctx context.Context) (int, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, db.nowUnix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats returns the number of live and expired keys
func (db *DB) Stats(ctx context.Context) (live, expired int64, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 END),
			COUNT(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 END)
		FROM kv
	`, db.nowUnix(), db.nowUnix()).Scan(&live, &expired)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get stats: %w", err)
	}
	return live, expired, nil
}
