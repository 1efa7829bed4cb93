// Package sqlitestore implements the durable cache tier on SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/justice-rest/Intel-sub005/internal/cache"
	"github.com/justice-rest/Intel-sub005/internal/record"
)

// ensure Store implements cache.Store
var _ cache.Store = (*Store)(nil)

// Store persists cache entries in a single SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS scrape_cache (
	key TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	query TEXT NOT NULL,
	data TEXT NOT NULL,
	total_found INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrape_cache_source ON scrape_cache(source);
CREATE INDEX IF NOT EXISTS idx_scrape_cache_expires ON scrape_cache(expires_at);
`

// New opens (and if needed initializes) the store at dsn.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the entry for key if present and unexpired. Expired rows are
// deleted opportunistically on read.
func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, source, query, data, total_found, created_at, expires_at
		 FROM scrape_cache WHERE key = ?`, key)

	var (
		entry              cache.Entry
		dataJSON           string
		createdMs, expires int64
	)
	err := row.Scan(&entry.Key, &entry.Source, &entry.Query, &dataJSON,
		&entry.TotalFound, &createdMs, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("read cache row: %w", err)
	}

	entry.CreatedAt = time.UnixMilli(createdMs)
	entry.ExpiresAt = time.UnixMilli(expires)
	if entry.Expired(time.Now()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM scrape_cache WHERE key = ?`, key)
		return cache.Entry{}, false, nil
	}

	if err := json.Unmarshal([]byte(dataJSON), &entry.Data); err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cached entities: %w", err)
	}
	if entry.Data == nil {
		entry.Data = []record.Entity{}
	}
	return entry, true, nil
}

// Put upserts one entry.
func (s *Store) Put(ctx context.Context, entry cache.Entry) error {
	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("encode cached entities: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scrape_cache (key, source, query, data, total_found, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			source = excluded.source,
			query = excluded.query,
			data = excluded.data,
			total_found = excluded.total_found,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.Key, entry.Source, entry.Query, string(dataJSON),
		entry.TotalFound, entry.CreatedAt.UnixMilli(), entry.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("write cache row: %w", err)
	}
	return nil
}

// DeleteSource removes every entry for one source.
func (s *Store) DeleteSource(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scrape_cache WHERE source = ?`, source); err != nil {
		return fmt.Errorf("clear cache for source %s: %w", source, err)
	}
	return nil
}

// DeleteAll removes everything.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scrape_cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite cache: %w", err)
	}
	return nil
}
