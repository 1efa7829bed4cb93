// Package pgstore implements the durable cache tier on Postgres, for
// deployments where several operator boxes share one warm cache.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justice-rest/Intel-sub005/internal/cache"
	"github.com/justice-rest/Intel-sub005/internal/record"
)

// ensure Store implements cache.Store
var _ cache.Store = (*Store)(nil)

// querier is the slice of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists cache entries in a Postgres table.
type Store struct {
	pool querier
}

const schema = `
CREATE TABLE IF NOT EXISTS scrape_cache (
	key TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	query TEXT NOT NULL,
	data JSONB NOT NULL,
	total_found INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrape_cache_source ON scrape_cache(source);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// New connects and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.dsn is required for the postgres tier")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres cache schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool; used by tests with pgxmock.
func NewWithPool(pool querier) *Store {
	return &Store{pool: pool}
}

// Get returns the entry for key if present and unexpired.
func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, source, query, data, total_found, created_at, expires_at
		 FROM scrape_cache WHERE key = $1 AND expires_at > NOW()`, key)

	var (
		entry    cache.Entry
		dataJSON []byte
	)
	err := row.Scan(&entry.Key, &entry.Source, &entry.Query, &dataJSON,
		&entry.TotalFound, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("read cache row: %w", err)
	}
	if err := json.Unmarshal(dataJSON, &entry.Data); err != nil {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scrape_cache (key, source, query, data, total_found, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (key) DO UPDATE SET
			source = EXCLUDED.source,
			query = EXCLUDED.query,
			data = EXCLUDED.data,
			total_found = EXCLUDED.total_found,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		entry.Key, entry.Source, entry.Query, dataJSON,
		entry.TotalFound, entry.CreatedAt, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("write cache row: %w", err)
	}
	return nil
}

// DeleteSource removes every entry for one source.
func (s *Store) DeleteSource(ctx context.Context, source string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM scrape_cache WHERE source = $1`, source); err != nil {
		return fmt.Errorf("clear cache for source %s: %w", source, err)
	}
	return nil
}

// DeleteAll removes everything.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM scrape_cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
