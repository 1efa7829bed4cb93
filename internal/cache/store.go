package cache

import (
	"context"
	"time"

	"github.com/justice-rest/Intel-sub005/internal/record"
)

// Entry is one cached scrape result. Expiry is fixed at creation
// (ExpiresAt = CreatedAt + TTL); reads past expiry are misses and stale
// rows are purged opportunistically.
type Entry struct {
	Key        string          `json:"key"`
	Source     string          `json:"source"`
	Query      string          `json:"query"`
	Data       []record.Entity `json:"data"`
	TotalFound int             `json:"total_found"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is the durable cache tier. Implementations must treat expired rows
// as absent. All failures are non-fatal to callers: the cache logs and
// degrades to the in-process tier.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	DeleteSource(ctx context.Context, source string) error
	DeleteAll(ctx context.Context) error
	Close() error
}
