// Package cache implements the keyed, TTL'd scrape-result cache: a fast
// in-process LRU tier plus an optional durable tier behind the Store
// interface.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/clock/system"
	"github.com/justice-rest/Intel-sub005/internal/hash/sha256"
	"github.com/justice-rest/Intel-sub005/internal/record"
	"github.com/justice-rest/Intel-sub005/internal/telemetry"
)

// Config sizes and wires the cache.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	// Durable is optional; nil disables the durable tier.
	Durable Store
	Clock   record.Clock
	Logger  *zap.Logger
}

// Cache is safe for concurrent use. Durable-tier failures never fail the
// calling scrape: they are logged and the in-process tier carries on.
type Cache struct {
	ttl     time.Duration
	durable Store
	clock   record.Clock
	logger  *zap.Logger
	hasher  *sha256.Hasher

	mu  sync.Mutex
	mem *lru
}

// New creates a Cache.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Cache{
		ttl:     cfg.TTL,
		durable: cfg.Durable,
		clock:   clock,
		logger:  logger,
		hasher:  sha256.New(),
		mem:     newLRU(cfg.MaxEntries),
	}
}

// Key hashes the normalized source, query and options into a stable cache
// key. Identical logical lookups always produce identical keys.
func (c *Cache) Key(sourceID string, query record.Query) string {
	canonical := fmt.Sprintf("%s|%s|limit=%d|enrich=%t",
		strings.ToLower(strings.TrimSpace(sourceID)),
		strings.ToLower(strings.TrimSpace(query.Term)),
		query.Options.Limit,
		query.Options.EnrichDetails,
	)
	return c.hasher.Hash([]byte(canonical))
}

// Get returns the cached entry for source+query, or ok=false on miss.
// The durable tier is consulted first when configured; unreachable durable
// storage silently degrades to the in-process tier.
func (c *Cache) Get(ctx context.Context, sourceID string, query record.Query) (Entry, bool) {
	key := c.Key(sourceID, query)
	now := c.clock.Now()

	if c.durable != nil {
		entry, ok, err := c.durable.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("durable cache read failed", zap.String("source", sourceID), zap.Error(err))
		case ok && !entry.Expired(now):
			telemetry.IncCacheEvent("durable", "hit")
			// Promote so a durable outage still serves hot entries.
			c.mu.Lock()
			c.mem.put(key, entry)
			c.mu.Unlock()
			return entry, true
		default:
			telemetry.IncCacheEvent("durable", "miss")
		}
	}

	c.mu.Lock()
	entry, ok := c.mem.get(key)
	if ok && entry.Expired(now) {
		c.mem.remove(key)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		telemetry.IncCacheEvent("memory", "hit")
		return entry, true
	}
	telemetry.IncCacheEvent("memory", "miss")
	return Entry{}, false
}

// Set writes through: the in-process tier synchronously, the durable tier
// best-effort.
func (c *Cache) Set(ctx context.Context, sourceID string, query record.Query, data []record.Entity, totalFound int) Entry {
	now := c.clock.Now()
	entry := Entry{
		Key:        c.Key(sourceID, query),
		Source:     strings.ToLower(strings.TrimSpace(sourceID)),
		Query:      query.Term,
		Data:       data,
		TotalFound: totalFound,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	}

	c.mu.Lock()
	c.mem.put(entry.Key, entry)
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.Put(ctx, entry); err != nil {
			c.logger.Warn("durable cache write failed", zap.String("source", sourceID), zap.Error(err))
		}
	}
	return entry
}

// ClearSource drops every entry for one source from both tiers.
func (c *Cache) ClearSource(ctx context.Context, sourceID string) {
	normalized := strings.ToLower(strings.TrimSpace(sourceID))
	c.mu.Lock()
	c.mem.removeIf(func(e Entry) bool { return e.Source == normalized })
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.DeleteSource(ctx, normalized); err != nil {
			c.logger.Warn("durable cache clear failed", zap.String("source", sourceID), zap.Error(err))
		}
	}
}

// Clear drops everything from both tiers.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.mem.clear()
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.DeleteAll(ctx); err != nil {
			c.logger.Warn("durable cache clear failed", zap.Error(err))
		}
	}
}

// Len reports the in-process entry count, for tests and health output.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mem.len()
}
