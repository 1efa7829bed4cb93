// Package enrich fetches per-entity detail pages and folds the extra data
// into search results.
package enrich

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/extract"
	"github.com/justice-rest/Intel-sub005/internal/record"
)

// Fetcher fetches one rendered or raw page. Both the HTTP and browser
// engines satisfy it.
type Fetcher interface {
	FetchPage(ctx context.Context, source record.Source, pageURL, waitSelector string) ([]byte, error)
}

// Config controls enrichment pacing.
type Config struct {
	// BatchSize is how many detail pages are fetched concurrently.
	BatchSize int
	// BatchDelay separates consecutive batches against the same source.
	BatchDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 500 * time.Millisecond
	}
	return c
}

// Engine enriches entities with detail-page data, choosing the fetch path
// by source tier.
type Engine struct {
	cfg     Config
	http    Fetcher
	browser Fetcher
	logger  *zap.Logger
}

// New builds an enrichment engine. The browser fetcher may be nil when the
// browser tier is disabled; browser-tier sources then fall back to HTTP.
func New(cfg Config, http, browser Fetcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg.withDefaults(), http: http, browser: browser, logger: logger}
}

// Enrich fetches the detail page for every entity carrying a detail URL, in
// fixed-size concurrent batches with a delay between batches. A failed or
// missing detail fetch keeps the search-row stub; enrichment never drops an
// entity.
func (e *Engine) Enrich(ctx context.Context, source record.Source, entities []record.Entity) []record.Entity {
	detail := source.Config.Detail
	if detail == nil || len(entities) == 0 {
		return entities
	}

	out := make([]record.Entity, len(entities))
	copy(out, entities)

	fetcher := e.fetcherFor(source)
	for start := 0; start < len(out); start += e.cfg.BatchSize {
		if start > 0 {
			select {
			case <-time.After(e.cfg.BatchDelay):
			case <-ctx.Done():
				return out
			}
		}
		end := start + e.cfg.BatchSize
		if end > len(out) {
			end = len(out)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if out[i].DetailURL == "" {
				continue
			}
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				e.enrichOne(ctx, fetcher, source, &out[idx])
			}(i)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return out
		}
	}
	return out
}

func (e *Engine) enrichOne(ctx context.Context, fetcher Fetcher, source record.Source, entity *record.Entity) {
	waitSelector := ""
	if source.Config.Rows != nil {
		waitSelector = source.Config.Rows.WaitSelector
	}
	body, err := fetcher.FetchPage(ctx, source, entity.DetailURL, waitSelector)
	if err != nil {
		e.logger.Warn("detail fetch failed, keeping stub",
			zap.String("source", source.ID),
			zap.String("url", entity.DetailURL),
			zap.Error(err),
		)
		return
	}
	doc, err := extract.Parse(body)
	if err != nil {
		e.logger.Warn("detail parse failed, keeping stub",
			zap.String("source", source.ID),
			zap.String("url", entity.DetailURL),
			zap.Error(err),
		)
		return
	}
	extract.Detail(doc, *source.Config.Detail, entity, source.Config.BaseURL)
}

func (e *Engine) fetcherFor(source record.Source) Fetcher {
	if source.Tier >= record.TierBrowser && e.browser != nil {
		return e.browser
	}
	return e.http
}
