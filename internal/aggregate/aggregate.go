// Package aggregate fans one query across many state registries, merges the
// per-source results, and deduplicates entities that appear in more than
// one registry.
package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/events"
	"github.com/justice-rest/Intel-sub005/internal/publisher"
	"github.com/justice-rest/Intel-sub005/internal/record"
)

// Scraper is the single-source scrape entry point. Router satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, sourceID string, query record.Query) record.ScrapeResult
}

// Config controls fan-out behavior.
type Config struct {
	// MaxConcurrent caps how many sources are scraped at once.
	MaxConcurrent int
	// ContinueOnError keeps later batches running after a source fails.
	ContinueOnError bool
	// CompletionTopic, when set with a Publisher, receives a summary event
	// after every aggregate search.
	CompletionTopic string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	return c
}

// Aggregator runs multi-state searches over a Scraper.
type Aggregator struct {
	cfg       Config
	scraper   Scraper
	emitter   events.Emitter
	publisher publisher.Publisher
	logger    *zap.Logger
}

// New builds an aggregator. Publisher may be nil.
func New(cfg Config, scraper Scraper, emitter events.Emitter, pub publisher.Publisher, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Aggregator{
		cfg:       cfg.withDefaults(),
		scraper:   scraper,
		emitter:   emitter,
		publisher: pub,
		logger:    logger,
	}
}

// Search scrapes the query against every listed source in batches of
// MaxConcurrent. One source failing never aborts its siblings; with
// ContinueOnError disabled a failure only stops batches not yet scheduled.
func (a *Aggregator) Search(ctx context.Context, sourceIDs []string, query record.Query) record.MultiStateSearchResult {
	start := time.Now()
	searchID := events.IDFromUUID(uuid.New())
	ctx = events.WithSearchID(ctx, searchID)

	a.emitter.Emit(events.Event{
		SearchID: searchID,
		TS:       time.Now().UTC(),
		Stage:    events.StageSearchStart,
	})

	out := record.MultiStateSearchResult{
		Query:          query.Term,
		StatesSearched: append([]string(nil), sourceIDs...),
	}

	// Results land in the slot matching the source's position in the
	// request, so dedupe precedence follows the requested source order
	// rather than goroutine completion order.
	var (
		mu      sync.Mutex
		results = make([]*record.ScrapeResult, len(sourceIDs))
		failed  bool
	)

	for batchStart := 0; batchStart < len(sourceIDs); batchStart += a.cfg.MaxConcurrent {
		if failed && !a.cfg.ContinueOnError {
			break
		}
		if ctx.Err() != nil {
			break
		}
		batchEnd := batchStart + a.cfg.MaxConcurrent
		if batchEnd > len(sourceIDs) {
			batchEnd = len(sourceIDs)
		}

		var wg sync.WaitGroup
		for i, id := range sourceIDs[batchStart:batchEnd] {
			wg.Add(1)
			go func(slot int, sourceID string) {
				defer wg.Done()
				result := a.scraper.Scrape(ctx, sourceID, query)
				mu.Lock()
				results[slot] = &result
				if !result.Success {
					failed = true
				}
				mu.Unlock()
			}(batchStart+i, id)
		}
		wg.Wait()
	}

	for _, res := range results {
		if res == nil {
			continue
		}
		result := *res
		if result.Success {
			out.StatesSucceeded = append(out.StatesSucceeded, result.Source)
			out.TotalFound += result.TotalFound
			out.Results = append(out.Results, result.Data...)
			out.Warnings = append(out.Warnings, result.Warnings...)
			continue
		}
		out.StatesFailed = append(out.StatesFailed, record.StateFailure{
			Source:      result.Source,
			Error:       result.Error,
			CircuitOpen: result.CircuitOpen,
		})
	}

	out.Results = Dedupe(out.Results)
	out.Success = len(out.StatesSucceeded) > 0
	out.DurationMs = time.Since(start).Milliseconds()

	a.emitter.Emit(events.Event{
		SearchID: searchID,
		TS:       time.Now().UTC(),
		Stage:    events.StageSearchComplete,
		Entities: len(out.Results),
		Dur:      time.Since(start),
	})
	a.publishCompletion(ctx, searchID, out)
	return out
}

// CompletionEvent is the payload published after every aggregate search.
type CompletionEvent struct {
	SearchID        string    `json:"search_id"`
	Query           string    `json:"query"`
	CompletedAt     time.Time `json:"completed_at"`
	TotalFound      int       `json:"total_found"`
	Entities        int       `json:"entities"`
	StatesSearched  int       `json:"states_searched"`
	StatesSucceeded int       `json:"states_succeeded"`
	StatesFailed    int       `json:"states_failed"`
	DurationMs      int64     `json:"duration_ms"`
}

// publishCompletion is best effort: a broker outage never fails a search.
func (a *Aggregator) publishCompletion(ctx context.Context, searchID [16]byte, result record.MultiStateSearchResult) {
	if a.publisher == nil || a.cfg.CompletionTopic == "" {
		return
	}
	evt := CompletionEvent{
		SearchID:        uuid.UUID(searchID).String(),
		Query:           result.Query,
		CompletedAt:     time.Now().UTC(),
		TotalFound:      result.TotalFound,
		Entities:        len(result.Results),
		StatesSearched:  len(result.StatesSearched),
		StatesSucceeded: len(result.StatesSucceeded),
		StatesFailed:    len(result.StatesFailed),
		DurationMs:      result.DurationMs,
	}
	if _, err := a.publisher.Publish(ctx, a.cfg.CompletionTopic, evt); err != nil {
		a.logger.Warn("completion event publish failed",
			zap.String("topic", a.cfg.CompletionTopic),
			zap.Error(err),
		)
	}
}
