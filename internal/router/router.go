// Package router routes scrape requests through the cache, circuit breaker
// and rate limiter, dispatches to the right tier engine, and escalates one
// tier when a source blocks the cheaper technique.
package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/breaker"
	"github.com/justice-rest/Intel-sub005/internal/cache"
	"github.com/justice-rest/Intel-sub005/internal/enrich"
	"github.com/justice-rest/Intel-sub005/internal/events"
	"github.com/justice-rest/Intel-sub005/internal/ratelimit"
	"github.com/justice-rest/Intel-sub005/internal/record"
	"github.com/justice-rest/Intel-sub005/internal/telemetry"
)

// Engines holds one engine per access technique. Browser may be nil when
// the headless tier is disabled.
type Engines struct {
	API     record.Engine
	HTTP    record.Engine
	Browser record.Engine
}

// Config wires the router's collaborators.
type Config struct {
	Sources  []record.Source
	Engines  Engines
	Limiter  *ratelimit.Limiter
	Breaker  *breaker.Breaker
	Cache    *cache.Cache
	Enricher *enrich.Engine
	Emitter  events.Emitter
	Logger   *zap.Logger
}

// Router is the unified entry point for single-source scrapes.
type Router struct {
	sources  map[string]record.Source
	order    []string
	engines  Engines
	limiter  *ratelimit.Limiter
	breaker  *breaker.Breaker
	cache    *cache.Cache
	enricher *enrich.Engine
	emitter  events.Emitter
	logger   *zap.Logger
}

// New builds a router over the configured sources.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.Discard{}
	}
	sources := make(map[string]record.Source, len(cfg.Sources))
	order := make([]string, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources[s.ID] = s
		order = append(order, s.ID)
	}
	return &Router{
		sources:  sources,
		order:    order,
		engines:  cfg.Engines,
		limiter:  cfg.Limiter,
		breaker:  cfg.Breaker,
		cache:    cfg.Cache,
		enricher: cfg.Enricher,
		emitter:  emitter,
		logger:   logger,
	}
}

// Source returns the configured source by ID.
func (r *Router) Source(id string) (record.Source, bool) {
	s, ok := r.sources[id]
	return s, ok
}

// Sources lists every configured source in registration order.
func (r *Router) Sources() []record.Source {
	out := make([]record.Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// Scrape runs one search against one source: cache, then breaker, then rate
// limiter, then the tier engine with at most one escalation. The returned
// result is always usable; failures are reported in-band with Success=false.
func (r *Router) Scrape(ctx context.Context, sourceID string, query record.Query) record.ScrapeResult {
	searchID := events.SearchIDFrom(ctx)
	start := time.Now()

	source, ok := r.sources[sourceID]
	if !ok {
		return failureResult(sourceID, query, start, fmt.Errorf("unknown source %q", sourceID))
	}
	logger := r.logger.With(zap.String("source", sourceID), zap.String("query", query.Term))

	if !query.Options.SkipCache && r.cache != nil {
		if entry, ok := r.cache.Get(ctx, sourceID, query); ok {
			logger.Debug("cache hit")
			r.emitter.Emit(events.Event{
				SearchID: searchID,
				TS:       time.Now().UTC(),
				Stage:    events.StageCacheHit,
				Source:   sourceID,
				Tier:     source.Tier.String(),
				Entities: len(entry.Data),
			})
			return record.ScrapeResult{
				Success:    true,
				Data:       entry.Data,
				TotalFound: entry.TotalFound,
				Source:     sourceID,
				Query:      query.Term,
				ScrapedAt:  entry.CreatedAt,
				DurationMs: time.Since(start).Milliseconds(),
				Tier:       source.Tier,
				FromCache:  true,
			}
		}
	}

	if r.breaker != nil {
		if allowed, retryAfter := r.breaker.Allow(sourceID); !allowed {
			telemetry.IncCircuitOpenRejection(sourceID)
			r.emitter.Emit(events.Event{
				SearchID: searchID,
				TS:       time.Now().UTC(),
				Stage:    events.StageCircuitReject,
				Source:   sourceID,
				Tier:     source.Tier.String(),
				Note:     fmt.Sprintf("retry after %s", retryAfter),
			})
			result := failureResult(sourceID, query, start, fmt.Errorf("circuit open for %s", sourceID))
			result.CircuitOpen = true
			result.RetryAfterMs = retryAfter.Milliseconds()
			return result
		}
	}

	if r.limiter != nil {
		if err := r.limiter.Acquire(ctx, sourceID); err != nil {
			return failureResult(sourceID, query, start, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	r.emitter.Emit(events.Event{
		SearchID: searchID,
		TS:       time.Now().UTC(),
		Stage:    events.StageScrapeStart,
		Source:   sourceID,
		Tier:     source.Tier.String(),
	})

	result, err := r.dispatch(ctx, searchID, source, query)
	if err != nil {
		if r.breaker != nil {
			r.breaker.RecordFailure(sourceID, err)
		}
		telemetry.ObserveScrape(sourceID, source.Tier.String(), "error", time.Since(start))
		logger.Warn("scrape failed", zap.Error(err))
		r.emitter.Emit(events.Event{
			SearchID: searchID,
			TS:       time.Now().UTC(),
			Stage:    events.StageScrapeError,
			Source:   sourceID,
			Tier:     source.Tier.String(),
			Dur:      time.Since(start),
			Note:     err.Error(),
		})
		return failureResult(sourceID, query, start, err)
	}

	if r.breaker != nil {
		r.breaker.RecordSuccess(sourceID)
	}

	// The limit is enforced here once for every tier, so the cached data
	// always matches the limit baked into its key. TotalFound still reports
	// the source's full match count.
	if limit := query.Options.Limit; limit > 0 && len(result.Data) > limit {
		result.Data = result.Data[:limit]
	}

	if query.Options.EnrichDetails && r.enricher != nil {
		result.Data = r.enricher.Enrich(ctx, source, result.Data)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	telemetry.ObserveScrape(sourceID, result.Tier.String(), "success", time.Since(start))
	r.emitter.Emit(events.Event{
		SearchID: searchID,
		TS:       time.Now().UTC(),
		Stage:    events.StageScrapeDone,
		Source:   sourceID,
		Tier:     result.Tier.String(),
		Entities: len(result.Data),
		Dur:      time.Since(start),
	})

	if r.cache != nil {
		r.cache.Set(ctx, sourceID, query, result.Data, result.TotalFound)
	}
	return result
}

// dispatch runs the engine for the source's tier, escalating exactly once:
// a blocked HTTP scrape retries on the browser tier, and a failed API call
// falls back to HTTP when the source also carries a scrape config.
func (r *Router) dispatch(ctx context.Context, searchID [16]byte, source record.Source, query record.Query) (record.ScrapeResult, error) {
	engine, err := r.engineFor(source.Tier)
	if err != nil {
		return record.ScrapeResult{}, err
	}

	result, err := runSafely(ctx, engine, source, query)
	if err == nil {
		return result, nil
	}

	switch {
	case source.Tier == record.TierAPI && source.Config.HasScrapeConfig():
		r.noteEscalation(searchID, source, record.TierHTTP, err)
		return r.escalate(ctx, source, query, record.TierHTTP)
	case source.Tier == record.TierHTTP && record.IsBlocked(err) && r.engines.Browser != nil:
		r.noteEscalation(searchID, source, record.TierBrowser, err)
		return r.escalate(ctx, source, query, record.TierBrowser)
	default:
		return record.ScrapeResult{}, err
	}
}

// escalate reruns the query one tier up. Escalation failures are final.
func (r *Router) escalate(ctx context.Context, source record.Source, query record.Query, tier record.Tier) (record.ScrapeResult, error) {
	engine, err := r.engineFor(tier)
	if err != nil {
		return record.ScrapeResult{}, err
	}
	escalated := source
	escalated.Tier = tier
	result, err := runSafely(ctx, engine, escalated, query)
	if err != nil {
		return record.ScrapeResult{}, fmt.Errorf("escalated to %s: %w", tier, err)
	}
	result.Tier = tier
	result.Escalated = true
	return result, nil
}

func (r *Router) noteEscalation(searchID [16]byte, source record.Source, to record.Tier, cause error) {
	telemetry.IncEscalation(source.ID)
	r.logger.Info("escalating tier",
		zap.String("source", source.ID),
		zap.String("from", source.Tier.String()),
		zap.String("to", to.String()),
		zap.Error(cause),
	)
	r.emitter.Emit(events.Event{
		SearchID: searchID,
		TS:       time.Now().UTC(),
		Stage:    events.StageTierEscalated,
		Source:   source.ID,
		Tier:     to.String(),
		Note:     cause.Error(),
	})
}

func (r *Router) engineFor(tier record.Tier) (record.Engine, error) {
	switch tier {
	case record.TierAPI:
		if r.engines.API == nil {
			return nil, fmt.Errorf("api engine not configured")
		}
		return r.engines.API, nil
	case record.TierHTTP:
		if r.engines.HTTP == nil {
			return nil, fmt.Errorf("http engine not configured")
		}
		return r.engines.HTTP, nil
	case record.TierBrowser, record.TierBrowserCaptcha:
		if r.engines.Browser == nil {
			// Headless tier disabled; plain HTTP is the best effort left.
			if r.engines.HTTP == nil {
				return nil, fmt.Errorf("browser engine not configured")
			}
			return r.engines.HTTP, nil
		}
		return r.engines.Browser, nil
	default:
		return nil, fmt.Errorf("no engine for tier %d", tier)
	}
}

// runSafely converts engine panics into errors so one misbehaving selector
// tree cannot take down a whole aggregate search.
func runSafely(ctx context.Context, engine record.Engine, source record.Source, query record.Query) (result record.ScrapeResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("engine panic for %s: %v", source.ID, rec)
		}
	}()
	return engine.Scrape(ctx, source, query)
}

// Health reports the circuit view of every configured source.
func (r *Router) Health() []record.SourceHealth {
	out := make([]record.SourceHealth, 0, len(r.order))
	for _, id := range r.order {
		source := r.sources[id]
		health := record.SourceHealth{
			Source:       id,
			Tier:         source.Tier,
			CircuitState: breaker.StateClosed.String(),
			IsAvailable:  true,
		}
		if r.breaker != nil {
			snap := r.breaker.Snapshot(id)
			health.CircuitState = snap.State
			health.FailureCount = snap.FailureCount
			health.IsAvailable = snap.State != breaker.StateOpen.String()
		}
		out = append(out, health)
	}
	return out
}

// Reset closes the circuit for one source.
func (r *Router) Reset(sourceID string) {
	if r.breaker != nil {
		r.breaker.Reset(sourceID)
	}
}

// ClearCache drops cached results, for every source or just one.
func (r *Router) ClearCache(ctx context.Context, sourceID string) {
	if r.cache == nil {
		return
	}
	if sourceID == "" {
		r.cache.Clear(ctx)
		return
	}
	r.cache.ClearSource(ctx, sourceID)
}

func failureResult(sourceID string, query record.Query, start time.Time, err error) record.ScrapeResult {
	return record.ScrapeResult{
		Success:    false,
		Source:     sourceID,
		Query:      query.Term,
		ScrapedAt:  start.UTC(),
		DurationMs: time.Since(start).Milliseconds(),
		Error:      err.Error(),
	}
}
