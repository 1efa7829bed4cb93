package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justice-rest/Intel-sub005/internal/breaker"
	"github.com/justice-rest/Intel-sub005/internal/cache"
	"github.com/justice-rest/Intel-sub005/internal/events"
	"github.com/justice-rest/Intel-sub005/internal/ratelimit"
	"github.com/justice-rest/Intel-sub005/internal/record"
)

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	result  record.ScrapeResult
	err     error
	panicV  any
	lastSrc record.Source
}

func (f *fakeEngine) Scrape(_ context.Context, source record.Source, query record.Query) (record.ScrapeResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastSrc = source
	f.mu.Unlock()
	if f.panicV != nil {
		panic(f.panicV)
	}
	if f.err != nil {
		return record.ScrapeResult{}, f.err
	}
	res := f.result
	res.Source = source.ID
	res.Query = query.Term
	return res, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *memEmitter) Emit(ev events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *memEmitter) stages() []events.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Stage, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Stage)
	}
	return out
}

func okResult(entities ...record.Entity) record.ScrapeResult {
	return record.ScrapeResult{
		Success:    true,
		Data:       entities,
		TotalFound: len(entities),
		ScrapedAt:  time.Now().UTC(),
	}
}

func httpSource(id string) record.Source {
	return record.Source{
		ID:   id,
		Tier: record.TierHTTP,
		Config: record.SourceConfig{
			BaseURL: "https://example.gov",
			Rows:    &record.RowConfig{Row: record.Extractor{Selector: "tr"}},
		},
	}
}

func apiSource(id string, scrapeFallback bool) record.Source {
	s := record.Source{
		ID:   id,
		Tier: record.TierAPI,
		Config: record.SourceConfig{
			BaseURL: "https://data.example.gov",
			API:     &record.APIMapping{SearchParam: "q"},
		},
	}
	if scrapeFallback {
		s.Config.Rows = &record.RowConfig{Row: record.Extractor{Selector: "tr"}}
	}
	return s
}

func newRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.Config{
			Default: ratelimit.Limits{RequestsPerMinute: 60000, Burst: 1000},
		})
	}
	return New(cfg)
}

func q(term string) record.Query {
	return record.NewQuery(term, record.Options{})
}

func TestScrapeSuccess(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{result: okResult(record.Entity{Name: "Acme LLC"})}
	emitter := &memEmitter{}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
		Breaker: breaker.New(breaker.Config{}),
		Emitter: emitter,
	})

	res := r.Scrape(context.Background(), "fl", q("acme"))
	require.True(t, res.Success)
	assert.Equal(t, "fl", res.Source)
	assert.False(t, res.Escalated)
	assert.Equal(t, 1, httpEng.callCount())
	assert.Equal(t, []events.Stage{events.StageScrapeStart, events.StageScrapeDone}, emitter.stages())
}

func TestScrapeUnknownSource(t *testing.T) {
	t.Parallel()

	r := newRouter(t, Config{Engines: Engines{HTTP: &fakeEngine{}}})
	res := r.Scrape(context.Background(), "zz", q("acme"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown source")
}

func TestScrapeCacheHit(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{result: okResult(record.Entity{Name: "Acme LLC"})}
	emitter := &memEmitter{}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
		Cache:   cache.New(cache.Config{TTL: time.Minute, MaxEntries: 10}),
		Emitter: emitter,
	})

	first := r.Scrape(context.Background(), "fl", q("acme"))
	require.True(t, first.Success)
	assert.False(t, first.FromCache)

	second := r.Scrape(context.Background(), "fl", q("acme"))
	require.True(t, second.Success)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, httpEng.callCount(), "second call must be served from cache")
	assert.Contains(t, emitter.stages(), events.StageCacheHit)
}

func TestScrapeSkipCache(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{result: okResult(record.Entity{Name: "Acme LLC"})}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
		Cache:   cache.New(cache.Config{TTL: time.Minute, MaxEntries: 10}),
	})

	r.Scrape(context.Background(), "fl", q("acme"))
	res := r.Scrape(context.Background(), "fl", record.NewQuery("acme", record.Options{SkipCache: true}))
	require.True(t, res.Success)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, httpEng.callCount())
}

func TestScrapeAppliesLimit(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{result: okResult(
		record.Entity{Name: "Acme LLC"},
		record.Entity{Name: "Acme Holdings"},
		record.Entity{Name: "Acme South"},
	)}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
		Cache:   cache.New(cache.Config{TTL: time.Minute, MaxEntries: 10}),
	})

	res := r.Scrape(context.Background(), "fl", record.NewQuery("acme", record.Options{Limit: 2}))
	require.True(t, res.Success)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, 3, res.TotalFound, "the limit trims rows, not the match count")

	cached := r.Scrape(context.Background(), "fl", record.NewQuery("acme", record.Options{Limit: 2}))
	require.True(t, cached.FromCache)
	assert.Len(t, cached.Data, 2, "cached data matches the limit in its key")
}

func TestScrapeEnrichedLookupMissesPlainEntry(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{result: okResult(record.Entity{Name: "Acme LLC"})}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
		Cache:   cache.New(cache.Config{TTL: time.Minute, MaxEntries: 10}),
	})

	plain := r.Scrape(context.Background(), "fl", q("acme"))
	require.True(t, plain.Success)

	enriched := r.Scrape(context.Background(), "fl", record.NewQuery("acme", record.Options{EnrichDetails: true}))
	require.True(t, enriched.Success)
	assert.False(t, enriched.FromCache, "a non-enriched entry must not satisfy an enriched lookup")
	assert.Equal(t, 2, httpEng.callCount())
}

func TestScrapeCircuitOpenFailsFast(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{err: errors.New("connection refused")}
	emitter := &memEmitter{}
	br := breaker.New(breaker.Config{FailureThreshold: 2, ResetTimeout: time.Hour})
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
		Breaker: br,
		Emitter: emitter,
	})

	for range 2 {
		res := r.Scrape(context.Background(), "fl", q("acme"))
		assert.False(t, res.Success)
	}

	rejected := r.Scrape(context.Background(), "fl", q("acme"))
	assert.False(t, rejected.Success)
	assert.True(t, rejected.CircuitOpen)
	assert.Greater(t, rejected.RetryAfterMs, int64(0))
	assert.Equal(t, 2, httpEng.callCount(), "open circuit must not reach the engine")
	assert.Contains(t, emitter.stages(), events.StageCircuitReject)
}

func TestScrapeBlockedEscalatesToBrowser(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{err: &record.BlockedError{Reason: "http 403", StatusCode: 403}}
	browserEng := &fakeEngine{result: okResult(record.Entity{Name: "Acme LLC"})}
	emitter := &memEmitter{}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng, Browser: browserEng},
		Emitter: emitter,
	})

	res := r.Scrape(context.Background(), "fl", q("acme"))
	require.True(t, res.Success)
	assert.True(t, res.Escalated)
	assert.Equal(t, record.TierBrowser, res.Tier)
	assert.Equal(t, 1, httpEng.callCount())
	assert.Equal(t, 1, browserEng.callCount())
	assert.Equal(t, record.TierBrowser, browserEng.lastSrc.Tier, "escalated source carries the new tier")
	assert.Contains(t, emitter.stages(), events.StageTierEscalated)
}

func TestScrapeBlockedWithoutBrowserFails(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{err: &record.BlockedError{Reason: "http 429", StatusCode: 429}}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
	})

	res := r.Scrape(context.Background(), "fl", q("acme"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "http 429")
	assert.Equal(t, 1, httpEng.callCount())
}

func TestScrapeOrdinaryHTTPErrorDoesNotEscalate(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{err: errors.New("status 500")}
	browserEng := &fakeEngine{result: okResult()}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng, Browser: browserEng},
	})

	res := r.Scrape(context.Background(), "fl", q("acme"))
	assert.False(t, res.Success)
	assert.Zero(t, browserEng.callCount(), "only blocking errors justify the browser tier")
}

func TestScrapeAPIFallsBackToHTTP(t *testing.T) {
	t.Parallel()

	apiEng := &fakeEngine{err: errors.New("api 500")}
	httpEng := &fakeEngine{result: okResult(record.Entity{Name: "Acme LLC"})}
	r := newRouter(t, Config{
		Sources: []record.Source{apiSource("ny", true)},
		Engines: Engines{API: apiEng, HTTP: httpEng},
	})

	res := r.Scrape(context.Background(), "ny", q("acme"))
	require.True(t, res.Success)
	assert.True(t, res.Escalated)
	assert.Equal(t, record.TierHTTP, res.Tier)
}

func TestScrapeAPIWithoutScrapeConfigFails(t *testing.T) {
	t.Parallel()

	apiEng := &fakeEngine{err: errors.New("api 500")}
	httpEng := &fakeEngine{result: okResult()}
	r := newRouter(t, Config{
		Sources: []record.Source{apiSource("ny", false)},
		Engines: Engines{API: apiEng, HTTP: httpEng},
	})

	res := r.Scrape(context.Background(), "ny", q("acme"))
	assert.False(t, res.Success)
	assert.Zero(t, httpEng.callCount(), "no scrape config means no HTTP fallback")
}

func TestScrapeSingleEscalationOnly(t *testing.T) {
	t.Parallel()

	apiEng := &fakeEngine{err: errors.New("api down")}
	httpEng := &fakeEngine{err: &record.BlockedError{Reason: "http 403", StatusCode: 403}}
	browserEng := &fakeEngine{result: okResult()}
	r := newRouter(t, Config{
		Sources: []record.Source{apiSource("ny", true)},
		Engines: Engines{API: apiEng, HTTP: httpEng, Browser: browserEng},
	})

	res := r.Scrape(context.Background(), "ny", q("acme"))
	assert.False(t, res.Success)
	assert.Zero(t, browserEng.callCount(), "escalation happens at most once per scrape")
}

func TestScrapeEnginePanicIsContained(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{panicV: "selector tree exploded"}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
	})

	res := r.Scrape(context.Background(), "fl", q("acme"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "engine panic")
}

func TestBrowserTierFallsBackToHTTPWhenDisabled(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{result: okResult(record.Entity{Name: "Acme LLC"})}
	source := httpSource("ca")
	source.Tier = record.TierBrowser
	r := newRouter(t, Config{
		Sources: []record.Source{source},
		Engines: Engines{HTTP: httpEng},
	})

	res := r.Scrape(context.Background(), "ca", q("acme"))
	require.True(t, res.Success)
	assert.Equal(t, 1, httpEng.callCount())
}

func TestHealthAndReset(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{err: errors.New("down")}
	br := breaker.New(breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl"), httpSource("de")},
		Engines: Engines{HTTP: httpEng},
		Breaker: br,
	})

	r.Scrape(context.Background(), "fl", q("acme"))

	health := r.Health()
	require.Len(t, health, 2)
	byID := map[string]record.SourceHealth{}
	for _, h := range health {
		byID[h.Source] = h
	}
	assert.False(t, byID["fl"].IsAvailable)
	assert.True(t, byID["de"].IsAvailable)

	r.Reset("fl")
	health = r.Health()
	for _, h := range health {
		assert.True(t, h.IsAvailable, h.Source)
	}
}

func TestClearCache(t *testing.T) {
	t.Parallel()

	httpEng := &fakeEngine{result: okResult(record.Entity{Name: "Acme LLC"})}
	r := newRouter(t, Config{
		Sources: []record.Source{httpSource("fl")},
		Engines: Engines{HTTP: httpEng},
		Cache:   cache.New(cache.Config{TTL: time.Minute, MaxEntries: 10}),
	})

	r.Scrape(context.Background(), "fl", q("acme"))
	r.ClearCache(context.Background(), "fl")
	r.Scrape(context.Background(), "fl", q("acme"))
	assert.Equal(t, 2, httpEng.callCount())
}
