package aggregate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justice-rest/Intel-sub005/internal/publisher/memory"
	"github.com/justice-rest/Intel-sub005/internal/record"
)

type fakeScraper struct {
	mu      sync.Mutex
	results map[string]record.ScrapeResult
	calls   []string
}

func (f *fakeScraper) Scrape(_ context.Context, sourceID string, query record.Query) record.ScrapeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sourceID)
	res, ok := f.results[sourceID]
	if !ok {
		res = record.ScrapeResult{Success: false, Error: "no fixture"}
	}
	res.Source = sourceID
	res.Query = query.Term
	return res
}

func (f *fakeScraper) called(sourceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.calls {
		if id == sourceID {
			return true
		}
	}
	return false
}

func ok(total int, entities ...record.Entity) record.ScrapeResult {
	return record.ScrapeResult{Success: true, Data: entities, TotalFound: total}
}

func fail(msg string, circuitOpen bool) record.ScrapeResult {
	return record.ScrapeResult{Success: false, Error: msg, CircuitOpen: circuitOpen}
}

func q(term string) record.Query {
	return record.NewQuery(term, record.Options{})
}

func TestSearchFansOut(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{results: map[string]record.ScrapeResult{
		"ca": ok(1, record.Entity{Name: "Acme LLC", EntityNumber: "C1", Source: "ca"}),
		"ny": ok(2, record.Entity{Name: "Acme Holdings", EntityNumber: "N1", Source: "ny"}),
		"fl": ok(1, record.Entity{Name: "Acme South", EntityNumber: "F1", Source: "fl"}),
	}}
	agg := New(Config{MaxConcurrent: 2, ContinueOnError: true}, scraper, nil, nil, nil)

	res := agg.Search(context.Background(), []string{"ca", "ny", "fl"}, q("acme"))

	assert.True(t, res.Success)
	assert.ElementsMatch(t, []string{"ca", "ny", "fl"}, res.StatesSucceeded)
	assert.Empty(t, res.StatesFailed)
	assert.Equal(t, 4, res.TotalFound)
	assert.Len(t, res.Results, 3)
}

func TestSearchPartialFailure(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{results: map[string]record.ScrapeResult{
		"ca": ok(1, record.Entity{Name: "Acme LLC", Source: "ca"}),
		"ny": fail("circuit open for ny", true),
	}}
	agg := New(Config{MaxConcurrent: 5, ContinueOnError: true}, scraper, nil, nil, nil)

	res := agg.Search(context.Background(), []string{"ca", "ny"}, q("acme"))

	assert.True(t, res.Success, "one failing source must not fail the search")
	assert.Equal(t, []string{"ca"}, res.StatesSucceeded)
	require.Len(t, res.StatesFailed, 1)
	assert.Equal(t, "ny", res.StatesFailed[0].Source)
	assert.True(t, res.StatesFailed[0].CircuitOpen)
}

func TestSearchStopOnErrorSkipsLaterBatches(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{results: map[string]record.ScrapeResult{
		"ca": fail("down", false),
		"ny": ok(1, record.Entity{Name: "Acme", Source: "ny"}),
	}}
	agg := New(Config{MaxConcurrent: 1, ContinueOnError: false}, scraper, nil, nil, nil)

	res := agg.Search(context.Background(), []string{"ca", "ny"}, q("acme"))

	assert.False(t, res.Success)
	assert.False(t, scraper.called("ny"), "batches after a failure must not be scheduled")
	assert.Len(t, res.StatesFailed, 1)
	assert.Equal(t, []string{"ca", "ny"}, res.StatesSearched, "the requested list is reported even when cut short")
}

func TestSearchAllFail(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{results: map[string]record.ScrapeResult{
		"ca": fail("down", false),
		"ny": fail("down", false),
	}}
	agg := New(Config{MaxConcurrent: 5, ContinueOnError: true}, scraper, nil, nil, nil)

	res := agg.Search(context.Background(), []string{"ca", "ny"}, q("acme"))
	assert.False(t, res.Success)
	assert.Len(t, res.StatesFailed, 2)
	assert.Empty(t, res.Results)
}

func TestSearchDedupesAcrossSources(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{results: map[string]record.ScrapeResult{
		"ca": ok(1, record.Entity{Name: "Acme LLC", EntityNumber: "C1", Source: "ca", Status: "active"}),
		"de": ok(1, record.Entity{Name: "acme   llc", EntityNumber: "C1", Source: "de", RegistrationDate: "2019-05-01"}),
	}}
	agg := New(Config{MaxConcurrent: 5, ContinueOnError: true}, scraper, nil, nil, nil)

	res := agg.Search(context.Background(), []string{"ca", "de"}, q("acme"))

	require.Len(t, res.Results, 1, "same key from two registries must collapse")
	merged := res.Results[0]
	assert.Equal(t, "Acme LLC", merged.Name)
	assert.Equal(t, "active", merged.Status)
	assert.Equal(t, "2019-05-01", merged.RegistrationDate, "gaps fill from the later record")
	assert.ElementsMatch(t, []string{"ca", "de"}, merged.Sources)
	assert.Equal(t, 2, res.TotalFound, "per-source totals are summed, not deduped")
}

func TestSearchMergePrecedenceFollowsRequestOrder(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{results: map[string]record.ScrapeResult{
		"ca": ok(1, record.Entity{Name: "Acme LLC", EntityNumber: "C1", Source: "ca"}),
		"de": ok(1, record.Entity{Name: "acme   llc", EntityNumber: "C1", Source: "de"}),
	}}
	agg := New(Config{MaxConcurrent: 2, ContinueOnError: true}, scraper, nil, nil, nil)

	// Both sources run in the same batch; the scheduler must never decide
	// which record keeps its fields.
	for range 25 {
		res := agg.Search(context.Background(), []string{"ca", "de"}, q("acme"))
		require.Len(t, res.Results, 1)
		assert.Equal(t, "Acme LLC", res.Results[0].Name, "the first-listed source's record wins the merge")
		assert.Equal(t, []string{"ca", "de"}, res.Results[0].Sources)
	}
}

func TestSearchPublishesCompletion(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{results: map[string]record.ScrapeResult{
		"ca": ok(1, record.Entity{Name: "Acme LLC", Source: "ca"}),
	}}
	pub := memory.New()
	agg := New(Config{MaxConcurrent: 5, CompletionTopic: "searches-done"}, scraper, nil, pub, nil)

	agg.Search(context.Background(), []string{"ca"}, q("acme"))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "searches-done", msgs[0].Topic)
	evt, isCompletion := msgs[0].Payload.(CompletionEvent)
	require.True(t, isCompletion)
	assert.Equal(t, "acme", evt.Query)
	assert.Equal(t, 1, evt.Entities)
	assert.Equal(t, 1, evt.StatesSucceeded)
	assert.NotEmpty(t, evt.SearchID)
}

func TestDedupeMergesOfficersAndAddresses(t *testing.T) {
	t.Parallel()

	a := record.Entity{
		Name:         "Acme LLC",
		EntityNumber: "C1",
		Source:       "ca",
		Addresses:    []string{"1 Main St"},
		Officers: []record.Officer{
			{Name: "Pat Doe", Roles: []string{"CEO"}},
		},
	}
	b := record.Entity{
		Name:         "ACME LLC",
		EntityNumber: "C1",
		Source:       "de",
		Addresses:    []string{"1 Main St", "2 Side Ave"},
		Officers: []record.Officer{
			{Name: "Pat Doe", Roles: []string{"CEO", "President"}},
			{Name: "Sam Roe", Roles: []string{"Secretary"}},
		},
		RegisteredAgent: &record.RegisteredAgent{Name: "CT Corp"},
	}

	out := Dedupe([]record.Entity{a, b})
	require.Len(t, out, 1)
	merged := out[0]

	assert.Equal(t, []string{"1 Main St", "2 Side Ave"}, merged.Addresses)
	require.Len(t, merged.Officers, 2)
	assert.ElementsMatch(t, []string{"CEO", "President"}, merged.Officers[0].Roles)
	require.NotNil(t, merged.RegisteredAgent)
	assert.Equal(t, "CT Corp", merged.RegisteredAgent.Name)
}

func TestDedupeDistinctEntityNumbersStaySeparate(t *testing.T) {
	t.Parallel()

	out := Dedupe([]record.Entity{
		{Name: "Acme LLC", EntityNumber: "C1", Source: "ca"},
		{Name: "Acme LLC", EntityNumber: "C2", Source: "ca"},
	})
	assert.Len(t, out, 2)
}

func TestDedupeSingleEntityGetsSources(t *testing.T) {
	t.Parallel()

	out := Dedupe([]record.Entity{{Name: "Acme LLC", Source: "ca"}})
	require.Len(t, out, 1)
	assert.Equal(t, []string{"ca"}, out[0].Sources)
}
