package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justice-rest/Intel-sub005/internal/record"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	err   error
	calls []string
}

func (f *fakeFetcher) FetchPage(_ context.Context, _ record.Source, pageURL, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pageURL)
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.pages[pageURL]
	if !ok {
		return nil, errors.New("not found")
	}
	return body, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func detailSource() record.Source {
	return record.Source{
		ID:   "de",
		Tier: record.TierHTTP,
		Config: record.SourceConfig{
			BaseURL: "https://icis.corp.delaware.gov",
			Rows:    &record.RowConfig{Row: record.Extractor{Selector: "tr"}},
			Detail: &record.DetailConfig{
				Fields: map[string]record.Extractor{
					"registration_date": {Selector: "span.filed"},
					"agent_name":        {Selector: "span.agent"},
				},
			},
		},
	}
}

func detailPage(filed, agent string) []byte {
	return []byte(fmt.Sprintf(
		`<html><body><span class="filed">%s</span><span class="agent">%s</span></body></html>`,
		filed, agent,
	))
}

func TestEnrichMergesDetailFields(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://icis.corp.delaware.gov/entity/1": detailPage("2019-05-01", "CT Corp"),
		"https://icis.corp.delaware.gov/entity/2": detailPage("2021-11-12", "CSC"),
	}}
	eng := New(Config{BatchSize: 2, BatchDelay: time.Millisecond}, fetcher, nil, nil)

	in := []record.Entity{
		{Name: "One LLC", DetailURL: "https://icis.corp.delaware.gov/entity/1"},
		{Name: "Two LLC", DetailURL: "https://icis.corp.delaware.gov/entity/2"},
	}
	out := eng.Enrich(context.Background(), detailSource(), in)

	require.Len(t, out, 2)
	assert.Equal(t, "2019-05-01", out[0].RegistrationDate)
	require.NotNil(t, out[0].RegisteredAgent)
	assert.Equal(t, "CT Corp", out[0].RegisteredAgent.Name)
	assert.Equal(t, "2021-11-12", out[1].RegistrationDate)

	assert.Empty(t, in[0].RegistrationDate, "input slice must not be mutated")
}

func TestEnrichKeepsStubOnFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("boom")}
	eng := New(Config{BatchSize: 2, BatchDelay: time.Millisecond}, fetcher, nil, nil)

	in := []record.Entity{{Name: "One LLC", EntityNumber: "1", DetailURL: "https://x/1"}}
	out := eng.Enrich(context.Background(), detailSource(), in)

	require.Len(t, out, 1)
	assert.Equal(t, "One LLC", out[0].Name)
	assert.Equal(t, "1", out[0].EntityNumber)
	assert.Empty(t, out[0].RegistrationDate)
}

func TestEnrichSkipsEntitiesWithoutDetailURL(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]byte{}}
	eng := New(Config{BatchSize: 5, BatchDelay: time.Millisecond}, fetcher, nil, nil)

	in := []record.Entity{{Name: "No Link Inc"}, {Name: "Also None LLC"}}
	out := eng.Enrich(context.Background(), detailSource(), in)

	assert.Len(t, out, 2)
	assert.Zero(t, fetcher.callCount())
}

func TestEnrichNoDetailConfig(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	eng := New(Config{}, fetcher, nil, nil)

	source := detailSource()
	source.Config.Detail = nil
	in := []record.Entity{{Name: "One LLC", DetailURL: "https://x/1"}}
	out := eng.Enrich(context.Background(), source, in)

	assert.Equal(t, in, out)
	assert.Zero(t, fetcher.callCount())
}

func TestEnrichBatchesRespectContext(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://x/1": detailPage("2020-01-01", "A"),
		"https://x/2": detailPage("2020-01-02", "B"),
	}}
	eng := New(Config{BatchSize: 1, BatchDelay: time.Hour}, fetcher, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	in := []record.Entity{
		{Name: "One", DetailURL: "https://x/1"},
		{Name: "Two", DetailURL: "https://x/2"},
	}
	out := eng.Enrich(ctx, detailSource(), in)

	require.Len(t, out, 2, "cancellation returns what finished, never drops entities")
	assert.Equal(t, 1, fetcher.callCount(), "the second batch is never scheduled after cancel")
}

func TestFetcherSelectionByTier(t *testing.T) {
	t.Parallel()

	httpF := &fakeFetcher{}
	browserF := &fakeFetcher{}
	eng := New(Config{}, httpF, browserF, nil)

	src := detailSource()
	assert.Same(t, Fetcher(httpF), eng.fetcherFor(src))

	src.Tier = record.TierBrowser
	assert.Same(t, Fetcher(browserF), eng.fetcherFor(src))

	src.Tier = record.TierBrowserCaptcha
	assert.Same(t, Fetcher(browserF), eng.fetcherFor(src))

	noBrowser := New(Config{}, httpF, nil, nil)
	assert.Same(t, Fetcher(httpF), noBrowser.fetcherFor(src))
}
