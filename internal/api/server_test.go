package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justice-rest/Intel-sub005/internal/aggregate"
	"github.com/justice-rest/Intel-sub005/internal/ratelimit"
	"github.com/justice-rest/Intel-sub005/internal/record"
	"github.com/justice-rest/Intel-sub005/internal/router"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	eng := record.EngineFunc(func(_ context.Context, source record.Source, query record.Query) (record.ScrapeResult, error) {
		return record.ScrapeResult{
			Success:    true,
			Data:       []record.Entity{{Name: "Acme LLC", EntityNumber: "C1"}},
			TotalFound: 1,
			Source:     source.ID,
			Query:      query.Term,
		}, nil
	})
	sources := []record.Source{
		{ID: "ca", Name: "California", Tier: record.TierHTTP, Config: record.SourceConfig{
			BaseURL: "https://bizfileonline.sos.ca.gov",
			Rows:    &record.RowConfig{Row: record.Extractor{Selector: "tr"}},
		}},
		{ID: "ny", Name: "New York", Tier: record.TierAPI, Config: record.SourceConfig{
			BaseURL: "https://data.ny.gov",
			API:     &record.APIMapping{SearchParam: "q"},
		}},
	}
	rt := router.New(router.Config{
		Sources: sources,
		Engines: router.Engines{API: eng, HTTP: eng},
		Limiter: ratelimit.New(ratelimit.Config{
			Default: ratelimit.Limits{RequestsPerMinute: 60000, Burst: 1000},
		}),
	})
	agg := aggregate.New(aggregate.Config{MaxConcurrent: 2, ContinueOnError: true}, rt, nil, nil, nil)
	return NewServer(Config{Router: rt, Aggregator: agg, DefaultLimit: 20})
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, testServer(t).Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestReadyzNotReady(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchAllStates(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, testServer(t).Handler(), http.MethodPost, "/v1/search", `{"query":"acme"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[record.MultiStateSearchResult](t, rec)
	assert.True(t, res.Success)
	assert.ElementsMatch(t, []string{"ca", "ny"}, res.StatesSearched)
}

func TestSearchUnknownState(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, testServer(t).Handler(), http.MethodPost, "/v1/search", `{"query":"acme","states":["zz"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Contains(t, body["error"], "zz")
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	h := testServer(t).Handler()
	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/v1/search", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/v1/search", `{"states":["ca"]}`).Code)
}

func TestScrapeSource(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, testServer(t).Handler(), http.MethodPost, "/v1/sources/ca/scrape", `{"query":"acme"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[record.ScrapeResult](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "ca", res.Source)
	require.Len(t, res.Data, 1)
}

func TestScrapeUnknownSource(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, testServer(t).Handler(), http.MethodPost, "/v1/sources/zz/scrape", `{"query":"acme"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSources(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, testServer(t).Handler(), http.MethodGet, "/v1/sources/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string][]sourceSummary](t, rec)
	require.Len(t, body["sources"], 2)
	assert.Equal(t, "ca", body["sources"][0].ID)
	assert.Equal(t, "http", body["sources"][0].Tier)
}

func TestSourceHealth(t *testing.T) {
	t.Parallel()

	h := testServer(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/v1/sources/ca/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[record.SourceHealth](t, rec)
	assert.Equal(t, "ca", health.Source)
	assert.True(t, health.IsAvailable)

	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/v1/sources/zz/health", "").Code)
}

func TestResetSource(t *testing.T) {
	t.Parallel()

	h := testServer(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/v1/sources/ca/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodPost, "/v1/sources/zz/reset", "").Code)
}

func TestClearCache(t *testing.T) {
	t.Parallel()

	h := testServer(t).Handler()
	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodDelete, "/v1/cache", "").Code)
	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodDelete, "/v1/cache?source=ca", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodDelete, "/v1/cache?source=zz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, testServer(t).Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
