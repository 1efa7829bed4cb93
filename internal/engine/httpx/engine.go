// Package httpx implements the tier-2 engine: plain HTTP fetches with
// realistic browser headers and goquery extraction, built on the Colly
// collector.
package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/blocking"
	"github.com/justice-rest/Intel-sub005/internal/extract"
	"github.com/justice-rest/Intel-sub005/internal/record"
)

// Config controls collector behavior.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	// RetryDelay is the fixed backoff between transient-error retries.
	RetryDelay time.Duration
	UserAgents []string
}

// Engine implements record.Engine over plain HTTP. Transient network
// errors are retried with fixed backoff; a CAPTCHA/challenge body or an
// explicit 403/429 is returned as *record.BlockedError and never retried
// here.
type Engine struct {
	cfg           Config
	uas           *uaPool
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds an Engine.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 750 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// This is a request/response service, not a crawl frontier: the same
	// search URL is fetched again on every retry and on every repeat
	// scrape, so the visited-URL dedupe must be off.
	c.AllowURLRevisit = true
	c.WithTransport(newTransport())
	return &Engine{
		cfg:           cfg,
		uas:           newUAPool(cfg.UserAgents),
		baseCollector: c,
		logger:        logger,
	}
}

// Scrape fetches the source's search page for the query and extracts
// entities via the source's selector tree.
func (e *Engine) Scrape(ctx context.Context, source record.Source, query record.Query) (record.ScrapeResult, error) {
	if !source.Config.HasScrapeConfig() {
		return record.ScrapeResult{}, fmt.Errorf("source %s: %w", source.ID, record.ErrNoConfig)
	}

	start := time.Now()
	body, err := e.FetchSearch(ctx, source, query)
	if err != nil {
		return record.ScrapeResult{}, err
	}

	doc, err := extract.Parse(body)
	if err != nil {
		return record.ScrapeResult{}, fmt.Errorf("parse %s response: %w", source.ID, err)
	}

	entities := extract.Entities(doc, *source.Config.Rows, source.ID, source.Config.BaseURL)
	var warnings []string
	if len(entities) == 0 {
		warnings = append(warnings, "no rows matched the configured selectors")
	}

	return record.ScrapeResult{
		Success:    true,
		Data:       entities,
		TotalFound: extract.TotalFound(doc, *source.Config.Rows, len(entities)),
		Source:     source.ID,
		Query:      query.Term,
		ScrapedAt:  time.Now().UTC(),
		DurationMs: time.Since(start).Milliseconds(),
		Warnings:   warnings,
		Tier:       record.TierHTTP,
	}, nil
}

// FetchSearch performs the search request with retries and blocking
// classification and returns the raw body. Exposed so the enrichment
// engine can reuse the same fetch path for detail pages.
func (e *Engine) FetchSearch(ctx context.Context, source record.Source, query record.Query) ([]byte, error) {
	target, form, err := buildSearch(source, query)
	if err != nil {
		return nil, err
	}
	return e.Fetch(ctx, source, target, form)
}

// FetchPage fetches an arbitrary page with the same retry and blocking
// path. The wait selector only matters for browser-rendered sources and is
// ignored here.
func (e *Engine) FetchPage(ctx context.Context, source record.Source, pageURL, _ string) ([]byte, error) {
	return e.Fetch(ctx, source, pageURL, nil)
}

// Fetch issues one GET (or POST when form is non-nil) with retry and
// blocking classification.
func (e *Engine) Fetch(ctx context.Context, source record.Source, target string, form map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch retry wait: %w", ctx.Err())
			}
			e.logger.Debug("retrying fetch",
				zap.String("source", source.ID),
				zap.Int("attempt", attempt))
		}

		status, body, err := e.doRequest(ctx, source, target, form)
		if err != nil {
			lastErr = err
			continue
		}
		if reason, blocked := blocking.Classify(status, body); blocked {
			// Blocking signals are escalated, not retried blindly.
			return nil, &record.BlockedError{Reason: reason, StatusCode: status}
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("fetch %s: status %d", source.ID, status)
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("fetch %s after %d attempts: %w", source.ID, e.cfg.MaxRetries+1, lastErr)
}

func (e *Engine) doRequest(ctx context.Context, source record.Source, target string, form map[string]string) (int, []byte, error) {
	collector := e.baseCollector.Clone()
	collector.UserAgent = e.uas.next()
	collector.SetRequestTimeout(e.cfg.Timeout)

	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		for k, v := range browserHeaders {
			r.Headers.Set(k, v)
		}
		for k, v := range source.Config.Headers {
			r.Headers.Set(k, v)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
			body = append([]byte(nil), r.Body...)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		if form != nil {
			done <- collector.Post(target, form)
		} else {
			done <- collector.Visit(target)
		}
	}()

	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Colly reports HTTP error statuses through OnError; keep the
		// status/body so blocking classification still sees them.
		if status != 0 {
			return status, body, nil
		}
		if err != nil {
			return 0, nil, fmt.Errorf("visit %s: %w", target, err)
		}
		if fetchErr != nil {
			return 0, nil, fmt.Errorf("fetch %s: %w", target, fetchErr)
		}
		return status, body, nil
	}
}

// buildSearch renders the source's search URL. A "{query}" placeholder is
// substituted; otherwise the term is appended as a query parameter named
// "q". POST sources get the term in the form body instead.
func buildSearch(source record.Source, query record.Query) (string, map[string]string, error) {
	target := source.Config.SearchURL
	if target == "" {
		target = source.Config.BaseURL
	}
	if target == "" {
		return "", nil, fmt.Errorf("source %s: %w", source.ID, record.ErrNoConfig)
	}

	param := source.Config.QueryParam
	if param == "" {
		param = "q"
	}

	if strings.EqualFold(source.Config.Method, http.MethodPost) {
		return target, map[string]string{param: query.Term}, nil
	}

	if strings.Contains(target, "{query}") {
		return strings.ReplaceAll(target, "{query}", url.QueryEscape(query.Term)), nil, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", nil, fmt.Errorf("parse search url for %s: %w", source.ID, err)
	}
	q := u.Query()
	q.Set(param, query.Term)
	u.RawQuery = q.Encode()
	return u.String(), nil, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
