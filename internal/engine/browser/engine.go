// Package browser implements the tier-3/4 engine: headless Chrome via
// chromedp with fingerprint overrides and human-paced form interaction.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/blocking"
	"github.com/justice-rest/Intel-sub005/internal/extract"
	"github.com/justice-rest/Intel-sub005/internal/record"
)

// Config controls the headless browser pool.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unlimited.
	MaxParallel int
	// NavTimeout bounds a full navigate-and-extract pass.
	NavTimeout time.Duration
	// WaitTimeout bounds the wait for the source's result selector.
	WaitTimeout time.Duration
}

// Engine drives registry search forms in headless Chrome and extracts
// entities from the rendered DOM.
type Engine struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New builds a browser engine with a shared Chrome allocator.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Engine{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context and its browser processes.
func (e *Engine) Close() {
	e.allocCancel()
}

// Scrape renders the source's search page, drives the form when one is
// configured, waits for results and extracts entities from the DOM.
func (e *Engine) Scrape(ctx context.Context, source record.Source, query record.Query) (record.ScrapeResult, error) {
	if !source.Config.HasScrapeConfig() {
		return record.ScrapeResult{}, fmt.Errorf("source %s: %w", source.ID, record.ErrNoConfig)
	}

	start := time.Now()
	html, status, err := e.render(ctx, source, query)
	if err != nil {
		return record.ScrapeResult{}, err
	}
	if reason, blocked := blocking.Classify(status, html); blocked {
		return record.ScrapeResult{}, &record.BlockedError{Reason: reason, StatusCode: status}
	}
	return e.parseResults(source, query, html, start)
}

// parseResults extracts entities from rendered HTML. Split out so result
// mapping is testable without Chrome.
func (e *Engine) parseResults(source record.Source, query record.Query, html []byte, start time.Time) (record.ScrapeResult, error) {
	doc, err := extract.Parse(html)
	if err != nil {
		return record.ScrapeResult{}, fmt.Errorf("parse rendered page for %s: %w", source.ID, err)
	}

	entities := extract.Entities(doc, *source.Config.Rows, source.ID, source.Config.BaseURL)
	result := record.ScrapeResult{
		Success:    true,
		Data:       entities,
		TotalFound: extract.TotalFound(doc, *source.Config.Rows, len(entities)),
		Source:     source.ID,
		Query:      query.Term,
		ScrapedAt:  start,
		DurationMs: time.Since(start).Milliseconds(),
		Tier:       source.Tier,
	}
	if len(entities) == 0 {
		result.Warnings = append(result.Warnings, "no rows matched the configured selectors")
	}
	if limit := query.Options.Limit; limit > 0 && len(result.Data) > limit {
		result.Data = result.Data[:limit]
	}
	return result, nil
}

// FetchPage renders an arbitrary URL and returns the DOM, used by detail
// enrichment for browser-tier sources.
func (e *Engine) FetchPage(ctx context.Context, source record.Source, pageURL, waitSelector string) ([]byte, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, e.cfg.NavTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	fp := randomFingerprint()
	actions := []chromedp.Action{
		networkSetup(source.Config.Headers),
		fp.apply(),
		chromedp.Navigate(pageURL),
	}
	actions = append(actions, e.waitActions(waitSelector)...)
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}
	body := []byte(html)
	if reason, blocked := blocking.Classify(meta.status(), body); blocked {
		return nil, &record.BlockedError{Reason: reason, StatusCode: meta.status()}
	}
	return body, nil
}

func (e *Engine) render(ctx context.Context, source record.Source, query record.Query) ([]byte, int, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer e.release()

	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, e.cfg.NavTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	target := source.Config.SearchURL
	if target == "" {
		target = source.Config.BaseURL
	}
	if target == "" {
		return nil, 0, fmt.Errorf("source %s: %w", source.ID, record.ErrNoConfig)
	}

	fp := randomFingerprint()
	e.logger.Debug("rendering search page",
		zap.String("source", source.ID),
		zap.String("url", target),
		zap.String("user_agent", fp.userAgent),
	)

	actions := []chromedp.Action{
		networkSetup(source.Config.Headers),
		fp.apply(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay()),
	}
	if form := source.Config.Form; form != nil {
		actions = append(actions, applyPresets(form.Presets)...)
		actions = append(actions, typeInto(form.QueryInput, query.Term)...)
		actions = append(actions, submitForm(form.QueryInput, form.Submit)...)
	}
	actions = append(actions, e.waitActions(source.Config.Rows.WaitSelector)...)
	actions = append(actions, scrollPage(), chromedp.Sleep(settleDelay()))

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, 0, fmt.Errorf("render search for %s: %w", source.ID, err)
	}
	return []byte(html), meta.status(), nil
}

// waitActions waits for the source's result selector inside its own
// timeout; a missing selector falls back to a short settle sleep so a
// zero-hit page still parses.
func (e *Engine) waitActions(waitSelector string) []chromedp.Action {
	if waitSelector == "" {
		return []chromedp.Action{chromedp.Sleep(settleDelay())}
	}
	return []chromedp.Action{chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, e.cfg.WaitTimeout)
		defer cancel()
		err := chromedp.WaitVisible(waitSelector, chromedp.ByQuery).Do(waitCtx)
		if err != nil && ctx.Err() == nil {
			e.logger.Debug("wait selector never appeared",
				zap.String("selector", waitSelector),
				zap.Error(err),
			)
			return nil
		}
		return err
	})}
}

func networkSetup(headers map[string]string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if len(headers) > 0 {
			extra := network.Headers{}
			for k, v := range headers {
				extra[k] = v
			}
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (e *Engine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}

// responseMeta records the document response status observed on the wire.
type responseMeta struct {
	mu         sync.RWMutex
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusCode
}
