// Package api implements the tier-1 engine for structured JSON endpoints
// (Socrata and similar open-data APIs).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/record"
)

// Config controls the API client.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Engine implements record.Engine against typed JSON endpoints using each
// source's field mapping.
type Engine struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Engine.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: newTransport()},
		logger: logger,
	}
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

// Scrape queries the source's endpoint and maps the response onto canonical
// entities. A non-2xx status or an error-shaped body is a failure.
func (e *Engine) Scrape(ctx context.Context, source record.Source, query record.Query) (record.ScrapeResult, error) {
	mapping := source.Config.API
	if mapping == nil || mapping.SearchParam == "" {
		return record.ScrapeResult{}, fmt.Errorf("source %s: %w", source.ID, record.ErrNoConfig)
	}

	endpoint, err := e.buildURL(source, query, mapping)
	if err != nil {
		return record.ScrapeResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return record.ScrapeResult{}, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	for k, v := range source.Config.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return record.ScrapeResult{}, fmt.Errorf("api request to %s: %w", source.ID, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("close api response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return record.ScrapeResult{}, &record.BlockedError{Reason: "api rejected request", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return record.ScrapeResult{}, fmt.Errorf("api request to %s: status %d", source.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return record.ScrapeResult{}, fmt.Errorf("read api response: %w", err)
	}

	rows, total, err := decodeRows(body, mapping)
	if err != nil {
		return record.ScrapeResult{}, fmt.Errorf("api response from %s: %w", source.ID, err)
	}

	entities := make([]record.Entity, 0, len(rows))
	for _, row := range rows {
		ent := mapEntity(row, mapping, source)
		if ent.Name != "" {
			entities = append(entities, ent)
		}
	}
	if total < len(entities) {
		total = len(entities)
	}

	return record.ScrapeResult{
		Success:    true,
		Data:       entities,
		TotalFound: total,
		Source:     source.ID,
		Query:      query.Term,
		ScrapedAt:  time.Now().UTC(),
		DurationMs: time.Since(start).Milliseconds(),
		Tier:       record.TierAPI,
	}, nil
}

func (e *Engine) buildURL(source record.Source, query record.Query, mapping *record.APIMapping) (string, error) {
	base := source.Config.SearchURL
	if base == "" {
		base = source.Config.BaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse api url for %s: %w", source.ID, err)
	}
	q := u.Query()
	q.Set(mapping.SearchParam, query.Term)
	if mapping.LimitParam != "" && query.Options.Limit > 0 {
		q.Set(mapping.LimitParam, strconv.Itoa(query.Options.Limit))
	}
	for k, v := range mapping.ExtraParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeRows accepts either a bare JSON array or an object wrapping the
// array under ResultsPath. An object carrying an "error" key counts as an
// error-shaped response even with status 200.
func decodeRows(body []byte, mapping *record.APIMapping) ([]map[string]any, int, error) {
	var rawRows []json.RawMessage
	total := 0

	if mapping.ResultsPath == "" {
		if err := json.Unmarshal(body, &rawRows); err != nil {
			return nil, 0, fmt.Errorf("decode result array: %w", err)
		}
	} else {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, 0, fmt.Errorf("decode result envelope: %w", err)
		}
		if errRaw, ok := envelope["error"]; ok && string(errRaw) != "null" && string(errRaw) != "false" {
			return nil, 0, fmt.Errorf("error-shaped response: %s", truncate(string(errRaw), 200))
		}
		raw, ok := envelope[mapping.ResultsPath]
		if !ok {
			return nil, 0, fmt.Errorf("response missing %q", mapping.ResultsPath)
		}
		if err := json.Unmarshal(raw, &rawRows); err != nil {
			return nil, 0, fmt.Errorf("decode %q array: %w", mapping.ResultsPath, err)
		}
		if mapping.TotalPath != "" {
			if totRaw, ok := envelope[mapping.TotalPath]; ok {
				_ = json.Unmarshal(totRaw, &total)
			}
		}
	}

	rows := make([]map[string]any, 0, len(rawRows))
	for _, raw := range rawRows {
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, total, nil
}

func mapEntity(row map[string]any, mapping *record.APIMapping, source record.Source) record.Entity {
	e := record.Entity{Source: source.ID}
	for field, path := range mapping.Fields {
		v := lookup(row, path)
		if v == "" {
			continue
		}
		switch field {
		case "name":
			e.Name = v
		case "entity_number":
			e.EntityNumber = v
		case "status":
			e.Status = v
		case "entity_type":
			e.EntityType = v
		case "jurisdiction":
			e.Jurisdiction = v
		case "registration_date":
			e.RegistrationDate = v
		case "agent_name":
			if e.RegisteredAgent == nil {
				e.RegisteredAgent = &record.RegisteredAgent{}
			}
			e.RegisteredAgent.Name = v
		case "agent_address":
			if e.RegisteredAgent == nil {
				e.RegisteredAgent = &record.RegisteredAgent{}
			}
			e.RegisteredAgent.Address = v
		case "address":
			e.Addresses = append(e.Addresses, v)
		case "detail_url":
			e.DetailURL = v
		}
	}
	return e
}

// lookup reads a possibly dotted path ("agent.name") one nesting level deep.
func lookup(row map[string]any, path string) string {
	var v any = nil
	if i := strings.Index(path, "."); i >= 0 {
		outer, ok := row[path[:i]].(map[string]any)
		if !ok {
			return ""
		}
		v = outer[path[i+1:]]
	} else {
		v = row[path]
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
