// Package record defines core types shared across subsystems.
package record

import (
	"strings"
	"time"
)

// Tier classifies a source by the minimum access technique it requires.
type Tier int

// Source tiers, cheapest first.
const (
	TierAPI            Tier = 1 // structured JSON/Socrata endpoint
	TierHTTP           Tier = 2 // plain HTML over HTTP
	TierBrowser        Tier = 3 // requires JavaScript rendering
	TierBrowserCaptcha Tier = 4 // browser plus CAPTCHA handling
)

func (t Tier) String() string {
	switch t {
	case TierAPI:
		return "api"
	case TierHTTP:
		return "http"
	case TierBrowser:
		return "browser"
	case TierBrowserCaptcha:
		return "browser+captcha"
	default:
		return "unknown"
	}
}

// Source identifies one public-record registry and how to reach it.
// The access config is owned by per-source configuration; the core only
// reads it.
type Source struct {
	ID     string       `json:"id" mapstructure:"id"`
	Name   string       `json:"name" mapstructure:"name"`
	Tier   Tier         `json:"tier" mapstructure:"tier"`
	Config SourceConfig `json:"config" mapstructure:"config"`
}

// SourceConfig carries the per-source access details for every tier the
// source supports. Only the sections matching the source's tier need to be
// populated.
type SourceConfig struct {
	BaseURL   string            `json:"base_url" mapstructure:"base_url"`
	SearchURL string            `json:"search_url" mapstructure:"search_url"`
	Method    string            `json:"method" mapstructure:"method"`
	// QueryParam names the query-string or form parameter carrying the
	// search term for HTTP-tier sources; defaults to "q".
	QueryParam string            `json:"query_param,omitempty" mapstructure:"query_param"`
	Headers    map[string]string `json:"headers,omitempty" mapstructure:"headers"`

	// API holds the field mapping for tier-1 structured endpoints.
	API *APIMapping `json:"api,omitempty" mapstructure:"api"`

	// Rows describes how to locate and extract result rows from HTML,
	// shared by the HTTP and browser tiers.
	Rows *RowConfig `json:"rows,omitempty" mapstructure:"rows"`

	// Form describes the search form for browser-driven sources.
	Form *FormConfig `json:"form,omitempty" mapstructure:"form"`

	// Detail describes how to extract nested data from a detail page.
	Detail *DetailConfig `json:"detail,omitempty" mapstructure:"detail"`

	// RequestsPerMinute and Burst override the default rate limit.
	RequestsPerMinute float64 `json:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
	Burst             int     `json:"burst,omitempty" mapstructure:"burst"`
}

// HasScrapeConfig reports whether the source can be scraped from HTML,
// which is the precondition for tier escalation and API fallback.
func (c SourceConfig) HasScrapeConfig() bool {
	return c.Rows != nil && c.Rows.Row.Selector != ""
}

// Query is a normalized search query plus its options. Immutable once built.
type Query struct {
	Term    string  `json:"term"`
	Options Options `json:"options"`
}

// Options is the per-call options bag.
type Options struct {
	Limit     int  `json:"limit,omitempty"`
	SkipCache bool `json:"skip_cache,omitempty"`
	// EnrichDetails requests follow-up detail-page fetches for each hit.
	EnrichDetails bool `json:"enrich_details,omitempty"`
}

// NewQuery normalizes the term (trimmed, collapsed whitespace) so equal
// searches hash to equal cache keys.
func NewQuery(term string, opts Options) Query {
	return Query{Term: strings.Join(strings.Fields(term), " "), Options: opts}
}

// Clock returns the current time; injected so resilience primitives are
// testable without sleeping.
type Clock interface {
	Now() time.Time
}
