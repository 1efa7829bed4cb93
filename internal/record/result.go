package record

import "time"

// ScrapeResult is produced once per router scrape. Expected failure modes
// are reported here, never as errors across the public boundary.
type ScrapeResult struct {
	Success    bool      `json:"success"`
	Data       []Entity  `json:"data"`
	TotalFound int       `json:"total_found"`
	Source     string    `json:"source"`
	Query      string    `json:"query"`
	ScrapedAt  time.Time `json:"scraped_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`

	// Tier is the engine tier that produced the final attempt.
	Tier Tier `json:"tier"`
	// Escalated marks results obtained after a tier escalation.
	Escalated bool `json:"escalated,omitempty"`
	// FromCache marks results served without touching the source.
	FromCache bool `json:"from_cache,omitempty"`
	// CircuitOpen distinguishes fail-fast short circuits from real failures.
	CircuitOpen bool `json:"circuit_open,omitempty"`
	// RetryAfterMs estimates when an open circuit will admit a probe.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// StateFailure reports one failed source inside an aggregate search.
type StateFailure struct {
	Source      string `json:"source"`
	Error       string `json:"error"`
	CircuitOpen bool   `json:"circuit_open,omitempty"`
}

// MultiStateSearchResult aggregates a query fanned across many sources.
// Failed sources are always listed, never dropped silently.
type MultiStateSearchResult struct {
	Success         bool           `json:"success"`
	Query           string         `json:"query"`
	TotalFound      int            `json:"total_found"`
	Results         []Entity       `json:"results"`
	StatesSearched  []string       `json:"statesSearched"`
	StatesSucceeded []string       `json:"statesSucceeded"`
	StatesFailed    []StateFailure `json:"statesFailed"`
	DurationMs      int64          `json:"duration_ms"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// SourceHealth is the operational health snapshot for one source.
type SourceHealth struct {
	Source       string `json:"source"`
	Tier         Tier   `json:"tier"`
	CircuitState string `json:"circuit_state"`
	FailureCount int    `json:"failure_count"`
	IsAvailable  bool   `json:"is_available"`
}
