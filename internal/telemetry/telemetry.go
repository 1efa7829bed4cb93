// Package telemetry defines Prometheus metrics for the scraping orchestrator.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_scrapes_total",
			Help: "Total scrape attempts, labeled by source, tier and status.",
		},
		[]string{"source", "tier", "status"},
	)

	scrapeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_scrape_duration_seconds",
			Help:    "Histogram of scrape latencies, labeled by source and tier.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"source", "tier"},
	)

	escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tier_escalations_total",
			Help: "Tier escalations triggered by blocking signals, labeled by source.",
		},
		[]string{"source"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_breaker_transitions_total",
			Help: "Circuit breaker state transitions, labeled by source and new state.",
		},
		[]string{"source", "state"},
	)

	circuitOpenRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_circuit_open_rejections_total",
			Help: "Scrapes short-circuited by an open breaker, labeled by source.",
		},
		[]string{"source"},
	)

	cacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_cache_events_total",
			Help: "Cache lookups, labeled by tier (memory/durable) and outcome (hit/miss).",
		},
		[]string{"tier", "outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_rate_limit_delay_seconds",
			Help:    "Time spent waiting on per-source token buckets.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 15, 60},
		},
		[]string{"source"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Operational API requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Operational API request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// ObserveScrape records one finished scrape attempt.
func ObserveScrape(source, tier, status string, d time.Duration) {
	scrapesTotal.WithLabelValues(source, tier, status).Inc()
	scrapeDurationSeconds.WithLabelValues(source, tier).Observe(d.Seconds())
}

// IncEscalation counts a blocking-signal tier escalation.
func IncEscalation(source string) {
	escalationsTotal.WithLabelValues(source).Inc()
}

// IncBreakerTransition counts a breaker entering a new state.
func IncBreakerTransition(source, state string) {
	breakerTransitionsTotal.WithLabelValues(source, state).Inc()
}

// IncCircuitOpenRejection counts a fail-fast short circuit.
func IncCircuitOpenRejection(source string) {
	circuitOpenRejectionsTotal.WithLabelValues(source).Inc()
}

// IncCacheEvent counts one cache lookup outcome per tier.
func IncCacheEvent(tier, outcome string) {
	cacheEventsTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveRateLimitDelay records time a caller spent suspended on a bucket.
func ObserveRateLimitDelay(source string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveHTTPRequest records one operational API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
