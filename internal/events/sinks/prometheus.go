package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/justice-rest/Intel-sub005/internal/events"
)

// PrometheusSink exports search-run metrics. Per-scrape counters live in the
// telemetry package; this sink owns the search lifecycle collectors.
type PrometheusSink struct {
	searchesStarted   prometheus.Counter
	searchesCompleted prometheus.Counter
	searchesRunning   prometheus.Gauge
	searchRuntime     prometheus.Histogram
	stageEvents       *prometheus.CounterVec

	tracker *searchTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		searchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_searches_started_total",
			Help: "Total multi-state searches started.",
		}),
		searchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_searches_completed_total",
			Help: "Total multi-state searches completed.",
		}),
		searchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_searches_running",
			Help: "Current number of in-flight multi-state searches.",
		}),
		searchRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_search_runtime_seconds",
			Help:    "Wall time per completed multi-state search.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		stageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_scrape_events_total",
			Help: "Scrape lifecycle events partitioned by source and stage.",
		}, []string{"source", "stage"}),
		tracker: newSearchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.searchesStarted,
		s.searchesCompleted,
		s.searchesRunning,
		s.searchRuntime,
		s.stageEvents,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Stage {
	case events.StageSearchStart:
		s.searchesStarted.Inc()
		if s.tracker.start(evt.SearchID) {
			s.searchesRunning.Inc()
		}
	case events.StageSearchComplete:
		s.searchesCompleted.Inc()
		if evt.Dur > 0 {
			s.searchRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.SearchID) {
			s.searchesRunning.Dec()
		}
	default:
		s.stageEvents.WithLabelValues(evt.Source, string(evt.Stage)).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type searchTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newSearchTracker() *searchTracker {
	return &searchTracker{running: make(map[[16]byte]struct{})}
}

func (t *searchTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *searchTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
