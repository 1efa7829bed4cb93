// Package api exposes the HTTP interface for the orchestrator service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/justice-rest/Intel-sub005/internal/aggregate"
	"github.com/justice-rest/Intel-sub005/internal/record"
	"github.com/justice-rest/Intel-sub005/internal/router"
	"github.com/justice-rest/Intel-sub005/internal/telemetry"
)

// Server wires HTTP handlers to the router and aggregator.
type Server struct {
	chi          chi.Router
	router       *router.Router
	aggregator   *aggregate.Aggregator
	defaultLimit int
	logger       *zap.Logger
}

// Config wires the server's collaborators.
type Config struct {
	Router         *router.Router
	Aggregator     *aggregate.Aggregator
	DefaultLimit   int
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	s := &Server{
		router:       cfg.Router,
		aggregator:   cfg.Aggregator,
		defaultLimit: cfg.DefaultLimit,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.search)
		r.Get("/health", s.allHealth)
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Route("/{source_id}", func(r chi.Router) {
				r.Get("/health", s.sourceHealth)
				r.Post("/reset", s.resetSource)
				r.Post("/scrape", s.scrapeSource)
			})
		})
		r.Delete("/cache", s.clearCache)
	})

	s.chi = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.chi
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.router == nil || s.aggregator == nil {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchRequest struct {
	Query         string   `json:"query"`
	States        []string `json:"states"`
	Limit         int      `json:"limit"`
	SkipCache     bool     `json:"skip_cache"`
	EnrichDetails bool     `json:"enrich_details"`
}

// search fans one query across the requested states, or every configured
// state when none are listed.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	states := req.States
	if len(states) == 0 {
		for _, src := range s.router.Sources() {
			states = append(states, src.ID)
		}
	} else {
		for _, id := range states {
			if _, ok := s.router.Source(id); !ok {
				writeError(w, http.StatusBadRequest, "unknown state "+id)
				return
			}
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	query := record.NewQuery(req.Query, record.Options{
		Limit:         limit,
		SkipCache:     req.SkipCache,
		EnrichDetails: req.EnrichDetails,
	})

	result := s.aggregator.Search(r.Context(), states, query)
	writeJSON(w, http.StatusOK, result)
}

type scrapeRequest struct {
	Query         string `json:"query"`
	Limit         int    `json:"limit"`
	SkipCache     bool   `json:"skip_cache"`
	EnrichDetails bool   `json:"enrich_details"`
}

// scrapeSource runs a single-source scrape, bypassing aggregation.
func (s *Server) scrapeSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if _, ok := s.router.Source(sourceID); !ok {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	query := record.NewQuery(req.Query, record.Options{
		Limit:         limit,
		SkipCache:     req.SkipCache,
		EnrichDetails: req.EnrichDetails,
	})
	writeJSON(w, http.StatusOK, s.router.Scrape(r.Context(), sourceID, query))
}

type sourceSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	sources := s.router.Sources()
	out := make([]sourceSummary, 0, len(sources))
	for _, src := range sources {
		out = append(out, sourceSummary{ID: src.ID, Name: src.Name, Tier: src.Tier.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) allHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.router.Health()})
}

func (s *Server) sourceHealth(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	for _, health := range s.router.Health() {
		if health.Source == sourceID {
			writeJSON(w, http.StatusOK, health)
			return
		}
	}
	writeError(w, http.StatusNotFound, "source not found")
}

func (s *Server) resetSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if _, ok := s.router.Source(sourceID); !ok {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	s.router.Reset(sourceID)
	writeJSON(w, http.StatusOK, map[string]string{"source": sourceID, "circuit_state": "CLOSED"})
}

// clearCache drops cached results; ?source= limits the clear to one source.
func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source")
	if sourceID != "" {
		if _, ok := s.router.Source(sourceID); !ok {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
	}
	s.router.ClearCache(r.Context(), sourceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
