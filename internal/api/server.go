// Package api exposes the HTTP interface for the enrichment service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/towdesk/leadpipe/internal/directory"
	"github.com/towdesk/leadpipe/internal/listing"
	"github.com/towdesk/leadpipe/internal/metrics"
	"github.com/towdesk/leadpipe/internal/pipeline"
)

// Pipeline is the orchestrator surface the server depends on.
type Pipeline interface {
	CrawlZone(ctx context.Context, zone listing.Zone, opts pipeline.CrawlOptions) (listing.CrawlSummary, error)
	RefreshStale(ctx context.Context, zoneID string, daysStale, limit int) (listing.RefreshSummary, error)
	Status(ctx context.Context, zoneID string) (listing.StatusReport, error)
}

// Server wires HTTP handlers to the pipeline orchestrator.
type Server struct {
	router   chi.Router
	pipeline Pipeline
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(p Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pipeline: p,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/zones/{zone_id}", func(r chi.Router) {
			r.Post("/crawl", s.crawlZone)
			r.Post("/refresh", s.refreshZone)
			r.Get("/status", s.zoneStatus)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	ZoneName       string `json:"zone_name"`
	State          string `json:"state"`
	SearchQuery    string `json:"search_query"`
	MaxResults     int    `json:"max_results"`
	ScrapeWebsites *bool  `json:"scrape_websites"`
	ScrapeProfiles bool   `json:"scrape_profiles"`
}

func (s *Server) crawlZone(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zone_id")

	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ZoneName == "" {
		writeError(w, http.StatusBadRequest, "zone_name is required")
		return
	}

	scrapeWebsites := true
	if req.ScrapeWebsites != nil {
		scrapeWebsites = *req.ScrapeWebsites
	}
	zone := listing.Zone{ID: zoneID, Name: req.ZoneName, State: req.State}
	summary, err := s.pipeline.CrawlZone(r.Context(), zone, pipeline.CrawlOptions{
		SearchQuery:    req.SearchQuery,
		MaxResults:     req.MaxResults,
		ScrapeWebsites: scrapeWebsites,
		ScrapeProfiles: req.ScrapeProfiles,
	})
	if err != nil {
		if errors.Is(err, directory.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, "directory service unavailable")
			return
		}
		s.logger.Error("zone crawl failed", zap.String("zone_id", zoneID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "crawl failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type refreshRequest struct {
	DaysStale int `json:"days_stale"`
	Limit     int `json:"limit"`
}

func (s *Server) refreshZone(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zone_id")

	req := refreshRequest{DaysStale: 30, Limit: 100}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.DaysStale <= 0 {
		writeError(w, http.StatusBadRequest, "days_stale must be positive")
		return
	}

	summary, err := s.pipeline.RefreshStale(r.Context(), zoneID, req.DaysStale, req.Limit)
	if err != nil {
		s.logger.Error("zone refresh failed", zap.String("zone_id", zoneID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) zoneStatus(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zone_id")

	report, err := s.pipeline.Status(r.Context(), zoneID)
	if err != nil {
		s.logger.Error("zone status failed", zap.String("zone_id", zoneID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
