// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
	"github.com/JakeFAU/winerank-crawler/internal/jobs"
	"github.com/JakeFAU/winerank-crawler/internal/metrics"
)

const (
	defaultJobLimit = 20
	maxJobLimit     = 200
)

// JobReader reports job progress. *jobs.Controller implements it.
type JobReader interface {
	Status(ctx context.Context, jobID string) (jobs.Report, error)
	Recent(ctx context.Context, limit int) ([]jobs.Report, error)
}

// Config controls the status server.
type Config struct {
	// APIKey, when non-empty, is required on /v1 routes.
	APIKey string
	// RequestTimeout bounds every handler. Zero means 30 seconds.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job controller and entity store.
type Server struct {
	router   chi.Router
	jobs     JobReader
	entities crawler.EntityStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobReader JobReader, entities crawler.EntityStore, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{jobs: jobReader, entities: entities, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/entities", s.findEntities)
		r.Get("/entities/{entity_id}", s.getEntity)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.jobs.Recent(r.Context(), 1); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobLimit)
	}
	list, err := s.jobs.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, report := range list {
		out = append(out, newJobResponse(report))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

type jobResponse struct {
	Job        crawler.Job         `json:"job"`
	Checkpoint *checkpointResponse `json:"checkpoint,omitempty"`
}

type checkpointResponse struct {
	Page       int   `json:"page"`
	TotalPages int   `json:"total_pages,omitempty"`
	Entities   int   `json:"entities_on_page"`
	NextIndex  int   `json:"next_index"`
	Completed  []int `json:"completed,omitempty"`
	InFlight   []int `json:"in_flight,omitempty"`
}

func newJobResponse(report jobs.Report) jobResponse {
	resp := jobResponse{Job: report.Job}
	if cp := report.Checkpoint; cp != nil {
		resp.Checkpoint = &checkpointResponse{
			Page:       cp.Page,
			TotalPages: cp.TotalPages,
			Entities:   len(cp.Entities),
			NextIndex:  cp.NextIndex,
			Completed:  cp.Completed,
			InFlight:   cp.InFlightIndices(),
		}
	}
	return resp
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	report, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, newJobResponse(report))
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := s.entities.GetEntity(r.Context(), chi.URLParam(r, "entity_id"))
	if err != nil {
		s.storeError(w, err, "entity not found")
		return
	}
	s.writeJSON(w, http.StatusOK, entity)
}

func (s *Server) findEntities(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "name query parameter required")
		return
	}
	matches, err := s.entities.FindEntities(r.Context(), name)
	if err != nil {
		s.logger.Error("find entities failed", zap.String("name", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to search entities")
		return
	}
	if matches == nil {
		matches = []crawler.Entity{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entities": matches})
}

func (s *Server) storeError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, crawler.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error("store lookup failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal server error")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeJSON(logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeJSON(nil, w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.logger, w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
