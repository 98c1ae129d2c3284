// Package server exposes the symbolication pipeline over HTTP.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklens/stacklens/pkg/artifacts"
	"github.com/stacklens/stacklens/pkg/frames"
	"github.com/stacklens/stacklens/pkg/sourcemaps"
)

// maxEventSize caps request bodies; events are JSON documents, not uploads.
const maxEventSize = 20 * 1024 * 1024

// Server handles symbolication requests. Each request gets its own
// single-run processor; the fetcher behind them shares the cross-run cache.
type Server struct {
	fetcher    sourcemaps.FileFetcher
	policy     artifacts.FetchPolicy
	maxFetches int
	logger     *log.Logger
}

// New creates a server. maxFetches of 0 uses the processor default.
func New(fetcher sourcemaps.FileFetcher, policy artifacts.FetchPolicy, maxFetches int, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{fetcher: fetcher, policy: policy, maxFetches: maxFetches, logger: logger}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/symbolicate", s.handleSymbolicate)
	return r
}

// symbolicateResponse wraps the processed event with the run summary.
type symbolicateResponse struct {
	Event             *frames.Event   `json:"event"`
	RunID             string          `json:"run_id"`
	SourcemapsApplied int             `json:"sourcemaps_applied"`
	Fetches           int             `json:"fetches"`
	Errors            []frames.Record `json:"errors,omitempty"`
}

func (s *Server) handleSymbolicate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	event, err := frames.ParseEvent(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "parse event: "+err.Error())
		return
	}
	if len(event.AllStacktraces()) == 0 {
		s.writeError(w, http.StatusBadRequest, "event has no stacktraces")
		return
	}

	proc := sourcemaps.NewProcessor(s.fetcher, s.policy)
	if s.maxFetches > 0 {
		proc.MaxFetches = s.maxFetches
	}
	proc.Logger = s.logger

	result, err := proc.ProcessEvent(r.Context(), event)
	if err != nil {
		s.logger.Error("processing failed", "event_id", event.EventID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	s.logger.Info("symbolicated event",
		"event_id", event.EventID,
		"run_id", result.RunID,
		"sourcemaps", result.SourcemapsApplied,
		"fetches", result.Fetches,
		"errors", len(result.Errors))

	s.writeJSON(w, http.StatusOK, symbolicateResponse{
		Event:             event,
		RunID:             result.RunID,
		SourcemapsApplied: result.SourcemapsApplied,
		Fetches:           result.Fetches,
		Errors:            result.Errors,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
