package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brunobiangulo/hybridrag"
)

// ingestTimeout bounds file ingestion and graph loads, which embed or
// merge every page of the file.
const ingestTimeout = 30 * time.Minute

type handler struct {
	engine hybridrag.Engine
}

func newHandler(e hybridrag.Engine) *handler {
	return &handler{engine: e}
}

// routes registers every endpoint and wraps the mux in the middleware
// chain: recovery -> cors -> auth -> request id -> logging -> mux.
func (h *handler) routes(sc serverConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /ask", h.handleAsk)
	mux.HandleFunc("POST /query", h.handleAsk)
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /graph/load", h.handleGraphLoad)
	mux.HandleFunc("GET /stats", h.handleStats)

	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = authMiddleware(sc.APIKey, handler)
	handler = corsMiddleware(sc.CORSOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// GET /
func (h *handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the ChatBot API"})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	Degraded  bool     `json:"degraded"`
	RequestID string   `json:"request_id"`
}

// POST /ask and POST /query
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ans, err := h.engine.Ask(r.Context(), req.Question, hybridrag.WithRequestID(requestIDFrom(r.Context())))
	if err != nil {
		if errors.Is(err, hybridrag.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, "question is required")
			return
		}
		slog.Error("ask failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sources := ans.Sources
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:    ans.Text,
		Sources:   sources,
		Degraded:  ans.Degraded,
		RequestID: ans.RequestID,
	})
}

type ingestRequest struct {
	Path  string `json:"path"`
	Force bool   `json:"force,omitempty"`
}

// POST /ingest
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid request: expected JSON with 'path'")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	var opts []hybridrag.IngestOption
	if req.Force {
		opts = append(opts, hybridrag.WithForce())
	}
	report, err := h.engine.IngestFile(ctx, req.Path, opts...)
	if err != nil {
		writeEngineError(w, "ingestion failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type graphLoadRequest struct {
	Path  string `json:"path"`
	Clear bool   `json:"clear,omitempty"`
}

// POST /graph/load
func (h *handler) handleGraphLoad(w http.ResponseWriter, r *http.Request) {
	var req graphLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid request: expected JSON with 'path'")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	report, err := h.engine.LoadGraphFile(ctx, req.Path, req.Clear)
	if err != nil {
		writeEngineError(w, "graph load failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		slog.Error("stats error", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeEngineError maps input problems to 400 and everything else to 500.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, hybridrag.ErrUnsupportedFormat), errors.Is(err, hybridrag.ErrParsingFailed):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
