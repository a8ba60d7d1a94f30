// Package httpapi is the worker's operational surface: health probes,
// metrics, and the call management endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voicelane/warmline/internal/config"
	"github.com/voicelane/warmline/internal/observability"
	"github.com/voicelane/warmline/internal/transfer"
)

var errEmptyBody = errors.New("request body is empty")

type Server struct {
	cfg     config.Config
	manager *transfer.Manager
	logger  *zap.Logger
}

func New(cfg config.Config, manager *transfer.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, manager: manager, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/calls", s.handleStartCall)
	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Post("/v1/calls/{id}/hangup", s.handleHangupCall)

	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type startCallRequest struct {
	Destination string            `json:"destination"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.manager.ActiveCount(),
	})
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.Destination = strings.TrimSpace(req.Destination)
	if req.Destination == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "destination is required")
		return
	}

	snap, err := s.manager.StartCall(r.Context(), req.Destination, req.Metadata)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}
	s.logger.Info("call accepted",
		zap.String("session_id", snap.ID),
		zap.String("destination", snap.Destination))
	respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "unknown session id")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": s.manager.List(),
	})
}

func (s *Server) handleHangupCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Hangup(id); err != nil {
		respondError(w, http.StatusNotFound, "not_found", "unknown session id")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": "hangup_requested",
	})
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
