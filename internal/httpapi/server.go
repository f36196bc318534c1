package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voxtable/voicebridge/internal/config"
	"github.com/voxtable/voicebridge/internal/observability"
	"github.com/voxtable/voicebridge/internal/session"
	"github.com/voxtable/voicebridge/internal/telephony"
)

// Server owns the HTTP surface: the carrier stream endpoint, health and
// metrics probes and a small operator API.
type Server struct {
	cfg      config.Config
	registry *session.Registry
	bridge   *telephony.Bridge
}

func New(cfg config.Config, registry *session.Registry, bridge *telephony.Bridge) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		bridge:   bridge,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/telephony/stream", s.bridge.HandleStream)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, info := range s.registry.Snapshot() {
		if info.SessionID == id {
			respondJSON(w, http.StatusOK, info)
			return
		}
	}
	respondError(w, http.StatusNotFound, "session_not_found", "no active session with that id")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
