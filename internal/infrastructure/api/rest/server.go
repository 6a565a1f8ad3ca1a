// Package rest exposes the execution core over HTTP: row add / regen with
// optional SSE streaming, and a websocket feed of live cell events.
package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/application/executor"
	"github.com/gridify/gentable/internal/domain/errors"
	"github.com/gridify/gentable/internal/infrastructure/websocket"
)

// Server routes the HTTP surface of the execution core.
type Server struct {
	caps      executor.Capabilities
	cfg       executor.OrchestratorConfig
	hub       *websocket.Hub
	jwtSecret string
	projectID string
	mux       *http.ServeMux
}

// NewServer creates the HTTP server. jwtSecret empty disables auth;
// projectID is the default project for unscoped requests.
func NewServer(caps executor.Capabilities, cfg executor.OrchestratorConfig, hub *websocket.Hub, jwtSecret, projectID string) *Server {
	s := &Server{
		caps:      caps,
		cfg:       cfg,
		hub:       hub,
		jwtSecret: jwtSecret,
		projectID: projectID,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/v1/gen_tables/{table_id}/rows/add", s.auth(s.handleAddRows))
	s.mux.HandleFunc("POST /api/v1/gen_tables/{table_id}/rows/regen", s.auth(s.handleRegenRows))
	s.mux.HandleFunc("GET /api/v1/gen_tables/{table_id}/events", s.auth(s.handleEvents))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Info().Str("method", r.Method).Str("path", r.URL.Path).Msg("Request received")
	s.mux.ServeHTTP(w, r)
}

// auth enforces a bearer token when a JWT secret is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			if _, err := websocket.ValidateToken(s.jwtSecret, token); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) project(r *http.Request) string {
	if p := r.Header.Get("X-Project-ID"); p != "" {
		return p
	}
	return s.projectID
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Subscribe(w, r, r.PathValue("table_id")); err != nil {
		log.Error().Err(err).Msg("Failed to subscribe websocket client")
	}
}

// writeError maps domain error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsBadInput(err):
		status = http.StatusUnprocessableEntity
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func newRequestID() string {
	return uuid.NewString()
}
