package rest

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/application/executor"
	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

func (s *Server) handleAddRows(w http.ResponseWriter, r *http.Request) {
	var req domain.AddRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadInput("Malformed request body: %v.", err))
		return
	}
	if req.TableID == "" {
		req.TableID = r.PathValue("table_id")
	}
	projectID := s.project(r)

	table, err := s.caps.Store.OpenTable(r.Context(), projectID, r.PathValue("table_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := executor.NewAddOrchestrator(s.caps, s.cfg, table, projectID, newRequestID(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, o, req.Stream)
}

func (s *Server) handleRegenRows(w http.ResponseWriter, r *http.Request) {
	var req domain.RegenRowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadInput("Malformed request body: %v.", err))
		return
	}
	if req.TableID == "" {
		req.TableID = r.PathValue("table_id")
	}
	projectID := s.project(r)

	table, err := s.caps.Store.OpenTable(r.Context(), projectID, r.PathValue("table_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := executor.NewRegenOrchestrator(s.caps, s.cfg, table, projectID, newRequestID(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, r, o, req.Stream)
}

// respond drives the orchestrator to completion, either as an SSE stream or
// as one aggregate JSON response.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, o *executor.Orchestrator, stream bool) {
	if stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		if err := o.Stream(r.Context(), w); err != nil {
			// The stream already started; nothing to send the client.
			log.Error().Err(err).Msg("Streaming response aborted")
		}
		return
	}
	resp, err := o.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
