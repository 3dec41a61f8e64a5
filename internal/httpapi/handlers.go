// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/models"
)

// errorResponse is the JSON error body for non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth reports liveness. The engine recovers from everything short
// of process death, so alive means healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTasks returns the current task collection in display order.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.service.Tasks()
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleSubmit creates a download task from a URI or magnet link.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URI) == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	task, err := s.service.Submit(r.Context(), req.URI)
	if err != nil {
		logging.Warn().Err(err).Msg("submit rejected")
		writeError(w, http.StatusBadGateway, "submit failed")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleCancel removes a task. The local entry disappears immediately; the
// engine restores it if the server rejects the cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := s.service.Cancel(r.Context(), id); err != nil {
		logging.Warn().Err(err).Int64("task_id", id).Msg("cancel rejected")
		writeError(w, http.StatusBadGateway, "cancel failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
