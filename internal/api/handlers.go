// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/fieldworks/fieldsync/internal/conflict"
	"github.com/fieldworks/fieldsync/internal/logging"
	"github.com/fieldworks/fieldsync/internal/models"
	"github.com/fieldworks/fieldsync/internal/queue"
	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/syncer"
	"github.com/fieldworks/fieldsync/internal/validation"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusBody struct {
	Online     bool   `json:"online"`
	Breaker    string `json:"breaker"`
	QueueDepth int    `json:"queue_depth"`
	Conflicts  int    `json:"conflicts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	depth, err := s.deps.Queue.Depth()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	online := true
	if s.deps.Network != nil {
		online = s.deps.Network.Online()
	}

	writeJSON(w, http.StatusOK, statusBody{
		Online:     online,
		Breaker:    s.deps.Breaker.State().String(),
		QueueDepth: depth,
		Conflicts:  len(s.deps.Manager.PendingConflicts()),
	})
}

func (s *Server) handleListQueue(w http.ResponseWriter, _ *http.Request) {
	items, err := s.deps.Queue.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type submitBody struct {
	EntityType   string          `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Op           string          `json:"op"`
	Payload      *models.Entity  `json:"payload,omitempty"`
	BaseRevision models.Revision `json:"base_revision"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	item, err := s.deps.Manager.Submit(queue.EnqueueRequest{
		EntityType:   body.EntityType,
		EntityID:     body.EntityID,
		Op:           models.Operation(body.Op),
		Payload:      body.Payload,
		BaseRevision: body.BaseRevision,
	})
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) || errors.Is(err, queue.ErrPayloadRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Queue.Get(chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "no such item")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDiscardItem(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Queue.Discard(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, queue.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "no such item")
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type resolveBody struct {
	Strategy string `json:"strategy"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	err := s.deps.Manager.ResolveManually(chi.URLParam(r, "id"), conflict.Strategy(body.Strategy))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, queue.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "no such item")
	case errors.Is(err, syncer.ErrUnknownConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncer.ErrBadStrategy):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	if !models.KnownType(entityType) {
		writeError(w, http.StatusNotFound, "unknown entity type")
		return
	}

	entities, err := s.deps.Entities.ListByType(entityType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	cached, err := s.deps.Entities.Get(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrKeyNotFound) {
		writeError(w, http.StatusNotFound, "no such entity")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cached)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, _ *http.Request) {
	conflicts := s.deps.Manager.PendingConflicts()
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts, "count": len(conflicts)})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, _ *http.Request) {
	s.deps.Manager.TriggerDrain()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "drain requested"})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, _ *http.Request) {
	s.deps.Breaker.Reset()
	w.WriteHeader(http.StatusNoContent)
}
