// Package session exposes the conversation management endpoints.
package session

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	sessionService "github.com/laborare/docchat/internal/service/session"
	"github.com/laborare/docchat/pkg/utils"
)

// Handler serves session listing, transcripts and deletion.
type Handler struct {
	sessions *sessionService.Service
	log      *zap.Logger
}

// New creates the session handler.
func New(sessions *sessionService.Service, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, log: logger}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions", h.handleList)
	r.Get("/sessions/{sessionID}/messages", h.handleMessages)
	r.Delete("/sessions/{sessionID}", h.handleDelete)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.DocumentID == "" {
		utils.RespondError(w, http.StatusBadRequest, "documentId is required")
		return
	}

	session, err := h.sessions.Create(r.Context(), payload.DocumentID)
	if err != nil {
		h.log.Error("create session failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "session storage unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("documentId")

	summaries, err := h.sessions.List(r.Context(), documentID)
	if err != nil {
		h.log.Error("list sessions failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "session storage unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"total":    len(summaries),
	})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.sessions.Load(r.Context(), sessionID)
	if err != nil {
		h.log.Error("load transcript failed", zap.String("sessionId", sessionID), zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "session storage unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Deleting works whether or not a turn is mid-stream; an in-flight
	// commit racing the delete resolves at the store, last writer wins.
	if err := h.sessions.Delete(r.Context(), sessionID); err != nil {
		h.log.Error("delete session failed", zap.String("sessionId", sessionID), zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "session storage unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"id":      sessionID,
		"deleted": true,
	})
}
