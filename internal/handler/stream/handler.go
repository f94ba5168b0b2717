// Package stream serves the question-answering endpoints, relaying live
// answer deltas over server-sent events.
package stream

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	relayService "github.com/laborare/docchat/internal/service/relay"
	sessionService "github.com/laborare/docchat/internal/service/session"
	"github.com/laborare/docchat/pkg/sse"
	"github.com/laborare/docchat/pkg/utils"
)

// Handler runs one relay invocation per request.
type Handler struct {
	relay *relayService.Service
	log   *zap.Logger
}

// New creates the Q&A handler.
func New(relay *relayService.Service, logger *zap.Logger) *Handler {
	return &Handler{relay: relay, log: logger}
}

// RegisterRoutes mounts the Q&A routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/qa/query", h.handleQuery)
	r.Post("/qa/stream", h.handleStream)
}

type turnRequest struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	Question   string `json:"question"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	result, err := h.relay.Ask(r.Context(), relayService.Request{
		SessionID:  req.SessionID,
		DocumentID: req.DocumentID,
		Question:   req.Question,
	})
	if err != nil {
		h.log.Error("qa query failed", zap.String("sessionId", req.SessionID), zap.Error(err))
		utils.RespondError(w, statusFor(err), "failed to answer question")
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	err = h.relay.Stream(r.Context(), relayService.Request{
		SessionID:  req.SessionID,
		DocumentID: req.DocumentID,
		Question:   req.Question,
	}, sseSink{writer})
	if err != nil {
		// Already surfaced to the client as an error frame where one could
		// still be delivered.
		h.log.Warn("qa stream ended with error",
			zap.String("sessionId", req.SessionID), zap.Error(err))
	}
}

func decodeTurn(w http.ResponseWriter, r *http.Request) (turnRequest, bool) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return turnRequest{}, false
	}
	if req.Question == "" {
		utils.RespondError(w, http.StatusBadRequest, "question is required")
		return turnRequest{}, false
	}
	return req, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relayService.ErrMissingDocument):
		return http.StatusBadRequest
	case errors.Is(err, sessionService.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// sseSink forwards relay events to the client as SSE frames.
type sseSink struct {
	w *sse.Writer
}

func (s sseSink) Delta(content string) error {
	return s.w.Send(sse.Frame{Content: content})
}

func (s sseSink) Done(sessionID string, messageCount int) error {
	return s.w.Send(sse.Frame{Done: true, MessageCount: messageCount, SessionID: sessionID})
}

func (s sseSink) Fail(message string) error {
	return s.w.Send(sse.Frame{Error: message})
}
