package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"guidance-backend/internal/chat"
	"guidance-backend/internal/models"
)

type ChatHandler struct {
	sessions sessionRegistry
}

func NewChatHandler(sessions sessionRegistry) *ChatHandler {
	return &ChatHandler{sessions: sessions}
}

func (h *ChatHandler) SetInput(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}

	var req models.InputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	s.SetInput(req.Text)
	w.WriteHeader(http.StatusNoContent)
}

// Submit starts an exchange. A refused submission (nothing to send, or a
// reply still streaming) is not an error for the page: it gets
// accepted=false and nothing changes.
func (h *ChatHandler) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}

	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	var (
		ex  *chat.Exchange
		err error
	)
	if req.Text != nil {
		ex, err = s.SubmitText(r.Context(), *req.Text)
	} else {
		ex, err = s.Submit(r.Context())
	}
	switch {
	case errors.Is(err, chat.ErrEmptySubmission):
		writeJSON(w, http.StatusOK, models.SubmitResponse{Accepted: false, Reason: "empty"})
		return
	case errors.Is(err, chat.ErrExchangeInFlight):
		writeJSON(w, http.StatusOK, models.SubmitResponse{Accepted: false, Reason: "busy"})
		return
	case err != nil:
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, models.SubmitResponse{
		Accepted:      true,
		MessageID:     ex.UserMessageID,
		PlaceholderID: ex.PlaceholderID,
	})
}

func (h *ChatHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cancelled": s.Cancel(),
	})
}

func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}

	if err := s.Reset(); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s.Snapshot())
}
