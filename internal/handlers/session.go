package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"guidance-backend/internal/chat"
	"guidance-backend/internal/middleware"
	"guidance-backend/internal/models"
)

type sessionRegistry interface {
	Create() *chat.Session
	Get(id uuid.UUID) (*chat.Session, bool)
}

type tokenIssuer interface {
	Issue(sessionID uuid.UUID) (string, error)
}

type SessionHandler struct {
	sessions sessionRegistry
	tokens   tokenIssuer
}

func NewSessionHandler(sessions sessionRegistry, tokens tokenIssuer) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()

	token, err := h.tokens.Issue(s.ID())
	if err != nil {
		s.Close()
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to issue session token", r))
		return
	}

	writeJSON(w, http.StatusCreated, models.SessionCreatedResponse{
		SessionID: s.ID(),
		Token:     token,
		Messages:  s.Messages(),
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// currentSession resolves the session bound to the request token, writing a
// 404 when it no longer exists.
func currentSession(w http.ResponseWriter, r *http.Request, sessions sessionRegistry) (*chat.Session, bool) {
	s, ok := sessions.Get(middleware.GetSessionID(r.Context()))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
		return nil, false
	}
	return s, true
}
