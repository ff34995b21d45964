package models

import "github.com/google/uuid"

// WebSocket message types
const (
	EventMessageAppended    = "message_appended"
	EventMessageUpdated     = "message_updated"
	EventConversationReset  = "conversation_reset"
	EventAttachmentsChanged = "attachments_changed"
	EventStateChanged       = "state_changed"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type MessageEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	Message   Message   `json:"message"`
}

type ResetEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	Messages  []Message `json:"messages"`
}

type AttachmentsEvent struct {
	SessionID   uuid.UUID    `json:"session_id"`
	Attachments []Attachment `json:"attachments"`
}

type StateEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	State     string    `json:"state"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
