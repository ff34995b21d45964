package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Attachment is an image the user attached to a message. Data is sent to the
// model; URL is only for local display.
type Attachment struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
	URL      string `json:"url"`
}

// Message represents a single entry in a conversation.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   time.Time    `json:"timestamp"`
	IsStreaming bool         `json:"is_streaming"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return out
}

// SubmitRequest is the payload sent to the submit endpoint. A nil Text keeps
// whatever is already in the composer.
type SubmitRequest struct {
	Text *string `json:"text"`
}

type SubmitResponse struct {
	Accepted      bool   `json:"accepted"`
	Reason        string `json:"reason,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	PlaceholderID string `json:"placeholder_id,omitempty"`
}

type InputRequest struct {
	Text string `json:"text"`
}

type SessionCreatedResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Token     string    `json:"token"`
	Messages  []Message `json:"messages"`
}

// SessionSnapshot is the full view a page needs to render itself.
type SessionSnapshot struct {
	SessionID   uuid.UUID    `json:"session_id"`
	State       string       `json:"state"`
	Messages    []Message    `json:"messages"`
	Input       string       `json:"input"`
	Attachments []Attachment `json:"attachments"`
}

// UploadFailure reports one rejected file. Index is its position in the
// submitted selection, since filenames need not be unique.
type UploadFailure struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

type UploadResponse struct {
	Attachments []Attachment    `json:"attachments"`
	Failed      []UploadFailure `json:"failed,omitempty"`
}
