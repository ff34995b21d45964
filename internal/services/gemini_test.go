package services

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"

	"guidance-backend/internal/models"
)

func TestToHistory_DropsLeadingModelTurns(t *testing.T) {
	msgs := []models.Message{
		{ID: "welcome", Role: models.RoleModel, Text: "Hello!"},
		{ID: "u1", Role: models.RoleUser, Text: "Which degree?"},
		{ID: "m1", Role: models.RoleModel, Text: "It depends."},
		{ID: "m2", Role: models.RoleModel, Text: ""},
	}

	got, err := toHistory(msgs)
	if err != nil {
		t.Fatalf("toHistory returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "model" {
		t.Fatalf("unexpected roles %q, %q", got[0].Role, got[1].Role)
	}
	if text, ok := got[0].Parts[0].(genai.Text); !ok || string(text) != "Which degree?" {
		t.Fatalf("unexpected first part %#v", got[0].Parts[0])
	}
}

func TestToHistory_MergesTurnsAroundFailedReply(t *testing.T) {
	// The apology reply to "First try" is never sent, which leaves two user
	// turns side by side.
	msgs := []models.Message{
		{ID: "welcome", Role: models.RoleModel, Text: "Hello!"},
		{ID: "u1", Role: models.RoleUser, Text: "First try"},
		{ID: "u2", Role: models.RoleUser, Text: "Second try"},
		{ID: "m2", Role: models.RoleModel, Text: "Here you go."},
		{ID: "u3", Role: models.RoleUser, Text: "Thanks"},
	}

	got, err := toHistory(msgs)
	if err != nil {
		t.Fatalf("toHistory returned error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 alternating turns, got %d", len(got))
	}
	for i, want := range []string{"user", "model", "user"} {
		if got[i].Role != want {
			t.Fatalf("turn %d: expected role %q, got %q", i, want, got[i].Role)
		}
	}
	if len(got[0].Parts) != 2 || got[0].Parts[1].(genai.Text) != "Second try" {
		t.Fatalf("expected merged user turn, got %#v", got[0].Parts)
	}
}

func TestSplitTurns_MergesTrailingUserTurns(t *testing.T) {
	msgs := []models.Message{
		{ID: "u1", Role: models.RoleUser, Text: "Which degree?"},
		{ID: "m1", Role: models.RoleModel, Text: "It depends."},
		{ID: "u2", Role: models.RoleUser, Text: "On what?"},
		{ID: "u3", Role: models.RoleUser, Text: "Hello again"},
	}

	prior, parts, err := splitTurns(msgs)
	if err != nil {
		t.Fatalf("splitTurns returned error: %v", err)
	}
	if len(prior) != 2 || prior[len(prior)-1].Role != "model" {
		t.Fatalf("expected history to end with the model turn, got %d turns", len(prior))
	}
	if len(parts) != 2 || parts[0].(genai.Text) != "On what?" || parts[1].(genai.Text) != "Hello again" {
		t.Fatalf("unexpected message parts %#v", parts)
	}

	if _, _, err := splitTurns([]models.Message{{Role: models.RoleModel, Text: "Hi"}}); err == nil {
		t.Fatalf("expected error without a user turn")
	}
}

func TestMessageParts_IncludesImages(t *testing.T) {
	msg := models.Message{
		Role: models.RoleUser,
		Attachments: []models.Attachment{
			{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("png")), URL: "/b/1"},
			{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString([]byte("jpg")), URL: "/b/2"},
		},
	}

	parts, err := messageParts(msg)
	if err != nil {
		t.Fatalf("messageParts returned error: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected only image parts for empty text, got %d", len(parts))
	}
	blob, ok := parts[1].(genai.Blob)
	if !ok {
		t.Fatalf("expected genai.Blob, got %T", parts[1])
	}
	if blob.MIMEType != "image/jpeg" || string(blob.Data) != "jpg" {
		t.Fatalf("unexpected blob %q %q", blob.MIMEType, blob.Data)
	}
}

func TestMessageParts_RejectsCorruptPayload(t *testing.T) {
	msg := models.Message{
		Role:        models.RoleUser,
		Text:        "look",
		Attachments: []models.Attachment{{MimeType: "image/png", Data: "%%%not base64"}},
	}

	if _, err := messageParts(msg); err == nil {
		t.Fatalf("expected corrupt attachment data to fail")
	}
}

func TestStream_RequiresTrailingUserMessage(t *testing.T) {
	s := &GeminiService{logger: zap.NewNop(), rateChan: make(chan struct{}, 1)}

	if _, err := s.Stream(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty history")
	}

	history := []models.Message{{Role: models.RoleModel, Text: "Hello!"}}
	if _, err := s.Stream(context.Background(), history); err == nil {
		t.Fatalf("expected error when last message is not from the user")
	}
}

func TestAcquireRate_HonorsContext(t *testing.T) {
	s := &GeminiService{rateChan: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.acquireRate(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	s.releaseRate()
	if err := s.acquireRate(context.Background()); err != nil {
		t.Fatalf("expected released slot to be acquirable, got %v", err)
	}
}

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("Sure, "), genai.Text("here's a plan.")}}},
			{Content: nil},
		},
	}

	if got := extractText(resp); got != "Sure, here's a plan." {
		t.Fatalf("unexpected text %q", got)
	}
}
