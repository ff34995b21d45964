package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"guidance-backend/internal/attachment"
	"guidance-backend/internal/chat"
	"guidance-backend/internal/models"
)

const SystemInstruction = "You are an expert Education & Career Guidance Assistant. Your goal is to provide high-quality, actionable advice regarding academic choices, college applications, career transitions, resume optimization, and skill development. Be supportive, professional, and clear. Use Markdown for formatting."

type GeminiService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	logger   *zap.Logger
	rateChan chan struct{} // Token bucket
}

func NewGeminiService(apiKey, modelName string, temperature float32, concurrentReqs int, logger *zap.Logger) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(0.95)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemInstruction)},
	}

	if concurrentReqs < 1 {
		concurrentReqs = 1
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:   client,
		model:    model,
		logger:   logger,
		rateChan: rateChan,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Stream sends the trailing user turn of history as a new chat message, with
// the earlier turns as chat history, and returns the reply fragments.
func (s *GeminiService) Stream(ctx context.Context, history []models.Message) (chat.FragmentStream, error) {
	if len(history) == 0 || history[len(history)-1].Role != models.RoleUser {
		return nil, fmt.Errorf("history must end with a user message")
	}

	prior, parts, err := splitTurns(history)
	if err != nil {
		return nil, err
	}

	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}

	var once sync.Once
	release := func() { once.Do(s.releaseRate) }
	// The slot is returned when the stream ends or its context is done,
	// whichever comes first.
	stop := context.AfterFunc(ctx, release)

	cs := s.model.StartChat()
	cs.History = prior

	s.logger.Debug("Opening Gemini stream",
		zap.Int("history_turns", len(prior)),
		zap.Int("parts", len(parts)))

	return &geminiStream{
		iter: cs.SendMessageStream(ctx, parts...),
		done: func() {
			stop()
			release()
		},
	}, nil
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
	done func()
}

func (g *geminiStream) Next() (string, error) {
	resp, err := g.iter.Next()
	if err != nil {
		g.done()
		if err == iterator.Done {
			return "", iterator.Done
		}
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return extractText(resp), nil
}

var _ chat.Streamer = (*GeminiService)(nil)

// Helper functions

// toHistory converts conversation turns to Gemini contents. Gemini
// expects the history to open with a user turn and to alternate roles, so
// leading model messages (the greeting) and empty turns are dropped, and
// consecutive turns from the same role are merged. A user turn whose reply
// failed is followed directly by the next user turn.
func toHistory(msgs []models.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range msgs {
		if len(out) == 0 && m.Role != models.RoleUser {
			continue
		}
		parts, err := messageParts(m)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}
		if last := len(out) - 1; last >= 0 && out[last].Role == string(m.Role) {
			out[last].Parts = append(out[last].Parts, parts...)
			continue
		}
		out = append(out, &genai.Content{Role: string(m.Role), Parts: parts})
	}
	return out, nil
}

// splitTurns separates the chat history from the parts of the final user
// turn, which is sent as the new message.
func splitTurns(history []models.Message) ([]*genai.Content, []genai.Part, error) {
	contents, err := toHistory(history)
	if err != nil {
		return nil, nil, err
	}
	if len(contents) == 0 || contents[len(contents)-1].Role != string(models.RoleUser) {
		return nil, nil, fmt.Errorf("history must end with a user message")
	}
	last := len(contents) - 1
	return contents[:last], contents[last].Parts, nil
}

func messageParts(m models.Message) ([]genai.Part, error) {
	var parts []genai.Part
	if text := strings.TrimSpace(m.Text); text != "" {
		parts = append(parts, genai.Text(m.Text))
	}
	for _, att := range m.Attachments {
		raw, err := attachment.Decode(att)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.Blob{MIMEType: att.MimeType, Data: raw})
	}
	return parts, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
