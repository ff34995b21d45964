// Package conversation holds the ordered message list of one chat.
package conversation

import (
	"errors"
	"sync"

	"guidance-backend/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// Store is the single source of truth for what a page renders. It is owned by
// one session; all mutation goes through Append, Replace and Reset.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
}

func NewStore(initial ...models.Message) *Store {
	s := &Store{}
	for _, m := range initial {
		s.messages = append(s.messages, m.Clone())
	}
	return s
}

func (s *Store) Append(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg.Clone())
}

// Replace applies fn to the message with the given id and stores the result
// in the same position. The returned message is the stored value.
func (s *Store) Replace(id string, fn func(models.Message) models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		updated := fn(s.messages[i].Clone())
		updated.ID = id
		s.messages[i] = updated.Clone()
		return updated, nil
	}
	return models.Message{}, ErrMessageNotFound
}

// Reset replaces every message with msgs and returns the previous contents.
func (s *Store) Reset(msgs ...models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.messages
	s.messages = make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		s.messages = append(s.messages, m.Clone())
	}
	return old
}

func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

// Snapshot returns a deep copy of the conversation in order.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// StreamingCount reports how many messages are currently streaming.
func (s *Store) StreamingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.messages {
		if m.IsStreaming {
			n++
		}
	}
	return n
}
