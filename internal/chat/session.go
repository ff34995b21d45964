// Package chat drives the exchange between a user and the model: it appends
// user messages, opens a placeholder for the reply and streams fragments into
// it until the stream seals or fails.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"guidance-backend/internal/conversation"
	"guidance-backend/internal/models"
)

const (
	WelcomeID   = "welcome"
	WelcomeText = "Hello! I'm your Education & Career Guidance Assistant. How can I help you explore your future today?"
	ResetText   = "Chat history cleared. How can I help you explore your future today?"
	ApologyText = "Sorry, I encountered an error. Please try again."
)

var (
	ErrEmptySubmission     = errors.New("nothing to submit")
	ErrExchangeInFlight    = errors.New("an exchange is already in flight")
	ErrAttachmentIndex     = errors.New("attachment index out of range")
	ErrExchangeCancelled   = errors.New("exchange cancelled")
	ErrSessionClosed       = errors.New("session closed")
	errStreamerUnavailable = errors.New("no streamer configured")
)

// Options are shared by every session a Registry creates.
type Options struct {
	Streamer      Streamer
	Publisher     Publisher
	Releaser      Releaser
	Logger        *zap.Logger
	StreamTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

func (o Options) withDefaults() Options {
	if o.Publisher == nil {
		o.Publisher = nopPublisher{}
	}
	if o.Releaser == nil {
		o.Releaser = nopReleaser{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Session owns one conversation and the composer state of the page that
// drives it. At most one exchange is in flight at a time.
type Session struct {
	id   uuid.UUID
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	store    *conversation.Store
	input    string
	pending  []models.Attachment
	state    State
	active   *Exchange
	lastSeen time.Time
	closed   bool
}

func NewSession(id uuid.UUID, opts Options) *Session {
	opts = opts.withDefaults()
	now := opts.Now()

	return &Session{
		id:   id,
		opts: opts,
		log:  opts.Logger.With(zap.String("session_id", id.String())),
		store: conversation.NewStore(models.Message{
			ID:        WelcomeID,
			Role:      models.RoleModel,
			Text:      WelcomeText,
			Timestamp: now,
		}),
		state:    StateIdle,
		lastSeen: now,
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Messages() []models.Message {
	return s.store.Snapshot()
}

func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	return models.SessionSnapshot{
		SessionID:   s.id,
		State:       s.state.String(),
		Messages:    s.store.Snapshot(),
		Input:       s.input,
		Attachments: s.pendingCopy(),
	}
}

// LastSeen is the time of the last call that touched the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.input = text
}

func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Session) AddAttachments(atts ...models.Attachment) {
	if len(atts) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.pending = append(s.pending, atts...)
	s.publishAttachments()
}

// RemoveAttachment drops the pending attachment at index. Later attachments
// shift down by one and are otherwise unchanged.
func (s *Session) RemoveAttachment(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if index < 0 || index >= len(s.pending) {
		return ErrAttachmentIndex
	}

	removed := s.pending[index]
	next := make([]models.Attachment, 0, len(s.pending)-1)
	next = append(next, s.pending[:index]...)
	next = append(next, s.pending[index+1:]...)
	s.pending = next

	s.opts.Releaser.Release(removed)
	s.publishAttachments()
	return nil
}

func (s *Session) PendingAttachments() []models.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCopy()
}

// Submit starts an exchange from the current composer state. It returns
// ErrEmptySubmission or ErrExchangeInFlight without touching the
// conversation when the guard refuses. The reply streams in the background;
// use the returned Exchange to wait for it.
func (s *Session) Submit(ctx context.Context) (*Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	return s.submitLocked(ctx)
}

// SubmitText replaces the composer text and submits in one step. The
// composer is left alone when the submission is refused because an
// exchange is in flight.
func (s *Session) SubmitText(ctx context.Context, text string) (*Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if !s.closed && !s.state.InFlight() {
		s.input = text
	}
	return s.submitLocked(ctx)
}

func (s *Session) submitLocked(ctx context.Context) (*Exchange, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.state.InFlight() {
		return nil, ErrExchangeInFlight
	}

	text := strings.TrimSpace(s.input)
	if text == "" && len(s.pending) == 0 {
		return nil, ErrEmptySubmission
	}

	now := s.opts.Now()
	user := models.Message{
		ID:          s.opts.NewID(),
		Role:        models.RoleUser,
		Text:        text,
		Attachments: s.pendingCopy(),
		Timestamp:   now,
	}
	s.store.Append(user)
	s.input = ""
	s.pending = nil

	history := historyFor(s.store.Snapshot())

	placeholder := models.Message{
		ID:          s.opts.NewID(),
		Role:        models.RoleModel,
		Attachments: []models.Attachment{},
		Timestamp:   now,
		IsStreaming: true,
	}
	s.store.Append(placeholder)

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if s.opts.StreamTimeout > 0 {
		streamCtx, cancel = withTimeout(streamCtx, cancel, s.opts.StreamTimeout)
	}

	ex := &Exchange{
		UserMessageID: user.ID,
		PlaceholderID: placeholder.ID,
		done:          make(chan struct{}),
		cancel:        cancel,
	}
	s.active = ex

	s.publish(models.EventMessageAppended, models.MessageEvent{SessionID: s.id, Message: user})
	s.publishAttachments()
	s.publish(models.EventMessageAppended, models.MessageEvent{SessionID: s.id, Message: placeholder})
	s.setState(StateSubmitted)

	s.log.Debug("Exchange submitted",
		zap.String("placeholder_id", placeholder.ID),
		zap.Int("attachments", len(user.Attachments)),
		zap.Int("history", len(history)))

	go s.run(streamCtx, ex, history)

	return ex, nil
}

// Cancel aborts the in-flight exchange, which ends as failed. It is a no-op
// when nothing is in flight.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	ex := s.active
	if ex == nil {
		return false
	}
	s.failLocked(ex, ErrExchangeCancelled)
	return true
}

// Reset replaces the conversation with a single greeting. It is refused
// while an exchange is in flight.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.state.InFlight() {
		return ErrExchangeInFlight
	}

	greeting := models.Message{
		ID:        WelcomeID,
		Role:      models.RoleModel,
		Text:      ResetText,
		Timestamp: s.opts.Now(),
	}
	old := s.store.Reset(greeting)
	for _, m := range old {
		s.opts.Releaser.Release(m.Attachments...)
	}

	s.publish(models.EventConversationReset, models.ResetEvent{
		SessionID: s.id,
		Messages:  s.store.Snapshot(),
	})
	return nil
}

// Close cancels any in-flight exchange and releases every attachment the
// session still references. The session refuses new submissions afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.active != nil {
		s.failLocked(s.active, ErrSessionClosed)
	}
	s.closed = true

	for _, m := range s.store.Snapshot() {
		s.opts.Releaser.Release(m.Attachments...)
	}
	s.opts.Releaser.Release(s.pending...)
	s.pending = nil
}

func (s *Session) run(ctx context.Context, ex *Exchange, history []models.Message) {
	defer ex.cancel()

	if !s.beginStreaming(ex) {
		return
	}

	if s.opts.Streamer == nil {
		s.fail(ex, errStreamerUnavailable)
		return
	}

	stream, err := s.opts.Streamer.Stream(ctx, history)
	if err != nil {
		s.fail(ex, err)
		return
	}

	var buf strings.Builder
	for {
		fragment, err := stream.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			s.fail(ex, err)
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.fail(ex, ctxErr)
			return
		}
		if fragment == "" {
			continue
		}

		buf.WriteString(fragment)
		if !s.updateText(ex, buf.String()) {
			return
		}
	}

	s.seal(ex)
}

func (s *Session) beginStreaming(ex *Exchange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex.finished {
		return false
	}
	s.setState(StateStreaming)
	return true
}

// updateText overwrites the placeholder with the cumulative text so far.
// It reports false once the exchange has already ended.
func (s *Session) updateText(ex *Exchange, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex.finished {
		return false
	}

	updated, err := s.store.Replace(ex.PlaceholderID, func(m models.Message) models.Message {
		m.Text = text
		return m
	})
	if err != nil {
		s.log.Warn("Placeholder vanished mid-stream", zap.String("placeholder_id", ex.PlaceholderID))
		s.finishLocked(ex, StateFailed, err)
		return false
	}

	s.publish(models.EventMessageUpdated, models.MessageEvent{SessionID: s.id, Message: updated})
	return true
}

func (s *Session) seal(ex *Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex.finished {
		return
	}

	updated, err := s.store.Replace(ex.PlaceholderID, func(m models.Message) models.Message {
		m.IsStreaming = false
		return m
	})
	if err == nil {
		s.publish(models.EventMessageUpdated, models.MessageEvent{SessionID: s.id, Message: updated})
	}

	s.log.Debug("Exchange sealed",
		zap.String("placeholder_id", ex.PlaceholderID),
		zap.Int("chars", len(updated.Text)))
	s.finishLocked(ex, StateSealed, nil)
}

func (s *Session) fail(ex *Exchange, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(ex, cause)
}

// failLocked discards any partial reply in favour of the apology text.
func (s *Session) failLocked(ex *Exchange, cause error) {
	if ex.finished {
		return
	}

	ex.cancel()

	updated, err := s.store.Replace(ex.PlaceholderID, func(m models.Message) models.Message {
		m.Text = ApologyText
		m.IsStreaming = false
		return m
	})
	if err == nil {
		s.publish(models.EventMessageUpdated, models.MessageEvent{SessionID: s.id, Message: updated})
	}

	if errors.Is(cause, ErrExchangeCancelled) || errors.Is(cause, ErrSessionClosed) {
		s.log.Info("Exchange cancelled", zap.String("placeholder_id", ex.PlaceholderID), zap.Error(cause))
	} else {
		s.log.Error("Gemini stream failed", zap.String("placeholder_id", ex.PlaceholderID), zap.Error(cause))
	}
	s.finishLocked(ex, StateFailed, cause)
}

func (s *Session) finishLocked(ex *Exchange, final State, cause error) {
	ex.finished = true
	ex.state = final
	ex.err = cause

	s.setState(final)
	s.setState(StateIdle)
	if s.active == ex {
		s.active = nil
	}
	close(ex.done)
}

func (s *Session) setState(st State) {
	s.state = st
	s.publish(models.EventStateChanged, models.StateEvent{SessionID: s.id, State: st.String()})
}

func (s *Session) publish(eventType string, payload interface{}) {
	s.opts.Publisher.Publish(context.Background(), s.id, models.WSMessage{Type: eventType, Payload: payload})
}

func (s *Session) publishAttachments() {
	s.publish(models.EventAttachmentsChanged, models.AttachmentsEvent{
		SessionID:   s.id,
		Attachments: s.pendingCopy(),
	})
}

func (s *Session) pendingCopy() []models.Attachment {
	return append([]models.Attachment{}, s.pending...)
}

func (s *Session) touch() {
	s.lastSeen = s.opts.Now()
}

// historyFor drops failed replies so the model never sees the apology text
// as something it said.
func historyFor(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleModel && m.Text == ApologyText {
			continue
		}
		out = append(out, m)
	}
	return out
}

func withTimeout(parent context.Context, parentCancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, d)
	return ctx, func() {
		cancel()
		parentCancel()
	}
}
