package chat

import (
	"context"

	"github.com/google/uuid"

	"guidance-backend/internal/models"
)

// FragmentStream is a lazy, finite, non-restartable sequence of text
// fragments. Next returns iterator.Done once the stream is exhausted.
type FragmentStream interface {
	Next() (string, error)
}

// Streamer opens one streaming reply for the given history. The last
// message of history is the user turn being answered. Cancelling ctx must
// make a pending Next return.
type Streamer interface {
	Stream(ctx context.Context, history []models.Message) (FragmentStream, error)
}

// Publisher delivers conversation events to whoever renders the session.
// It is called with the session lock held and must not call back into the
// session.
type Publisher interface {
	Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage)
}

// Releaser frees local resources held by attachments.
type Releaser interface {
	Release(atts ...models.Attachment)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, uuid.UUID, models.WSMessage) {}

type nopReleaser struct{}

func (nopReleaser) Release(...models.Attachment) {}
