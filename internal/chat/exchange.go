package chat

import "context"

// Exchange is the handle of one submitted request/response pair.
type Exchange struct {
	UserMessageID string
	PlaceholderID string

	done   chan struct{}
	cancel context.CancelFunc

	// guarded by the owning session's mutex until done is closed
	finished bool
	state    State
	err      error
}

// Done is closed once the exchange has sealed or failed.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange ends and returns its final state, which is
// StateSealed or StateFailed.
func (e *Exchange) Wait(ctx context.Context) (State, error) {
	select {
	case <-e.done:
		return e.state, nil
	case <-ctx.Done():
		return StateIdle, ctx.Err()
	}
}

// Err is the stream error behind a failed exchange. It is only meaningful
// after Done is closed.
func (e *Exchange) Err() error {
	<-e.done
	return e.err
}
