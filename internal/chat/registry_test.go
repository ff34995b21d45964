package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestRegistry_CreateAndGet(t *testing.T) {
	r := NewRegistry(Options{}, time.Hour)
	defer r.Stop()

	s := r.Create()
	got, ok := r.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.Get(uuid.New())
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SweepEvictsIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rel := &recordingReleaser{}
	r := NewRegistry(Options{Now: clock.Now, Releaser: rel}, time.Hour)
	defer r.Stop()

	stale := r.Create()
	stale.AddAttachments(image(1))

	clock.now = clock.now.Add(50 * time.Minute)
	fresh := r.Create()

	clock.now = clock.now.Add(20 * time.Minute)
	assert.Equal(t, 1, r.Sweep(clock.now))

	_, ok := r.Get(stale.ID())
	assert.False(t, ok)
	_, ok = r.Get(fresh.ID())
	assert.True(t, ok)
	assert.Equal(t, []string{image(1).URL}, rel.released)
}

func TestRegistry_SweepKeepsInFlightSessions(t *testing.T) {
	gate := make(chan struct{})
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry(Options{Now: clock.Now, Streamer: &fakeStreamer{steps: texts("x"), gate: gate}}, time.Minute)
	defer r.Stop()

	s := r.Create()
	s.SetInput("slow question")
	ex, err := s.Submit(context.Background())
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Hour)
	assert.Zero(t, r.Sweep(clock.now))

	close(gate)
	waitFinal(t, ex)
	assert.Equal(t, 1, r.Sweep(clock.now))
}

func TestRegistry_StopClosesSessions(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	r := NewRegistry(Options{Streamer: &fakeStreamer{steps: texts("x"), gate: gate}}, time.Hour)
	r.StartJanitor(time.Millisecond)

	s := r.Create()
	s.SetInput("q")
	ex, err := s.Submit(context.Background())
	require.NoError(t, err)

	r.Stop()
	assert.Equal(t, StateFailed, waitFinal(t, ex))
	assert.Zero(t, r.Len())
}

func TestRegistry_ZeroTTLNeverSweeps(t *testing.T) {
	r := NewRegistry(Options{}, 0)
	defer r.Stop()

	r.Create()
	assert.Zero(t, r.Sweep(time.Now().Add(24*time.Hour)))
}
