package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry keeps one Session per page load and evicts idle ones.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	opts     Options
	idleTTL  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRegistry(opts Options, idleTTL time.Duration) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		opts:     opts.withDefaults(),
		idleTTL:  idleTTL,
		stopChan: make(chan struct{}),
	}
}

func (r *Registry) Create() *Session {
	s := NewSession(uuid.New(), r.opts)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.opts.Logger.Info("Session created", zap.String("session_id", s.ID().String()), zap.Int("total", total))
	return s
}

func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes and removes sessions idle since before now-idleTTL. Sessions
// with an exchange in flight are kept.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.State().InFlight() || s.LastSeen().After(cutoff) {
			continue
		}
		expired = append(expired, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
		r.opts.Logger.Info("Session expired", zap.String("session_id", s.ID().String()))
	}
	return len(expired)
}

// StartJanitor sweeps on every interval tick until Stop.
func (r *Registry) StartJanitor(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.Sweep(r.opts.Now())
			}
		}
	}()
}

// Stop ends the janitor and closes every session.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
