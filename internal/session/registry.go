package session

import (
	"context"
	"sort"
	"sync"

	"nir-backend/internal/metrics"
	"nir-backend/internal/models"
)

// Registry tracks active sessions by id
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *metrics.Metrics
	empty    chan struct{} // closed while no session is registered
}

func NewRegistry(m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.New()
	}
	empty := make(chan struct{})
	close(empty)
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  m,
		empty:    empty,
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		r.empty = make(chan struct{})
	}
	r.sessions[s.ID()] = s
	r.metrics.SetActiveSessions(len(r.sessions))
}

// Remove is a no-op for unknown ids
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	if len(r.sessions) == 0 {
		close(r.empty)
	}
	r.metrics.SetActiveSessions(len(r.sessions))
}

func (r *Registry) Get(id string) (*Session, bool) {
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

// Snapshot returns the active sessions ordered by opening time
func (r *Registry) Snapshot() []models.SessionInfo {
	r.mu.RLock()
	infos := make([]models.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].OpenedAt.Equal(infos[j].OpenedAt) {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].OpenedAt.Before(infos[j].OpenedAt)
	})
	return infos
}

// Serve registers s, runs it, and always releases its slot
func (r *Registry) Serve(ctx context.Context, s *Session) error {
	r.Add(s)
	defer r.Remove(s.ID())
	return s.Run(ctx)
}

// Wait blocks until no session is registered or ctx is done. Sessions run
// through Serve have emitted their summary by the time they are removed.
func (r *Registry) Wait(ctx context.Context) error {
	r.mu.RLock()
	empty := r.empty
	r.mu.RUnlock()

	select {
	case <-empty:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
