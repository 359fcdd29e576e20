package agent

import (
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
)

// Registry is the in-memory map of live agent sessions. It is the only
// shared resource across concurrently dispatched control operations; its
// lock is held only for lookup, insert, and remove, never across session
// work.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*AgentSession
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*AgentSession),
	}
}

// Add inserts a session
func (r *Registry) Add(session *AgentSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
}

// Get returns a session by id
func (r *Registry) Get(sessionID string) (*AgentSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, exists := r.sessions[sessionID]
	return session, exists
}

// Remove deletes a session by id, reporting whether it existed
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sessionID]; !exists {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// List returns summaries of all live sessions
func (r *Registry) List() []SessionSummary {
	r.mu.RLock()
	sessions := make([]*AgentSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}
	return summaries
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// idleCandidates returns ids of sessions with no activity since the cutoff.
// Session locks are taken only after the registry lock is released.
func (r *Registry) idleCandidates(cutoff time.Time) []string {
	r.mu.RLock()
	sessions := make([]*AgentSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var ids []string
	for _, s := range sessions {
		if s.idleSince().Before(cutoff) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// StartReaper launches a goroutine that stops sessions idle past the
// timeout, bounding memory held by abandoned sessions. The returned func
// stops the reaper.
func (r *Registry) StartReaper(interval, idleTimeout time.Duration, stop func(sessionID string) bool) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-idleTimeout)
				for _, id := range r.idleCandidates(cutoff) {
					logger.Info("Reaping idle agent session", "sessionId", id)
					stop(id)
				}
			}
		}
	}()
	return func() { close(done) }
}
