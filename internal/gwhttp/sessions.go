package gwhttp

import (
	"sync"
	"time"

	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// SessionRegistry tracks live WebSocket sessions for the
// /internal/sessions diagnostic endpoint (a supplemented feature; see
// DESIGN.md). It is one of the gateway's few pieces of shared mutable
// state, guarded by a single mutex per spec.md §5.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]gwmodels.Session
}

// NewSessionRegistry builds an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]gwmodels.Session)}
}

// Put registers or replaces a session.
func (s *SessionRegistry) Put(session gwmodels.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ConnectionID] = session
}

// Remove deletes a session by connection id.
func (s *SessionRegistry) Remove(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connectionID)
}

// Snapshot returns a point-in-time copy of all live sessions.
func (s *SessionRegistry) Snapshot() []gwmodels.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gwmodels.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Len reports the current number of live sessions.
func (s *SessionRegistry) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func newConnectedAt() time.Time { return time.Now() }
