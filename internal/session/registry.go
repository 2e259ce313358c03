package session

import (
	"fmt"
	"sync"
)

// Registry is the process-wide table of live sessions keyed by call SID.
// It is the only structure shared across sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register claims the call SID for s. A second start event for a live call
// SID indicates provider-level duplicate delivery and is rejected; the
// original session is unaffected.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.CallSid]; exists {
		return fmt.Errorf("call %s already has a live session", s.CallSid)
	}
	r.sessions[s.CallSid] = s
	return nil
}

// Remove drops the entry for callSid. Removing an absent entry is a no-op,
// so finalization stays idempotent.
func (r *Registry) Remove(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callSid)
}

func (r *Registry) Get(callSid string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSid]
	return s, ok
}

// Count returns the number of live sessions (for the health endpoint).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// All returns a snapshot of live sessions, used for shutdown draining.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
