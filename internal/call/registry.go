package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the authoritative in-memory store of all sessions not yet in
// Ended state, keyed by stable session ID. It also maintains a participant
// index so signaling and double-dial prevention never depend on transient
// connection identifiers.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[string]string // participant -> session ID
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byUser: make(map[string]string),
	}
}

// Create mints a new session in Ringing. It fails with ErrDuplicateSession
// if any participant (payer or callee) is already party to an active
// session.
func (r *Registry) Create(payerID string, calleeIDs []string, callType Type) (*Session, error) {
	if payerID == "" || len(calleeIDs) == 0 {
		return nil, ErrInvalidArgument
	}

	participants := make([]string, 0, len(calleeIDs)+1)
	seen := map[string]struct{}{payerID: {}}
	participants = append(participants, payerID)
	for _, id := range calleeIDs {
		if id == "" {
			return nil, ErrInvalidArgument
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: a call needs a callee other than the payer", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range participants {
		if sid, busy := r.byUser[id]; busy {
			return nil, fmt.Errorf("%w: %s is in session %s", ErrDuplicateSession, id, sid)
		}
	}

	s := &Session{
		ID:           uuid.NewString(),
		PayerID:      payerID,
		Participants: participants,
		Type:         callType,
		CreatedAt:    time.Now().UTC(),
		State:        StateRinging,
	}
	r.byID[s.ID] = s
	for _, id := range participants {
		r.byUser[id] = s.ID
	}
	return s, nil
}

// Get returns the session or ErrSessionNotFound.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops the session and its participant index entries. Idempotent;
// a no-op for unknown IDs.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return
	}
	delete(r.byID, sessionID)
	for _, id := range s.Participants {
		// Only clear index entries still pointing at this session.
		if r.byUser[id] == sessionID {
			delete(r.byUser, id)
		}
	}
}

// FindByParticipant returns the active session a user is party to, if any.
func (r *Registry) FindByParticipant(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	s, ok := r.byID[sid]
	return s, ok
}

// Len is the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshots returns a point-in-time view of all active sessions.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}
