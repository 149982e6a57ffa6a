package core

import (
	"maps"
	"sync"
	"time"
)

// SessionKey identifies a session. All three parts are required.
type SessionKey struct {
	AppName   string
	UserID    string
	SessionID string
}

// Session is the per-run state container: a key/value State map plus an
// append-only, ordered event log. It is safe for concurrent access and
// readers always receive copies.
type Session struct {
	AppName string         `json:"app_name"`
	UserID  string         `json:"user_id"`
	ID      string         `json:"id"`
	State   map[string]any `json:"state"`
	Events  []Event        `json:"events"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
	mu      sync.RWMutex
}

// NewSession creates an empty session for key.
func NewSession(key SessionKey) *Session {
	now := time.Now()
	return &Session{
		AppName: key.AppName,
		UserID:  key.UserID,
		ID:      key.SessionID,
		State:   map[string]any{},
		Events:  []Event{},
		Created: now,
		Updated: now,
	}
}

// Key returns the session's identifying key.
func (s *Session) Key() SessionKey {
	return SessionKey{AppName: s.AppName, UserID: s.UserID, SessionID: s.ID}
}

// GetState returns the value for key and whether it exists.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// SetState sets one state key.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State[key] = value
	s.Updated = time.Now()
}

// ApplyStateDelta merges delta into State.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.State, delta)
	s.Updated = time.Now()
}

// StateSnapshot returns a shallow copy of State.
func (s *Session) StateSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.State)
}

// AddEvent appends ev to the log. Past events are never modified.
func (s *Session) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
	s.Updated = time.Now()
}

// EventCount returns the number of appended events.
func (s *Session) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Events)
}

// GetEvents returns a copy of the event log.
func (s *Session) GetEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	return events
}

// GetConversationHistory returns events suitable as model context: content
// with a user, assistant or tool role, excluding partial fragments.
func (s *Session) GetConversationHistory() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := map[string]bool{"user": true, "assistant": true, "tool": true}
	res := make([]Event, 0, len(s.Events))
	for _, ev := range s.Events {
		if ev.Content == nil || !allowed[ev.Content.Role] {
			continue
		}
		if ev.IsPartial() {
			continue
		}
		res = append(res, ev)
	}
	return res
}

// Clone returns a copy safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		AppName: s.AppName,
		UserID:  s.UserID,
		ID:      s.ID,
		State:   maps.Clone(s.State),
		Events:  make([]Event, len(s.Events)),
		Created: s.Created,
		Updated: s.Updated,
	}
	copy(clone.Events, s.Events)
	return clone
}

// SessionStore owns sessions and mediates every mutation.
type SessionStore interface {
	// Create registers a new session. It fails with *DuplicateSessionError
	// if the key already exists.
	Create(key SessionKey, state map[string]any) (*Session, error)
	// Get returns a snapshot or ErrSessionNotFound.
	Get(key SessionKey) (*Session, error)
	// AppendEvent appends ev to the session log.
	AppendEvent(key SessionKey, ev Event) error
	// ApplyDelta merges delta into the session state.
	ApplyDelta(key SessionKey, delta map[string]any) error
}
