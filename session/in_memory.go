package session

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/codepipe/core"
)

// ErrInvalidKey is returned when a session key has an empty component.
var ErrInvalidKey = errors.New("session key requires app name, user id and session id")

// InMemoryStore is a volatile SessionStore storing sessions in a process
// local map. It is safe for concurrent access. Every returned session is a
// clone, so callers never observe later mutations.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[core.SessionKey]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[core.SessionKey]*core.Session)}
}

// Create registers a session under key with a copy of state.
func (s *InMemoryStore) Create(key core.SessionKey, state map[string]any) (*core.Session, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[key]; exists {
		return nil, &core.DuplicateSessionError{AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID}
	}

	sess := core.NewSession(key)
	if len(state) > 0 {
		sess.State = maps.Clone(state)
	}

	s.sessions[key] = sess

	return sess.Clone(), nil
}

// Get returns a snapshot of the session or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(key core.SessionKey) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, core.ErrSessionNotFound
	}

	return sess.Clone(), nil
}

// AppendEvent appends ev to the session log.
func (s *InMemoryStore) AppendEvent(key core.SessionKey, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return core.ErrSessionNotFound
	}

	sess.AddEvent(ev)

	return nil
}

// ApplyDelta merges delta into the session state.
func (s *InMemoryStore) ApplyDelta(key core.SessionKey, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return core.ErrSessionNotFound
	}

	sess.ApplyStateDelta(delta)

	return nil
}

// List returns snapshots of all sessions of a user, ordered by session id.
func (s *InMemoryStore) List(appName, userID string) []*core.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Session
	for key, sess := range s.sessions {
		if key.AppName == appName && key.UserID == userID {
			out = append(out, sess.Clone())
		}
	}

	slices.SortFunc(out, func(a, b *core.Session) int { return strings.Compare(a.ID, b.ID) })

	return out
}

// Delete removes a session.
func (s *InMemoryStore) Delete(key core.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; !ok {
		return core.ErrSessionNotFound
	}

	delete(s.sessions, key)

	return nil
}

func validateKey(key core.SessionKey) error {
	if key.AppName == "" || key.UserID == "" || key.SessionID == "" {
		return ErrInvalidKey
	}
	return nil
}
