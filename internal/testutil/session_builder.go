package testutil

import (
	"maps"

	"github.com/hupe1980/codepipe/core"
)

// DefaultKey is the session key used by builders and the Harness.
var DefaultKey = core.SessionKey{AppName: "test-app", UserID: "test-user", SessionID: "test-session"}

// SessionBuilder helps construct sessions with fluent chaining.
//
//	sess := NewSessionBuilder("sess-1").State("k", "v").Events(ev1, ev2).Build()
type SessionBuilder struct {
	key    core.SessionKey
	state  map[string]any
	events []core.Event
}

// NewSessionBuilder creates a builder for DefaultKey with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	key := DefaultKey
	key.SessionID = id
	return &SessionBuilder{key: key, state: map[string]any{}}
}

// State sets a state key/value pair.
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// Event appends a single event.
func (b *SessionBuilder) Event(ev core.Event) *SessionBuilder {
	b.events = append(b.events, ev)
	return b
}

// Events appends multiple events.
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Build returns the session.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.key)
	maps.Copy(s.State, b.state)
	s.Events = append(s.Events, b.events...)
	return s
}
