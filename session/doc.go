// Package session houses concrete implementations of core.SessionStore.
// The interface and the Session type live in core so higher level packages
// (workers, runner) never depend on a concrete storage backend.
//
// InMemoryStore is process local and transient: sessions do not survive a
// restart.
package session
