package core

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by SessionStore lookups for unknown keys.
var ErrSessionNotFound = errors.New("session not found")

// Error codes attached to escalation events.
const (
	ErrorCodeToolInvocation   = "TOOL_INVOCATION_ERROR"
	ErrorCodeModelUnavailable = "MODEL_UNAVAILABLE"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)

// ConfigurationError reports an invalid worker or pipeline setup. It is
// returned at assembly time and aborts construction.
type ConfigurationError struct {
	Worker string // Worker (or component) being built
	Field  string // Offending field, if any
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error in %q (%s): %s", e.Worker, e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error in %q: %s", e.Worker, e.Reason)
}

// NewConfigurationError is a shorthand constructor.
func NewConfigurationError(worker, field, reason string) *ConfigurationError {
	return &ConfigurationError{Worker: worker, Field: field, Reason: reason}
}

// ToolInvocationError reports that a bound tool failed during a worker turn.
type ToolInvocationError struct {
	Worker string
	Tool   string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("worker %q: tool %q failed: %v", e.Worker, e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// ModelUnavailableError reports that a model call could not complete.
type ModelUnavailableError struct {
	Worker string
	Model  string
	Err    error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("worker %q: model %q unavailable: %v", e.Worker, e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// DuplicateSessionError is returned when creating a session whose key
// already exists.
type DuplicateSessionError struct {
	AppName   string
	UserID    string
	SessionID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session %q already exists for app %q and user %q", e.SessionID, e.AppName, e.UserID)
}

// EscalationCode classifies err for an escalation event. The boolean is
// false for errors that must not be turned into an escalation (for example
// context cancellation).
func EscalationCode(err error) (string, bool) {
	var toolErr *ToolInvocationError
	if errors.As(err, &toolErr) {
		return ErrorCodeToolInvocation, true
	}

	var modelErr *ModelUnavailableError
	if errors.As(err, &modelErr) {
		return ErrorCodeModelUnavailable, true
	}

	return "", false
}
