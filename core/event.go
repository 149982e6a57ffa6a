package core

import (
	"time"

	"github.com/google/uuid"
)

// UserAuthor is the author of events carrying caller input.
const UserAuthor = "user"

// NoFinalResponseText is reported when a run ends without any answer.
const NoFinalResponseText = "Agent did not produce a final response."

// EventActions carries side-channel signals attached to an Event. Pointer
// fields distinguish "not set" from the zero value.
type EventActions struct {
	StateDelta       map[string]any `json:"state_delta,omitempty" yaml:"state_delta,omitempty"`
	ArtifactDelta    map[string]int `json:"artifact_delta,omitempty" yaml:"artifact_delta,omitempty"`
	TransferToWorker *string        `json:"transfer_to_worker,omitempty" yaml:"transfer_to_worker,omitempty"`
	Escalate         *bool          `json:"escalate,omitempty" yaml:"escalate,omitempty"`
}

// Event is one step of a run's history: a message, a tool call or result,
// or a terminal marker. Treat it as immutable after emission.
type Event struct {
	ID             string            `json:"id"`
	RunID          string            `json:"run_id"`
	Author         string            `json:"author"`
	Actions        EventActions      `json:"actions"`
	Branch         *string           `json:"branch,omitempty" yaml:"branch,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Content        *Content          `json:"content,omitempty" yaml:"content,omitempty"`
	Partial        *bool             `json:"partial,omitempty" yaml:"partial,omitempty"`
	TurnComplete   *bool             `json:"turn_complete,omitempty" yaml:"turn_complete,omitempty"`
	Final          *bool             `json:"final,omitempty" yaml:"final,omitempty"`
	ErrorCode      *string           `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty" yaml:"custom_metadata,omitempty"`
}

// NewEvent creates a bare event authored by author within run runID.
func NewEvent(runID, author string) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Author:    author,
		Timestamp: time.Now().UTC(),
		Actions:   EventActions{},
	}
}

// NewMessageEvent creates an assistant message with a single text part.
func NewMessageEvent(runID, author, message string) Event {
	e := NewEvent(runID, author)
	c := NewTextContent("assistant", message)
	e.Content = &c
	return e
}

// NewUserMessageEvent creates a user-authored text message.
func NewUserMessageEvent(runID, message string) Event {
	e := NewEvent(runID, UserAuthor)
	c := NewTextContent("user", message)
	e.Content = &c
	return e
}

// NewUserContentEvent creates a user-authored event with arbitrary content.
func NewUserContentEvent(runID string, content *Content) Event {
	e := NewEvent(runID, UserAuthor)
	e.Content = content
	return e
}

// NewFunctionCallEvent records a worker requesting a tool call.
func NewFunctionCallEvent(runID, author string, call FunctionCall) Event {
	e := NewEvent(runID, author)
	e.Content = &Content{
		Role:  "assistant",
		Parts: []Part{FunctionCallPart{FunctionCall: call}},
	}
	return e
}

// NewFunctionResponseEvent records the result (or error) of a tool call.
func NewFunctionResponseEvent(runID, author, id, functionName string, result any, err error) Event {
	e := NewEvent(runID, author)
	fr := FunctionResponse{ID: id, Name: functionName, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	e.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return e
}

// NewTerminalEvent creates the final event of a run carrying content.
func NewTerminalEvent(runID, author string, content Content) Event {
	e := NewEvent(runID, author)
	e.Content = &content
	final, complete := true, true
	e.Final = &final
	e.TurnComplete = &complete
	return e
}

// NewEscalationEvent creates a terminal event signalling that the run could
// not complete normally. It carries no content; the reason is in
// ErrorCode / ErrorMessage.
func NewEscalationEvent(runID, author, code, message string) Event {
	e := NewEvent(runID, author)
	escalate, final := true, true
	e.Actions.Escalate = &escalate
	e.Final = &final
	e.ErrorCode = &code
	e.ErrorMessage = &message
	return e
}

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether this is a streaming fragment.
func (e Event) IsPartial() bool { return e.Partial != nil && *e.Partial }

// IsEscalation reports whether the event carries the escalate action.
func (e Event) IsEscalation() bool { return e.Actions.Escalate != nil && *e.Actions.Escalate }

// IsTerminal reports whether the event ends the run.
func (e Event) IsTerminal() bool {
	return (e.Final != nil && *e.Final) || e.IsEscalation()
}

// GetFunctionCalls returns FunctionCall parts in order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns FunctionResponse parts in order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event is a worker's complete answer
// for its turn: no pending tool calls or results and not a fragment. It is
// distinct from IsTerminal, which marks the end of the whole run.
func (e Event) IsFinalResponse() bool {
	return len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0 &&
		!e.IsPartial()
}

// FinalText extracts the caller-facing answer from the last event of a run:
// the first text part, or the escalation message.
func FinalText(e Event) string {
	if e.Content != nil {
		if text, ok := e.Content.FirstText(); ok {
			return text
		}
	}

	if e.IsEscalation() {
		msg := "No specific message."
		if e.ErrorMessage != nil && *e.ErrorMessage != "" {
			msg = *e.ErrorMessage
		}
		return "Agent escalated: " + msg
	}

	return NoFinalResponseText
}
