package core

import "strings"

// Part is one segment of role-based content. The unexported marker method
// keeps the set of part kinds closed.
type Part interface{ isPart() }

// TextPart is a plain text segment.
type TextPart struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (TextPart) isPart() {}

// DataPart is a structured segment, e.g. a parsed evaluation result.
type DataPart struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (DataPart) isPart() {}

// FunctionCall is a tool invocation requested by a model.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON object
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall   `json:"function_call"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (FunctionCallPart) isPart() {}

// FunctionResponse is the outcome of a FunctionCall.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"` // matches FunctionCall.ID
	Name     string `json:"name"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse `json:"function_response"`
	Metadata         map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (FunctionResponsePart) isPart() {}

// Content holds a role plus ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // user, assistant, tool, system
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single text part content for role.
func NewTextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts in order.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// FirstText returns the text of the first text part, if any.
func (c Content) FirstText() (string, bool) {
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			return tp.Text, true
		}
	}
	return "", false
}
