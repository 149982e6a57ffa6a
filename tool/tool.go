// Package tool implements the function / tool calling subsystem that lets
// workers invoke structured capabilities (collaborators, computations,
// side-effects) with schema validated arguments and consistent errors.
package tool

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/internal/util"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// Tool is a named capability a worker's model may call.
//
// Implementations should be stateless: the same arguments against the same
// collaborators yield the same result. Anything a tool wants to persist goes
// through the ToolContext (session state, artifacts).
type Tool interface {
	// Name returns the unique identifier (snake_case) exposed to the model.
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns the JSON schema of the accepted arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// StreamingTool is a Tool whose output arrives as a sequence of text chunks.
// Every Stream call yields a fresh, finite sequence; a yielded error ends
// it.
type StreamingTool interface {
	Tool

	Stream(toolCtx *core.ToolContext, args map[string]any) iter.Seq2[string, error]
}

// Collect concatenates the chunks of seq, stopping at the first error.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// ValidationError represents parameter validation errors.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.cause }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// wrapExecError normalizes err into a *ToolError, preserving an existing one.
func wrapExecError(tool string, err error) *ToolError {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}

	return &ToolError{Tool: tool, Message: err.Error(), Code: CodeExecution, cause: err}
}
