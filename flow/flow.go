// Package flow drives the model turn loop of a worker: it assembles the
// model request from instructions and session history, invokes the model,
// executes requested tools and reports transfers back to the caller.
//
// A flow is synchronous. Every non-partial event is published through the
// RunContext, which waits for the runner to persist it before the next turn
// so the model always sees the complete conversation.
package flow

import (
	"time"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/model"
	"github.com/hupe1980/codepipe/tool"
)

// FlowWorker is the view of a worker that a flow needs.
type FlowWorker interface {
	// Name returns the worker name used as event author.
	Name() string

	// Model returns the bound model.
	Model() model.Model

	// ResolveInstructions produces the raw instruction template.
	ResolveInstructions(runCtx *core.RunContext) (string, error)

	// Tools returns the bound tools in declaration order.
	Tools() []tool.Tool

	// SubWorkers returns delegation targets; empty for leaves.
	SubWorkers() []core.Worker

	// IsStreamingEnabled reports whether partial model output is requested.
	IsStreamingEnabled() bool

	// OutputKey is the state key receiving the final response text.
	OutputKey() string

	// MaxHistoryMessages bounds the history sent to the model (<= 0: all).
	MaxHistoryMessages() int

	// ToolTimeout bounds a single tool call (<= 0: no timeout).
	ToolTimeout() time.Duration
}

// RequestProcessor processes the request before sending it to the model.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request before model execution.
	ProcessRequest(runCtx *core.RunContext, req *model.Request, w FlowWorker) error
}

// Result summarizes a completed flow.
type Result struct {
	// Final is the worker's final response; nil when the flow stopped for
	// transfers or an escalation.
	Final *core.Event
	// Transfers lists requested sub-worker handoffs in call order.
	Transfers []string
	// Escalated is set when a tool asked to escalate.
	Escalated bool
}

// Text returns the final response text, or "".
func (r Result) Text() string {
	if r.Final == nil || r.Final.Content == nil {
		return ""
	}
	return r.Final.Content.Text()
}

// Definition converts a tool into the model-facing definition.
func Definition(t tool.Tool) model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
