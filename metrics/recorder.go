package metrics

import "time"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeEscalated = "escalated"
	OutcomeError     = "error"
)

// Recorder receives pipeline measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RunFinished records one completed run.
	RunFinished(outcome string, d time.Duration)
	// StageFinished records one worker stage of a run.
	StageFinished(stage, outcome string, d time.Duration)
	// ToolCalled records one tool invocation.
	ToolCalled(tool, status string)
	// ModelCalled records one model request.
	ModelCalled(model, status string)
}

// NoOp discards all measurements.
type NoOp struct{}

func (NoOp) RunFinished(string, time.Duration)           {}
func (NoOp) StageFinished(string, string, time.Duration) {}
func (NoOp) ToolCalled(string, string)                   {}
func (NoOp) ModelCalled(string, string)                  {}
