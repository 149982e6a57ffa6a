package core

import (
	"context"
	"maps"

	"github.com/hupe1980/codepipe/logging"
)

// ToolContext is the surface a tool implementation sees while it runs. It
// accumulates EventActions (state deltas, transfers, escalation, artifact
// sizes) that the flow attaches to the tool's response event.
type ToolContext struct {
	runCtx         *RunContext
	functionCallID string
	eventActions   EventActions

	*loggerAdapter
}

// NewToolContext binds a tool invocation to its parent RunContext.
func NewToolContext(runCtx *RunContext, functionCallID string) *ToolContext {
	return &ToolContext{
		runCtx:         runCtx,
		functionCallID: functionCallID,
		eventActions:   EventActions{},
		loggerAdapter:  newLoggerAdapter(runCtx.Logger()),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.runCtx.Context }

// SessionID returns the session ID associated with the tool invocation.
func (tc *ToolContext) SessionID() string { return tc.runCtx.SessionID() }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the id of the originating function call.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// WorkerName returns the name of the calling worker.
func (tc *ToolContext) WorkerName() string { return tc.runCtx.Worker.Name }

// GetState retrieves the state associated with the given key.
func (tc *ToolContext) GetState(k string) (any, bool) {
	return tc.runCtx.GetState(k)
}

// GetStateString returns a string state value or "".
func (tc *ToolContext) GetStateString(k string) string {
	return tc.runCtx.GetStateString(k)
}

// SetState records a state mutation on the run context (immediately visible
// to later reads) and in the local delta attached to the response event.
func (tc *ToolContext) SetState(k string, v any) {
	tc.runCtx.SetState(k, v)
	if tc.eventActions.StateDelta == nil {
		tc.eventActions.StateDelta = map[string]any{}
	}

	tc.eventActions.StateDelta[k] = v
}

// Actions returns the event actions accumulated so far.
func (tc *ToolContext) Actions() *EventActions { return &tc.eventActions }

// TransferToWorker asks the calling router to hand control to a sub-worker.
func (tc *ToolContext) TransferToWorker(name string) {
	tc.eventActions.TransferToWorker = &name
	tc.LogInfo("tool.transfer.request", "from_worker", tc.WorkerName(), "to_worker", name, "function_call_id", tc.functionCallID)
}

// Escalate marks the response event as an escalation.
func (tc *ToolContext) Escalate() {
	b := true
	tc.eventActions.Escalate = &b

	tc.LogInfo("tool.escalate.request", "worker", tc.WorkerName(), "function_call_id", tc.functionCallID)
}

// SaveArtifact persists artifact bytes and records the delta size.
func (tc *ToolContext) SaveArtifact(id string, data []byte) error {
	if tc.runCtx.ArtifactStore == nil {
		return errArtifactStoreMissing
	}

	if err := tc.runCtx.ArtifactStore.Save(tc.runCtx.Key, id, data); err != nil {
		return err
	}

	if tc.eventActions.ArtifactDelta == nil {
		tc.eventActions.ArtifactDelta = map[string]int{}
	}

	tc.eventActions.ArtifactDelta[id] = len(data)

	return nil
}

// LoadArtifact retrieves a persisted artifact by id.
func (tc *ToolContext) LoadArtifact(id string) ([]byte, error) {
	return tc.runCtx.GetArtifact(id)
}

// ApplyActions merges the accumulated EventActions into ev.
func (tc *ToolContext) ApplyActions(ev *Event) {
	if len(tc.eventActions.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		maps.Copy(ev.Actions.StateDelta, tc.eventActions.StateDelta)
	}

	if len(tc.eventActions.ArtifactDelta) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		maps.Copy(ev.Actions.ArtifactDelta, tc.eventActions.ArtifactDelta)
	}

	if tc.eventActions.TransferToWorker != nil {
		ev.Actions.TransferToWorker = tc.eventActions.TransferToWorker

		tc.LogDebug("tool.transfer.applied", "from_worker", tc.WorkerName(), "to_worker", *tc.eventActions.TransferToWorker)
	}

	if tc.eventActions.Escalate != nil {
		ev.Actions.Escalate = tc.eventActions.Escalate

		tc.LogDebug("tool.escalate.applied", "worker", tc.WorkerName())
	}
}
