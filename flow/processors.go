package flow

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/internal/util"
	"github.com/hupe1980/codepipe/model"
	"github.com/hupe1980/codepipe/tool"
)

// InstructionsProcessor resolves the worker instruction and renders it as a
// template against the current session state.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets req.Instructions.
func (p *InstructionsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, w FlowWorker) error {
	instructions, err := w.ResolveInstructions(runCtx)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}

	state := map[string]any{}
	if runCtx.Session != nil {
		state = runCtx.Session.StateSnapshot()
	}
	maps.Copy(state, runCtx.StateDelta)

	rendered, err := util.RenderTemplate(instructions, state)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	runCtx.LogDebug("worker.instruction.resolved", "worker", w.Name(), "length", len(rendered))

	req.Instructions = rendered

	return nil
}

// ContentsProcessor assembles the conversation: the instructions as a system
// turn followed by the (windowed) session history.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest sets req.Contents.
func (p *ContentsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, w FlowWorker) error {
	contents := []core.Content{core.NewTextContent("system", req.Instructions)}

	if runCtx.Session == nil {
		req.Contents = append(contents, runCtx.UserContent)
		return nil
	}

	events := runCtx.Session.GetConversationHistory()
	if limit := w.MaxHistoryMessages(); limit > 0 && len(events) > limit {
		events = trimOrphanedToolTurns(events[len(events)-limit:])
	}

	for _, ev := range events {
		if ev.Content != nil && len(ev.Content.Parts) > 0 {
			contents = append(contents, *ev.Content)
		}
	}

	req.Contents = contents

	return nil
}

// trimOrphanedToolTurns drops leading events a model cannot accept at the
// start of a window: tool responses whose call was cut off, and calls
// without a matching response inside the window.
func trimOrphanedToolTurns(events []core.Event) []core.Event {
	for len(events) > 0 {
		head := events[0]

		if head.Content.Role == "tool" || len(head.GetFunctionResponses()) > 0 {
			events = events[1:]
			continue
		}

		if calls := head.GetFunctionCalls(); len(calls) > 0 && !allAnswered(calls, events[1:]) {
			events = events[1:]
			continue
		}

		break
	}

	return events
}

func allAnswered(calls []core.FunctionCall, rest []core.Event) bool {
	answered := make(map[string]bool)
	for _, ev := range rest {
		for _, fr := range ev.GetFunctionResponses() {
			answered[fr.ID] = true
		}
	}

	for _, fc := range calls {
		if !answered[fc.ID] {
			return false
		}
	}

	return true
}

// TransferToolInjector exposes a router's sub-workers to its model: it
// appends a roster to the instructions and adds the transfer_to_worker tool.
type TransferToolInjector struct{}

// NewTransferToolInjector creates a new transfer injector.
func NewTransferToolInjector() *TransferToolInjector { return &TransferToolInjector{} }

// Name returns the processor's identifier.
func (p *TransferToolInjector) Name() string { return "transfer_injector" }

const rosterHeader = "You can delegate to the following workers by calling " + tool.TransferToolName + ":"

// ProcessRequest is idempotent: repeated calls do not duplicate the roster
// or the tool definition.
func (p *TransferToolInjector) ProcessRequest(_ *core.RunContext, req *model.Request, w FlowWorker) error {
	subs := w.SubWorkers()
	if len(subs) == 0 {
		return nil
	}

	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.Name()
	}

	hasTool := slices.ContainsFunc(req.Tools, func(td model.ToolDefinition) bool {
		return td.Function.Name == tool.TransferToolName
	})
	if !hasTool {
		req.Tools = append(req.Tools, Definition(tool.NewTransferToWorkerTool(names...)))
	}

	if strings.Contains(req.Instructions, rosterHeader) {
		return nil
	}

	var b strings.Builder
	b.WriteString(req.Instructions)
	if req.Instructions != "" {
		b.WriteString("\n\n")
	}
	b.WriteString(rosterHeader)
	for _, s := range subs {
		fmt.Fprintf(&b, "\n- %s: %s", s.Name(), s.Description())
	}
	b.WriteString("\nWhen several workers are needed, call them in the order listed.")

	req.Instructions = b.String()

	return nil
}
