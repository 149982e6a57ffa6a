package tool

import (
	"fmt"
	"slices"

	"github.com/hupe1980/codepipe/core"
)

// TransferToolName is the name routers expose for delegation.
const TransferToolName = "transfer_to_worker"

// transferToWorkerTool requests a handoff to one of a fixed set of
// sub-workers.
type transferToWorkerTool struct {
	targets []string
}

// NewTransferToWorkerTool builds the transfer tool restricted to the given
// worker names.
func NewTransferToWorkerTool(targets ...string) Tool {
	return &transferToWorkerTool{targets: slices.Clone(targets)}
}

func (t *transferToWorkerTool) Name() string { return TransferToolName }

func (t *transferToWorkerTool) Description() string {
	return "Transfer control to the named sub-worker. Use it when another worker is better suited for the next step."
}

func (t *transferToWorkerTool) Parameters() map[string]any {
	name := map[string]any{"type": "string", "description": "Target worker name"}
	if len(t.targets) > 0 {
		name["enum"] = t.targets
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"worker_name": name,
		},
		"required": []string{"worker_name"},
	}
}

func (t *transferToWorkerTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	name, ok := args["worker_name"].(string)
	if !ok || name == "" {
		return nil, NewToolError(TransferToolName, "field 'worker_name' must be a non-empty string", CodeValidation)
	}

	if len(t.targets) > 0 && !slices.Contains(t.targets, name) {
		return nil, NewToolError(TransferToolName, fmt.Sprintf("unknown worker %q", name), CodeValidation)
	}

	tc.TransferToWorker(name)

	return map[string]any{"transferred": true, "worker_name": name}, nil
}
