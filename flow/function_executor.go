package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/internal/tracing"
	"github.com/hupe1980/codepipe/metrics"
	"github.com/hupe1980/codepipe/tool"
)

// ExecuteResult reports the control signals raised by a batch of tool calls.
type ExecuteResult struct {
	Transfers []string
	Escalated bool
}

// FunctionExecutor runs the function calls of one model turn strictly in
// order. It:
//   - publishes exactly one FunctionResponse event per executed call
//   - applies ToolContext actions to that event
//   - recovers tool panics into errors
//   - stops at the first failing tool, returning *core.ToolInvocationError
//     after the failed response has been published
//   - stops after a tool escalates
type FunctionExecutor struct {
	timeout time.Duration
}

// NewFunctionExecutor constructs an executor; timeout <= 0 disables the
// per-call timeout.
func NewFunctionExecutor(timeout time.Duration) *FunctionExecutor {
	return &FunctionExecutor{timeout: timeout}
}

// Execute runs calls against registry on behalf of worker.
func (e *FunctionExecutor) Execute(
	runCtx *core.RunContext,
	worker string,
	registry map[string]tool.Tool,
	calls []core.FunctionCall,
) (ExecuteResult, error) {
	var res ExecuteResult

	start := time.Now()

	for _, fc := range calls {
		if err := runCtx.Err(); err != nil {
			return res, err
		}

		respEv, err := e.executeSingle(runCtx, worker, registry, fc)

		if pubErr := runCtx.Publish(respEv); pubErr != nil {
			return res, pubErr
		}

		if err != nil {
			if ctxErr := runCtx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			return res, &core.ToolInvocationError{Worker: worker, Tool: fc.Name, Err: err}
		}

		if target := respEv.Actions.TransferToWorker; target != nil {
			res.Transfers = append(res.Transfers, *target)
		}

		if respEv.IsEscalation() {
			res.Escalated = true
			break
		}
	}

	runCtx.LogDebug(
		"worker.functions.batch.complete",
		"worker", worker,
		"count", len(calls),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return res, nil
}

func (e *FunctionExecutor) executeSingle(
	runCtx *core.RunContext,
	worker string,
	registry map[string]tool.Tool,
	fc core.FunctionCall,
) (core.Event, error) {
	ctx, span := tracing.StartToolCall(runCtx.Context, worker, fc.Name)

	var cancel context.CancelFunc = func() {}
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	callCtx := runCtx.Clone()
	callCtx.Context = ctx

	toolCtx := core.NewToolContext(callCtx, fc.ID)

	start := time.Now()

	var (
		result any
		err    error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				runCtx.LogError("worker.function.panic", "worker", worker, "function", fc.Name, "recover", r)
			}
		}()
		result, err = executeTool(registry, toolCtx, fc.Name, fc.Arguments)
	}()

	status := metrics.OutcomeSuccess
	if err != nil {
		status = metrics.OutcomeError
	}

	tracing.End(span, status, err)
	runCtx.Metrics.ToolCalled(fc.Name, status)

	runCtx.LogInfo(
		"worker.function.executed",
		"worker", worker,
		"function", fc.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	respEv := core.NewFunctionResponseEvent(runCtx.RunID, worker, fc.ID, fc.Name, result, err)
	toolCtx.ApplyActions(&respEv)

	return respEv, err
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }

// executeTool centralizes tool lookup & argument decoding.
func executeTool(registry map[string]tool.Tool, toolCtx *core.ToolContext, name, args string) (any, error) {
	impl, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}

	argMap := map[string]any{}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}

	return impl.Call(toolCtx, argMap)
}
