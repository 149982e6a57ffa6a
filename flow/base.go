package flow

import (
	"fmt"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/internal/tracing"
	"github.com/hupe1980/codepipe/metrics"
	"github.com/hupe1980/codepipe/model"
	"github.com/hupe1980/codepipe/tool"
)

// Flow runs request -> model -> (tool loop) cycles for one worker with
// pluggable request processors.
type Flow struct {
	worker     FlowWorker
	processors []RequestProcessor
	registry   map[string]tool.Tool
	executor   *FunctionExecutor
}

// New creates a flow for w with the default processors: instructions,
// transfer injection (routers only) and contents.
func New(w FlowWorker) *Flow {
	f := &Flow{
		worker:   w,
		registry: map[string]tool.Tool{},
		executor: NewFunctionExecutor(w.ToolTimeout()),
	}

	for _, t := range w.Tools() {
		f.registry[t.Name()] = t
	}

	f.AddRequestProcessor(NewInstructionsProcessor())

	if subs := w.SubWorkers(); len(subs) > 0 {
		names := make([]string, len(subs))
		for i, s := range subs {
			names[i] = s.Name()
		}
		f.registry[tool.TransferToolName] = tool.NewTransferToWorkerTool(names...)
		f.AddRequestProcessor(NewTransferToolInjector())
	}

	f.AddRequestProcessor(NewContentsProcessor())

	return f
}

// AddRequestProcessor appends a request processor; registration order is
// execution order.
func (f *Flow) AddRequestProcessor(p RequestProcessor) {
	f.processors = append(f.processors, p)
}

// Run executes model turns until the worker produces a final response,
// requests transfers, or a tool escalates.
func (f *Flow) Run(runCtx *core.RunContext) (Result, error) {
	var res Result

	for {
		t, err := f.runOnce(runCtx)
		if err != nil {
			return res, err
		}

		res.Transfers = append(res.Transfers, t.transfers...)

		switch {
		case t.escalated:
			res.Escalated = true
			return res, nil
		case len(t.transfers) > 0:
			return res, nil
		case t.final != nil:
			res.Final = t.final
			return res, nil
		}
	}
}

type turn struct {
	final     *core.Event
	transfers []string
	escalated bool
}

// runOnce performs one model call plus any tool executions it requests.
func (f *Flow) runOnce(runCtx *core.RunContext) (turn, error) {
	if err := runCtx.Err(); err != nil {
		return turn{}, err
	}

	req, err := f.buildRequest(runCtx)
	if err != nil {
		return turn{}, err
	}

	ev, err := f.callModel(runCtx, req)
	if err != nil {
		return turn{}, err
	}

	calls := ev.GetFunctionCalls()
	if len(calls) == 0 {
		return turn{final: ev}, nil
	}

	out, err := f.executor.Execute(runCtx, f.worker.Name(), f.registry, calls)
	if err != nil {
		return turn{}, err
	}

	return turn{transfers: out.Transfers, escalated: out.Escalated}, nil
}

func (f *Flow) buildRequest(runCtx *core.RunContext) (*model.Request, error) {
	req := &model.Request{Stream: f.worker.IsStreamingEnabled()}

	for _, t := range f.worker.Tools() {
		req.Tools = append(req.Tools, Definition(t))
	}

	for _, p := range f.processors {
		if err := p.ProcessRequest(runCtx, req, f.worker); err != nil {
			return nil, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}

	return req, nil
}

// callModel invokes the model, publishes streamed fragments and the final
// response event, and returns the latter.
func (f *Flow) callModel(runCtx *core.RunContext, req *model.Request) (*core.Event, error) {
	name := f.worker.Name()
	llm := f.worker.Model()
	ref := llm.Info().Ref()

	if runCtx.Limiter != nil {
		if err := runCtx.Limiter.Acquire(); err != nil {
			runCtx.Metrics.ModelCalled(ref, "limited")
			return nil, &core.ModelUnavailableError{Worker: name, Model: ref, Err: err}
		}
	}

	ctx, span := tracing.StartModelCall(runCtx.Context, name, ref)

	respCh, errCh := llm.Generate(ctx, *req)

	final, err := f.consume(runCtx, respCh, errCh)
	if err != nil {
		tracing.End(span, metrics.OutcomeError, err)

		if ctxErr := runCtx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		runCtx.Metrics.ModelCalled(ref, metrics.OutcomeError)
		runCtx.LogWarn("flow.model.error", "worker", name, "model", ref, "error", err.Error())

		return nil, &core.ModelUnavailableError{Worker: name, Model: ref, Err: err}
	}

	tracing.End(span, metrics.OutcomeSuccess, nil)
	runCtx.Metrics.ModelCalled(ref, metrics.OutcomeSuccess)

	content := final.Content
	if content.Role == "" {
		content.Role = "assistant"
	}

	ev := core.NewEvent(runCtx.RunID, name)
	ev.Content = &content
	ev.CustomMetadata = map[string]string{"model": ref}
	if final.FinishReason != "" {
		ev.CustomMetadata["finish_reason"] = final.FinishReason
	}

	if len(ev.GetFunctionCalls()) == 0 {
		complete := true
		ev.TurnComplete = &complete

		if key := f.worker.OutputKey(); key != "" {
			runCtx.SetState(key, content.Text())
		}
	}

	if err := runCtx.Publish(ev); err != nil {
		return nil, err
	}

	return &ev, nil
}

// consume drains both model channels, publishing partial fragments as they
// arrive. It returns the last non-partial response.
func (f *Flow) consume(runCtx *core.RunContext, respCh <-chan model.Response, errCh <-chan error) (*model.Response, error) {
	var (
		final  *model.Response
		genErr error
	)

	for respCh != nil || errCh != nil {
		select {
		case <-runCtx.Done():
			return nil, runCtx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}

			if resp.Partial {
				if err := f.publishPartial(runCtx, resp); err != nil {
					return nil, err
				}
				continue
			}

			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && genErr == nil {
				genErr = err
			}
		}
	}

	if genErr != nil {
		return nil, genErr
	}

	if final == nil {
		return nil, model.ErrNoResponse
	}

	return final, nil
}

func (f *Flow) publishPartial(runCtx *core.RunContext, resp model.Response) error {
	content := resp.Content
	if content.Role == "" {
		content.Role = "assistant"
	}

	partial := true
	ev := core.NewEvent(runCtx.RunID, f.worker.Name())
	ev.Content = &content
	ev.Partial = &partial

	return runCtx.Publish(ev)
}
