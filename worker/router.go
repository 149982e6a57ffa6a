package worker

import (
	"slices"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/flow"
	"github.com/hupe1980/codepipe/model"
	"github.com/hupe1980/codepipe/tool"
)

// RouterWorker is a model-driven coordinator. Its model sees the names and
// descriptions of the sub-workers and delegates through the
// transfer_to_worker tool; after each delegation control returns to the
// router until it answers in plain text.
type RouterWorker struct {
	modelWorker
	subWorkers []core.Worker
	resultKeys []string
	flow       *flow.Flow
}

// NewRouterWorker builds a router over the given sub-workers.
func NewRouterWorker(name string, llm model.Model, subWorkers []core.Worker, optFns ...func(o *ModelOptions)) (*RouterWorker, error) {
	opts := defaultModelOptions(name)
	for _, fn := range optFns {
		fn(&opts)
	}

	base, err := newModelWorker(name, llm, opts)
	if err != nil {
		return nil, err
	}

	for _, t := range base.tools {
		if t.Name() == tool.TransferToolName {
			return nil, core.NewConfigurationError(name, "tools", "tool name "+tool.TransferToolName+" is reserved")
		}
	}

	if err := validateChildren(name, "sub_workers", subWorkers); err != nil {
		return nil, err
	}

	w := &RouterWorker{modelWorker: base, subWorkers: slices.Clone(subWorkers), resultKeys: slices.Clone(opts.ResultKeys)}
	w.flow = flow.New(w)

	return w, nil
}

// SubWorkers returns the delegation targets in declared order.
func (w *RouterWorker) SubWorkers() []core.Worker { return slices.Clone(w.subWorkers) }

// FindWorker searches the router and its sub-workers depth-first.
func (w *RouterWorker) FindWorker(name string) core.Worker { return findIn(w, w.subWorkers, name) }

// Run alternates router turns and delegations. When the router answers
// without delegating, the delegated outputs, the configured result values
// and finally its own answer are emitted as the result.
func (w *RouterWorker) Run(rc *core.RunContext) error {
	rc.LogInfo("worker.router.start", "worker", w.name, "sub_workers", len(w.subWorkers))

	if err := rc.RefreshSession(); err != nil {
		return err
	}
	start := rc.Session.EventCount()

	var texts, names []string

	for {
		res, err := w.flow.Run(rc)
		if err != nil {
			return handleFailure(rc, w.name, err)
		}

		if res.Escalated {
			rc.LogInfo("worker.router.escalated", "worker", w.name)
			return nil
		}

		if len(res.Transfers) == 0 {
			results, err := collectResults(rc, start, w.resultKeys)
			if err != nil {
				return err
			}

			texts = append(texts, results...)
			texts = append(texts, res.Text())
			names = append(names, w.name)

			rc.LogInfo("worker.router.complete", "worker", w.name, "delegations", len(names)-1)

			return emitResult(rc, w.name, texts, names)
		}

		for _, sub := range w.ordered(res.Transfers) {
			rc.LogInfo("worker.router.transfer", "worker", w.name, "to_worker", sub.Name())

			stageRes, err := runStage(rc, sub)
			if err != nil {
				return handleFailure(rc, w.name, err)
			}

			if stageRes.escalated {
				return nil
			}

			if err := recordOutput(rc, sub, stageRes.text); err != nil {
				return err
			}

			texts = append(texts, stageRes.text)
			names = append(names, sub.Name())
		}
	}
}

// ordered resolves requested transfers to sub-workers in declared order,
// dropping duplicates.
func (w *RouterWorker) ordered(requested []string) []core.Worker {
	var out []core.Worker
	for _, sub := range w.subWorkers {
		if slices.Contains(requested, sub.Name()) {
			out = append(out, sub)
		}
	}
	return out
}
