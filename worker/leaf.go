package worker

import (
	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/flow"
	"github.com/hupe1980/codepipe/model"
)

// LeafWorker answers with its model, calling bound tools as requested. It
// never delegates.
type LeafWorker struct {
	modelWorker
	flow *flow.Flow
}

// NewLeafWorker builds a leaf worker. An instruction is required.
//
//	generator, err := worker.NewLeafWorker("generator", llm,
//	    worker.WithInstruction("Write a Node.js sample using {{.grounding}}."),
//	    worker.WithTools(generateTool),
//	)
func NewLeafWorker(name string, llm model.Model, optFns ...func(o *ModelOptions)) (*LeafWorker, error) {
	opts := defaultModelOptions(name)
	for _, fn := range optFns {
		fn(&opts)
	}

	base, err := newModelWorker(name, llm, opts)
	if err != nil {
		return nil, err
	}

	w := &LeafWorker{modelWorker: base}
	w.flow = flow.New(w)

	return w, nil
}

// SubWorkers returns nil; leaves have no children.
func (w *LeafWorker) SubWorkers() []core.Worker { return nil }

// FindWorker returns w if the name matches.
func (w *LeafWorker) FindWorker(name string) core.Worker {
	if name == w.name {
		return w
	}
	return nil
}

// Run executes model turns until the worker produces its final answer. Tool
// and model failures are returned for the coordinator to escalate.
func (w *LeafWorker) Run(rc *core.RunContext) error {
	rc.LogDebug("worker.leaf.start", "worker", w.name, "model", w.modelRef)

	res, err := w.flow.Run(rc)
	if err != nil {
		return err
	}

	rc.LogDebug("worker.leaf.complete", "worker", w.name, "escalated", res.Escalated, "length", len(res.Text()))

	return nil
}
