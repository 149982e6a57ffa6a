package worker

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/codepipe/core"
)

// SequenceOptions configures a Sequence.
type SequenceOptions struct {
	Description string
	// OutputKey receives the joined stage outputs when the sequence is
	// nested; defaults to <name>_output.
	OutputKey string
	// ResultKeys name state values written during the run that are
	// appended to the result after the stage outputs.
	ResultKeys []string
}

// Sequence runs its stages strictly in order on a shared session. Each
// stage sees everything earlier stages emitted and the state they left
// behind; a stage's final text is stored under its output key.
type Sequence struct {
	name        string
	description string
	outputKey   string
	resultKeys  []string
	stages      []core.Worker
}

// NewSequence builds a strict-sequence coordinator.
//
//	seq, err := worker.NewSequence("pipeline", []core.Worker{grounding, generator, evaluator})
func NewSequence(name string, stages []core.Worker, optFns ...func(o *SequenceOptions)) (*Sequence, error) {
	opts := SequenceOptions{
		Description: fmt.Sprintf("Sequence %s", name),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if strings.TrimSpace(name) == "" {
		return nil, core.NewConfigurationError(name, "name", "must not be empty")
	}

	if err := validateChildren(name, "stages", stages); err != nil {
		return nil, err
	}

	outputKey := opts.OutputKey
	if outputKey == "" {
		outputKey = name + "_output"
	}

	return &Sequence{
		name:        name,
		description: opts.Description,
		outputKey:   outputKey,
		resultKeys:  slices.Clone(opts.ResultKeys),
		stages:      slices.Clone(stages),
	}, nil
}

// Name returns the sequence name.
func (s *Sequence) Name() string { return s.name }

// Description returns the description.
func (s *Sequence) Description() string { return s.description }

// OutputKey returns the state key used when the sequence is nested.
func (s *Sequence) OutputKey() string { return s.outputKey }

// SubWorkers returns the stages in order.
func (s *Sequence) SubWorkers() []core.Worker { return slices.Clone(s.stages) }

// FindWorker searches the sequence and its stages depth-first.
func (s *Sequence) FindWorker(name string) core.Worker { return findIn(s, s.stages, name) }

// Run executes every stage in order. A stage failure or escalation ends the
// sequence early with an escalation event; otherwise the collected outputs
// are emitted once the last stage finished.
func (s *Sequence) Run(rc *core.RunContext) error {
	rc.LogInfo("worker.sequence.start", "worker", s.name, "stages", len(s.stages))

	if err := rc.RefreshSession(); err != nil {
		return err
	}
	start := rc.Session.EventCount()

	texts := make([]string, 0, len(s.stages))
	names := make([]string, 0, len(s.stages))

	for i, stage := range s.stages {
		if err := rc.Err(); err != nil {
			return err
		}

		res, err := runStage(rc, stage)
		if err != nil {
			return handleFailure(rc, s.name, err)
		}

		if res.escalated {
			rc.LogInfo("worker.sequence.escalated", "worker", s.name, "stage", stage.Name(), "index", i)
			return nil
		}

		if err := recordOutput(rc, stage, res.text); err != nil {
			return err
		}

		texts = append(texts, res.text)
		names = append(names, stage.Name())
	}

	results, err := collectResults(rc, start, s.resultKeys)
	if err != nil {
		return err
	}

	rc.LogInfo("worker.sequence.complete", "worker", s.name, "results", len(results))

	return emitResult(rc, s.name, append(texts, results...), names)
}
