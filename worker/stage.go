package worker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/internal/tracing"
	"github.com/hupe1980/codepipe/metrics"
)

// Worker kinds reported in logs, metrics and spans.
const (
	KindLeaf     = "leaf"
	KindRouter   = "router"
	KindSequence = "sequence"
	KindWorker   = "worker"
)

// stageResult summarizes what a stage left in the session.
type stageResult struct {
	text      string
	escalated bool
}

// runStage runs w in a derived context and inspects the events it produced.
func runStage(rc *core.RunContext, w core.Worker) (stageResult, error) {
	if err := rc.RefreshSession(); err != nil {
		return stageResult{}, fmt.Errorf("refresh session before %q: %w", w.Name(), err)
	}

	start := rc.Session.EventCount()
	kind := kindOf(w)

	child := rc.ForWorker(core.WorkerInfo{Name: w.Name(), Type: kind})

	ctx, span := tracing.StartStage(rc.Context, w.Name(), kind)
	child.Context = ctx

	rc.LogInfo("worker.stage.start", "worker", rc.Worker.Name, "stage", w.Name(), "kind", kind)

	begin := time.Now()
	err := w.Run(child)

	if err != nil {
		rc.Metrics.StageFinished(w.Name(), metrics.OutcomeError, time.Since(begin))
		tracing.End(span, metrics.OutcomeError, err)
		rc.LogError("worker.stage.error", "worker", rc.Worker.Name, "stage", w.Name(), "error", err)

		return stageResult{}, err
	}

	if err := rc.RefreshSession(); err != nil {
		tracing.End(span, metrics.OutcomeError, err)
		return stageResult{}, fmt.Errorf("refresh session after %q: %w", w.Name(), err)
	}

	res := inspect(rc.Session.GetEvents()[start:], w.Name())

	outcome := metrics.OutcomeSuccess
	if res.escalated {
		outcome = metrics.OutcomeEscalated
	}

	rc.Metrics.StageFinished(w.Name(), outcome, time.Since(begin))
	tracing.End(span, outcome, nil)

	rc.LogInfo("worker.stage.complete", "worker", rc.Worker.Name, "stage", w.Name(), "outcome", outcome, "duration", time.Since(begin))

	return res, nil
}

// inspect looks for an escalation and the last final response of author.
func inspect(events []core.Event, author string) stageResult {
	var res stageResult

	for _, ev := range events {
		if ev.IsEscalation() {
			res.escalated = true
		}

		if ev.Author == author && ev.Content != nil && ev.IsFinalResponse() {
			if text := ev.Content.Text(); text != "" {
				res.text = text
			}
		}
	}

	return res
}

// handleFailure turns leaf failures into a terminal escalation event.
// Errors that are not escalatable (cancellation, store failures) are
// returned unchanged.
func handleFailure(rc *core.RunContext, author string, err error) error {
	code, ok := core.EscalationCode(err)
	if !ok {
		return err
	}

	rc.LogWarn("worker.escalate", "worker", author, "code", code, "error", err)

	return rc.Publish(core.NewEscalationEvent(rc.RunID, author, code, err.Error()))
}

// collectResults renders the latest value of each key written by events
// after index start. Keys never written in that range are skipped, so
// values left over from earlier runs of the session do not leak in.
func collectResults(rc *core.RunContext, start int, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	if err := rc.RefreshSession(); err != nil {
		return nil, fmt.Errorf("refresh session before result: %w", err)
	}

	events := rc.Session.GetEvents()
	if start > len(events) {
		start = len(events)
	}

	latest := map[string]any{}
	for _, ev := range events[start:] {
		for k, v := range ev.Actions.StateDelta {
			latest[k] = v
		}
	}

	var out []string
	for _, k := range keys {
		v, ok := latest[k]
		if !ok {
			continue
		}

		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				out = append(out, val)
			}
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("render result %q: %w", k, err)
			}
			out = append(out, string(b))
		}
	}

	return out, nil
}

// emitResult publishes the collected stage outputs. The root coordinator
// ends the run with it; nested coordinators report a plain message.
func emitResult(rc *core.RunContext, author string, texts, names []string) error {
	content := core.Content{
		Role: "assistant",
		Parts: []core.Part{core.TextPart{
			Text:     strings.Join(texts, "\n\n"),
			Metadata: map[string]any{"stages": names},
		}},
	}

	var ev core.Event
	if rc.Branch == "" {
		ev = core.NewTerminalEvent(rc.RunID, author, content)
	} else {
		ev = core.NewEvent(rc.RunID, author)
		ev.Content = &content
		complete := true
		ev.TurnComplete = &complete
	}

	return rc.Publish(ev)
}

// recordOutput stores a stage result under its output key and persists it
// so the following stage can read it.
func recordOutput(rc *core.RunContext, w core.Worker, text string) error {
	rc.SetState(outputKeyOf(w), text)
	return rc.CommitStateDelta()
}

func kindOf(w core.Worker) string {
	switch w.(type) {
	case *LeafWorker:
		return KindLeaf
	case *RouterWorker:
		return KindRouter
	case *Sequence:
		return KindSequence
	default:
		return KindWorker
	}
}

func outputKeyOf(w core.Worker) string {
	if o, ok := w.(interface{ OutputKey() string }); ok && o.OutputKey() != "" {
		return o.OutputKey()
	}
	return w.Name() + "_output"
}

// validateChildren checks that children exist and that names are unique
// across the whole tree rooted at parent.
func validateChildren(parent, field string, children []core.Worker) error {
	if len(children) == 0 {
		return core.NewConfigurationError(parent, field, "at least one worker is required")
	}

	seen := map[string]bool{parent: true}

	var walk func(ws []core.Worker) error
	walk = func(ws []core.Worker) error {
		for _, w := range ws {
			if w == nil {
				return core.NewConfigurationError(parent, field, "nil worker")
			}

			if strings.TrimSpace(w.Name()) == "" {
				return core.NewConfigurationError(parent, field, "worker without a name")
			}

			if seen[w.Name()] {
				return core.NewConfigurationError(parent, field, fmt.Sprintf("duplicate worker name %q", w.Name()))
			}
			seen[w.Name()] = true

			if err := walk(w.SubWorkers()); err != nil {
				return err
			}
		}
		return nil
	}

	return walk(children)
}

func findIn(self core.Worker, children []core.Worker, name string) core.Worker {
	if self.Name() == name {
		return self
	}

	for _, c := range children {
		if found := c.FindWorker(name); found != nil {
			return found
		}
	}

	return nil
}
