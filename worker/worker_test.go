package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/internal/testutil"
	"github.com/hupe1980/codepipe/model"
	"github.com/hupe1980/codepipe/tool"
)

type step func(req model.Request) (model.Response, error)

// scripted answers the i-th call with the i-th step.
func scripted(name string, steps ...step) model.Model {
	var (
		mu sync.Mutex
		i  int
	)

	return model.NewFuncModel(name, func(_ context.Context, req model.Request) (model.Response, error) {
		mu.Lock()
		defer mu.Unlock()

		if i >= len(steps) {
			return model.Response{}, errors.New("script exhausted")
		}

		s := steps[i]
		i++

		return s(req)
	})
}

func say(text string) step {
	return func(model.Request) (model.Response, error) {
		return model.Response{Content: core.NewTextContent("assistant", text)}, nil
	}
}

func call(calls ...core.FunctionCall) step {
	return func(model.Request) (model.Response, error) {
		parts := make([]core.Part, len(calls))
		for i, c := range calls {
			parts[i] = core.FunctionCallPart{FunctionCall: c}
		}
		return model.Response{Content: core.Content{Role: "assistant", Parts: parts}, FinishReason: "tool_calls"}, nil
	}
}

func fail(err error) step {
	return func(model.Request) (model.Response, error) { return model.Response{}, err }
}

func leaf(t *testing.T, name string, steps ...step) *LeafWorker {
	t.Helper()

	w, err := NewLeafWorker(name, scripted(name+"-model", steps...), WithInstruction("You are "+name+"."))
	require.NoError(t, err)

	return w
}

type mockWorker struct {
	mock.Mock
	name string
}

func (m *mockWorker) Name() string              { return m.name }
func (m *mockWorker) Description() string       { return "mock " + m.name }
func (m *mockWorker) SubWorkers() []core.Worker { return nil }
func (m *mockWorker) FindWorker(name string) core.Worker {
	if name == m.name {
		return m
	}
	return nil
}
func (m *mockWorker) Run(rc *core.RunContext) error {
	args := m.Called(rc.Worker.Name)
	return args.Error(0)
}

type stageRecorder struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (r *stageRecorder) RunFinished(string, time.Duration) {}
func (r *stageRecorder) StageFinished(stage, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[stage] = outcome
}
func (r *stageRecorder) ToolCalled(string, string)  {}
func (r *stageRecorder) ModelCalled(string, string) {}

func TestNewLeafWorker(t *testing.T) {
	w, err := NewLeafWorker("generator", scripted("gpt"), WithInstruction("Write code."), WithDescription("Writes code"))
	require.NoError(t, err)

	assert.Equal(t, "generator", w.Name())
	assert.Equal(t, "Writes code", w.Description())
	assert.Equal(t, "mock:gpt", w.ModelRef())
	assert.Equal(t, "generator_output", w.OutputKey())
	assert.Equal(t, 20, w.MaxHistoryMessages())
	assert.Equal(t, 15*time.Second, w.ToolTimeout())
	assert.False(t, w.IsStreamingEnabled())
	assert.Empty(t, w.SubWorkers())
	assert.Same(t, w, w.FindWorker("generator"))
	assert.Nil(t, w.FindWorker("other"))
}

func TestNewLeafWorker_ConfigurationErrors(t *testing.T) {
	okTool := tool.NewFunctionTool("a", "A", nil, func(*core.ToolContext, map[string]any) (any, error) { return nil, nil })
	noFn := tool.NewFunctionTool("b", "B", nil, nil)

	tests := []struct {
		name   string
		worker string
		llm    model.Model
		opts   []func(o *ModelOptions)
		field  string
	}{
		{"empty name", "", scripted("m"), []func(o *ModelOptions){WithInstruction("x")}, "name"},
		{"nil model", "w", nil, []func(o *ModelOptions){WithInstruction("x")}, "model"},
		{"empty model ref", "w", scripted(""), []func(o *ModelOptions){WithInstruction("x")}, "model"},
		{"missing instruction", "w", scripted("m"), nil, "instruction"},
		{"blank instruction", "w", scripted("m"), []func(o *ModelOptions){WithInstruction("   ")}, "instruction"},
		{"duplicate tools", "w", scripted("m"), []func(o *ModelOptions){WithInstruction("x"), WithTools(okTool, okTool)}, "tools"},
		{"invalid tool", "w", scripted("m"), []func(o *ModelOptions){WithInstruction("x"), WithTools(noFn)}, "tools"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLeafWorker(tt.worker, tt.llm, tt.opts...)

			var cfgErr *core.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewLeafWorker_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-z][a-z0-9_]{0,15}`).Draw(t, "name")
		instruction := rapid.String().Draw(t, "instruction")

		w, err := NewLeafWorker(name, scripted("m"), WithInstruction(instruction))

		if strings.TrimSpace(instruction) == "" {
			var cfgErr *core.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			return
		}

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if w.Name() == "" || w.ModelRef() == "" || w.Instruction().Text() == "" {
			t.Fatalf("built worker has empty fields: %+v", w)
		}
	})
}

func TestNewSequence_ConfigurationErrors(t *testing.T) {
	a := leaf(t, "a")
	dup := leaf(t, "a")

	_, err := NewSequence("", []core.Worker{a})
	assert.ErrorAs(t, err, new(*core.ConfigurationError))

	_, err = NewSequence("seq", nil)
	assert.ErrorAs(t, err, new(*core.ConfigurationError))

	_, err = NewSequence("seq", []core.Worker{a, dup})
	assert.ErrorAs(t, err, new(*core.ConfigurationError))

	_, err = NewSequence("a", []core.Worker{a})
	assert.ErrorAs(t, err, new(*core.ConfigurationError))

	inner, err := NewSequence("inner", []core.Worker{a})
	require.NoError(t, err)

	_, err = NewSequence("outer", []core.Worker{inner, dup})
	assert.ErrorAs(t, err, new(*core.ConfigurationError), "names must be unique across the tree")
}

func TestNewRouterWorker_ConfigurationErrors(t *testing.T) {
	a := leaf(t, "a")

	_, err := NewRouterWorker("router", scripted("m"), nil, WithInstruction("Route."))
	assert.ErrorAs(t, err, new(*core.ConfigurationError))

	reserved := tool.NewFunctionTool(tool.TransferToolName, "x", nil, func(*core.ToolContext, map[string]any) (any, error) { return nil, nil })
	_, err = NewRouterWorker("router", scripted("m"), []core.Worker{a}, WithInstruction("Route."), WithTools(reserved))
	assert.ErrorAs(t, err, new(*core.ConfigurationError))

	r, err := NewRouterWorker("router", scripted("m"), []core.Worker{a}, WithInstruction("Route."))
	require.NoError(t, err)
	assert.Same(t, a, r.FindWorker("a"))
	assert.Len(t, r.SubWorkers(), 1)
}

func TestSequence_RunsStagesInOrder(t *testing.T) {
	a := leaf(t, "A", say("out-a"))
	b := leaf(t, "B", say("out-b"))
	c := leaf(t, "C", say("out-c"))

	seq, err := NewSequence("pipeline", []core.Worker{a, b, c})
	require.NoError(t, err)

	rec := &stageRecorder{outcomes: map[string]string{}}
	h := testutil.NewHarness(t, "pipeline", "go", func(o *core.RunContextOptions) { o.Metrics = rec })

	require.NoError(t, seq.Run(h.RunCtx))

	assert.Equal(t, []string{"A", "B", "C", "pipeline"}, h.Authors())

	last, ok := h.Last()
	require.True(t, ok)
	assert.True(t, last.IsTerminal())
	assert.Equal(t, "out-a\n\nout-b\n\nout-c", last.Content.Text())
	assert.Equal(t, "out-a\n\nout-b\n\nout-c", core.FinalText(last))

	state := h.State()
	assert.Equal(t, "out-a", state["A_output"])
	assert.Equal(t, "out-b", state["B_output"])
	assert.Equal(t, "out-c", state["C_output"])

	assert.Equal(t, map[string]string{"A": "success", "B": "success", "C": "success"}, rec.outcomes)
}

func scoreTool() tool.Tool {
	return tool.NewFunctionTool("score", "Scores the sample.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			tc.SetState("verdict", map[string]any{"score": 1})
			return "scored", nil
		},
	)
}

func TestSequence_AppendsResultKeys(t *testing.T) {
	a := leaf(t, "A", say("out-a"))

	b, err := NewLeafWorker("B", scripted("B-model",
		call(core.FunctionCall{ID: "1", Name: "score", Arguments: "{}"}),
		say("out-b"),
	), WithInstruction("You are B."), WithTools(scoreTool()))
	require.NoError(t, err)

	seq, err := NewSequence("pipeline", []core.Worker{a, b}, func(o *SequenceOptions) {
		o.ResultKeys = []string{"A_output", "verdict", "stale"}
	})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "pipeline", "go")
	require.NoError(t, h.Store.ApplyDelta(h.Key, map[string]any{"stale": "from an earlier run"}))
	require.NoError(t, h.RunCtx.RefreshSession())

	require.NoError(t, seq.Run(h.RunCtx))

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "out-a\n\nout-b\n\nout-a\n\n{\"score\":1}", core.FinalText(last))
	assert.NotContains(t, core.FinalText(last), "earlier run")
}

func TestSequence_StageSeesPreviousOutput(t *testing.T) {
	a := leaf(t, "A", say("grounding text"))

	var seen string
	b, err := NewLeafWorker("B", model.NewFuncModel("m", func(_ context.Context, req model.Request) (model.Response, error) {
		seen = req.Contents[0].Text()
		return model.Response{Content: core.NewTextContent("assistant", "ok")}, nil
	}), WithInstruction("Use {{.A_output}}."))
	require.NoError(t, err)

	seq, err := NewSequence("pipeline", []core.Worker{a, b})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "pipeline", "go")
	require.NoError(t, seq.Run(h.RunCtx))

	assert.Contains(t, seen, "Use grounding text.")
}

func TestSequence_ModelFailureEscalates(t *testing.T) {
	a := leaf(t, "A", say("out-a"))
	b := leaf(t, "B", fail(errors.New("rate limited")))
	c := leaf(t, "C", say("out-c"))

	seq, err := NewSequence("pipeline", []core.Worker{a, b, c})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "pipeline", "go")
	require.NoError(t, seq.Run(h.RunCtx))

	assert.Equal(t, []string{"A", "pipeline"}, h.Authors())

	last, _ := h.Last()
	assert.True(t, last.IsEscalation())
	assert.True(t, last.IsTerminal())
	require.NotNil(t, last.ErrorCode)
	assert.Equal(t, core.ErrorCodeModelUnavailable, *last.ErrorCode)
	assert.Contains(t, *last.ErrorMessage, "rate limited")
	assert.Nil(t, last.Content)
}

func TestSequence_ToolFailureEscalates(t *testing.T) {
	boom := tool.NewFunctionTool("boom", "Always fails", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, errors.New("kaputt")
	})

	a := leaf(t, "A", say("out-a"))
	b, err := NewLeafWorker("B", scripted("m", call(core.FunctionCall{ID: "1", Name: "boom", Arguments: "{}"})),
		WithInstruction("Call boom."), WithTools(boom))
	require.NoError(t, err)
	c := leaf(t, "C", say("out-c"))

	seq, err := NewSequence("pipeline", []core.Worker{a, b, c})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "pipeline", "go")
	require.NoError(t, seq.Run(h.RunCtx))

	assert.Equal(t, []string{"A", "B", "B", "pipeline"}, h.Authors())

	last, _ := h.Last()
	require.NotNil(t, last.ErrorCode)
	assert.Equal(t, core.ErrorCodeToolInvocation, *last.ErrorCode)
	assert.Contains(t, core.FinalText(last), "Agent escalated:")
}

func TestSequence_EscalatingToolStopsRun(t *testing.T) {
	stop := tool.NewFunctionTool("stop", "Escalates", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		tc.Escalate()
		return "stopping", nil
	})

	a, err := NewLeafWorker("A", scripted("m", call(core.FunctionCall{ID: "1", Name: "stop", Arguments: "{}"})),
		WithInstruction("Stop."), WithTools(stop))
	require.NoError(t, err)

	b := &mockWorker{name: "B"}

	seq, err := NewSequence("pipeline", []core.Worker{a, b})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "pipeline", "go")
	require.NoError(t, seq.Run(h.RunCtx))

	b.AssertNotCalled(t, "Run", mock.Anything)
	last, _ := h.Last()
	assert.True(t, last.IsEscalation())
	assert.Equal(t, "A", last.Author)
}

func TestSequence_UnexpectedErrorIsReturned(t *testing.T) {
	a := &mockWorker{name: "A"}
	b := &mockWorker{name: "B"}
	storeErr := errors.New("store down")

	a.On("Run", "A").Return(storeErr)

	seq, err := NewSequence("pipeline", []core.Worker{a, b})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "pipeline", "go")
	err = seq.Run(h.RunCtx)

	require.ErrorIs(t, err, storeErr)
	a.AssertExpectations(t)
	b.AssertNotCalled(t, "Run", mock.Anything)
	assert.Empty(t, h.Authors())
}

func TestSequence_MockStagesReceiveOwnContext(t *testing.T) {
	a := &mockWorker{name: "A"}
	b := &mockWorker{name: "B"}
	a.On("Run", "A").Return(nil)
	b.On("Run", "B").Return(nil)

	seq, err := NewSequence("pipeline", []core.Worker{a, b})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "pipeline", "go")
	require.NoError(t, seq.Run(h.RunCtx))

	a.AssertExpectations(t)
	b.AssertExpectations(t)
	assert.Equal(t, []string{"pipeline"}, h.Authors())
}

func TestSequence_Nested(t *testing.T) {
	inner, err := NewSequence("inner", []core.Worker{leaf(t, "A", say("a")), leaf(t, "B", say("b"))})
	require.NoError(t, err)

	outer, err := NewSequence("outer", []core.Worker{inner, leaf(t, "C", say("c"))})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "outer", "go")
	require.NoError(t, outer.Run(h.RunCtx))

	assert.Equal(t, []string{"A", "B", "inner", "C", "outer"}, h.Authors())

	terminals := 0
	for _, ev := range h.Events() {
		if ev.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)

	assert.Equal(t, "a\n\nb", h.State()["inner_output"])

	last, _ := h.Last()
	assert.Equal(t, "a\n\nb\n\nc", last.Content.Text())
	assert.Same(t, inner.SubWorkers()[1].(*LeafWorker), outer.FindWorker("B"))
}

func TestSequence_CancelledContext(t *testing.T) {
	seq, err := NewSequence("pipeline", []core.Worker{leaf(t, "A", say("a"))})
	require.NoError(t, err)

	h := testutil.NewHarness(t, "pipeline", "go")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.RunCtx.Context = ctx

	assert.ErrorIs(t, seq.Run(h.RunCtx), context.Canceled)
}

func TestRouterWorker_TransfersInDeclaredOrder(t *testing.T) {
	first := leaf(t, "first", say("first out"))
	second := leaf(t, "second", say("second out"))

	router, err := NewRouterWorker("router", scripted("r",
		call(
			core.FunctionCall{ID: "1", Name: tool.TransferToolName, Arguments: `{"worker_name":"second"}`},
			core.FunctionCall{ID: "2", Name: tool.TransferToolName, Arguments: `{"worker_name":"first"}`},
		),
		say("all done"),
	), []core.Worker{first, second}, WithInstruction("Route the request."))
	require.NoError(t, err)

	h := testutil.NewHarness(t, "router", "go")
	require.NoError(t, router.Run(h.RunCtx))

	assert.Equal(t, []string{"router", "router", "router", "first", "second", "router", "router"}, h.Authors())

	last, _ := h.Last()
	assert.True(t, last.IsTerminal())
	assert.Equal(t, "first out\n\nsecond out\n\nall done", last.Content.Text())
	assert.Equal(t, "second out", h.State()["second_output"])
}

func TestRouterWorker_AppendsResultKeysBeforeAnswer(t *testing.T) {
	scorer, err := NewLeafWorker("scorer", scripted("scorer-model",
		call(core.FunctionCall{ID: "1", Name: "score", Arguments: "{}"}),
		say("scored it"),
	), WithInstruction("You score."), WithTools(scoreTool()))
	require.NoError(t, err)

	router, err := NewRouterWorker("router", scripted("r",
		call(core.FunctionCall{ID: "1", Name: tool.TransferToolName, Arguments: `{"worker_name":"scorer"}`}),
		say("all done"),
	), []core.Worker{scorer}, WithInstruction("Route the request."), WithResultKeys("verdict"))
	require.NoError(t, err)

	h := testutil.NewHarness(t, "router", "go")
	require.NoError(t, router.Run(h.RunCtx))

	last, _ := h.Last()
	assert.Equal(t, "scored it\n\n{\"score\":1}\n\nall done", last.Content.Text())
}

func TestRouterWorker_SubWorkerFailureEscalates(t *testing.T) {
	broken := leaf(t, "broken", fail(errors.New("down")))

	router, err := NewRouterWorker("router", scripted("r",
		call(core.FunctionCall{ID: "1", Name: tool.TransferToolName, Arguments: `{"worker_name":"broken"}`}),
	), []core.Worker{broken}, WithInstruction("Route."))
	require.NoError(t, err)

	h := testutil.NewHarness(t, "router", "go")
	require.NoError(t, router.Run(h.RunCtx))

	last, _ := h.Last()
	assert.True(t, last.IsEscalation())
	assert.Equal(t, "router", last.Author)
	assert.Equal(t, core.ErrorCodeModelUnavailable, *last.ErrorCode)
}

func TestRouterWorker_RosterInInstruction(t *testing.T) {
	var system string
	sub := leaf(t, "coder", say("x"))

	router, err := NewRouterWorker("router", model.NewFuncModel("r", func(_ context.Context, req model.Request) (model.Response, error) {
		system = req.Contents[0].Text()
		return model.Response{Content: core.NewTextContent("assistant", "no delegation needed")}, nil
	}), []core.Worker{sub}, WithInstruction("Route."))
	require.NoError(t, err)

	h := testutil.NewHarness(t, "router", "go")
	require.NoError(t, router.Run(h.RunCtx))

	assert.Contains(t, system, "coder")
	assert.Contains(t, system, tool.TransferToolName)
	assert.Equal(t, []string{"router", "router"}, h.Authors())
}

func TestInstruction(t *testing.T) {
	static := NewInstructionFromText("hello")
	assert.True(t, static.IsStatic())
	assert.False(t, static.IsZero())
	assert.True(t, Instruction{}.IsZero())

	dyn := NewInstructionFromFunc(func(rc *core.RunContext) (string, error) { return "for " + rc.Worker.Name, nil })
	assert.False(t, dyn.IsStatic())

	text, err := dyn.Resolve(&core.RunContext{Worker: core.WorkerInfo{Name: "w"}})
	require.NoError(t, err)
	assert.Equal(t, "for w", text)
}
