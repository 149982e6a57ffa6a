package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/codepipe/collab"
	"github.com/hupe1980/codepipe/config"
	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/model"
	"github.com/hupe1980/codepipe/runner"
	"github.com/hupe1980/codepipe/session"
	"github.com/hupe1980/codepipe/tool"
	"github.com/hupe1980/codepipe/worker"
)

// toolCaller calls the first offered tool with no arguments and answers
// with the tool result once it arrives.
func toolCaller(name string) model.Model {
	return model.NewFuncModel(name, func(_ context.Context, req model.Request) (model.Response, error) {
		offered := map[string]bool{}
		for _, td := range req.Tools {
			offered[td.Function.Name] = true
		}

		last := req.Contents[len(req.Contents)-1]
		for _, p := range last.Parts {
			if fr, ok := p.(core.FunctionResponsePart); ok && offered[fr.FunctionResponse.Name] {
				return model.Response{Content: core.NewTextContent("assistant", model.FunctionResponseText(fr.FunctionResponse))}, nil
			}
		}

		for _, td := range req.Tools {
			if td.Function.Name == tool.TransferToolName {
				continue
			}
			return model.Response{
				Content: core.Content{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{
					FunctionCall: core.FunctionCall{ID: core.NewID(), Name: td.Function.Name, Arguments: "{}"},
				}}},
				FinishReason: "tool_calls",
			}, nil
		}

		return model.Response{}, errors.New("no tool offered")
	})
}

// routerScript delegates to every stage in one turn, then summarizes.
func routerScript() model.Model {
	var (
		mu    sync.Mutex
		turns int
	)

	return model.NewFuncModel("router", func(context.Context, model.Request) (model.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		turns++

		if turns > 1 {
			return model.Response{Content: core.NewTextContent("assistant", "pipeline finished")}, nil
		}

		var parts []core.Part
		for i, target := range []string{EvaluationWorker, GroundingWorker, GenerationWorker} {
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        string(rune('a' + i)),
				Name:      tool.TransferToolName,
				Arguments: `{"worker_name":"` + target + `"}`,
			}})
		}

		return model.Response{Content: core.Content{Role: "assistant", Parts: parts}, FinishReason: "tool_calls"}, nil
	})
}

func scriptRegistry() *model.Registry {
	r := model.NewRegistry()
	r.Register("script", func(name string) (model.Model, error) {
		if name == "router" {
			return routerScript(), nil
		}
		return toolCaller(name), nil
	})
	return r
}

func scriptConfig(topology string) *config.Config {
	cfg := config.Default()
	cfg.Topology = topology
	cfg.Models = config.Models{
		Grounding:  "script:grounding",
		Generation: "script:generation",
		Evaluation: "script:evaluation",
		Router:     "script:router",
	}
	return cfg
}

func runPipeline(t *testing.T, root core.Worker) []core.Event {
	t.Helper()

	store := session.NewInMemoryStore()
	r := runner.New(root, func(o *runner.Options) { o.SessionStore = store })

	_, err := store.Create(r.Key("u", "s"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := r.RunSync(ctx, "u", "s", "Write a Node.js sample that reads a secret.")
	require.NoError(t, err)
	require.NotEmpty(t, events)

	return events
}

func stubDeps(grounding string) Deps {
	return Deps{
		Registry:  scriptRegistry(),
		Grounding: collab.StaticGrounding(grounding),
		Generator: collab.StaticGenerator("const x = 1;"),
		Evaluator: &collab.StaticEvaluator{Evaluation: collab.Evaluation{Score: 1.0, Explanation: "ok"}},
	}
}

func TestBuildPipeline_SequenceEndToEnd(t *testing.T) {
	root, err := BuildPipeline(scriptConfig(config.TopologySequence), stubDeps("message Secret {}"))
	require.NoError(t, err)
	assert.Equal(t, SequenceName, root.Name())

	events := runPipeline(t, root)

	last := events[len(events)-1]
	require.True(t, last.IsTerminal())
	assert.False(t, last.IsEscalation())
	assert.Equal(t, SequenceName, last.Author)

	text := core.FinalText(last)
	assert.Contains(t, text, "const x = 1;")
	assert.Contains(t, text, "ok")
	assert.Contains(t, text, "message Secret {}")

	var order []string
	for _, ev := range events {
		if len(order) == 0 || order[len(order)-1] != ev.Author {
			order = append(order, ev.Author)
		}
	}
	assert.Equal(t, []string{GroundingWorker, GenerationWorker, EvaluationWorker, SequenceName}, order)
}

func TestBuildPipeline_RouterEndToEnd(t *testing.T) {
	root, err := BuildPipeline(scriptConfig(config.TopologyRouter), stubDeps("message Secret {}"))
	require.NoError(t, err)
	assert.Equal(t, RouterName, root.Name())

	events := runPipeline(t, root)

	last := events[len(events)-1]
	require.True(t, last.IsTerminal())

	text := core.FinalText(last)
	assert.Contains(t, text, "const x = 1;")
	assert.Contains(t, text, "ok")
	assert.True(t, strings.HasSuffix(text, "pipeline finished"))

	stages, ok := last.Content.Parts[0].(core.TextPart).Metadata["stages"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{GroundingWorker, GenerationWorker, EvaluationWorker, RouterName}, stages)
}

func TestBuildPipeline_OfflineMockModels(t *testing.T) {
	cfg := config.Default()
	cfg.Models = config.Models{
		Grounding:  "mock:grounding",
		Generation: "mock:generation",
		Evaluation: "mock:evaluation",
	}

	root, err := BuildPipeline(cfg, Deps{
		Registry:  model.NewRegistry(),
		Grounding: collab.StaticGrounding("service Greeter { rpc SayHello (HelloRequest) returns (HelloReply); }"),
		Generator: collab.StaticGenerator("console.log('hello');"),
		Evaluator: collab.NewStaticEvaluator(),
	})
	require.NoError(t, err)

	events := runPipeline(t, root)

	last := events[len(events)-1]
	require.True(t, last.IsTerminal())
	require.False(t, last.IsEscalation())

	text := core.FinalText(last)
	assert.Contains(t, text, "console.log('hello');")
	assert.Contains(t, text, "This code sample is great! No notes.")

	var called []string
	for _, ev := range events {
		for _, fc := range ev.GetFunctionCalls() {
			called = append(called, fc.Name)
		}
	}
	assert.Equal(t, []string{collab.GetProtosToolName, collab.GenerateSampleToolName, collab.GetEvaluationToolName}, called)
}

func TestBuildPipeline_EmptyGroundingEscalates(t *testing.T) {
	for _, topology := range []string{config.TopologySequence, config.TopologyRouter} {
		t.Run(topology, func(t *testing.T) {
			root, err := BuildPipeline(scriptConfig(topology), stubDeps(""))
			require.NoError(t, err)

			events := runPipeline(t, root)

			last := events[len(events)-1]
			require.True(t, last.IsEscalation())
			require.NotNil(t, last.ErrorCode)
			assert.Equal(t, core.ErrorCodeToolInvocation, *last.ErrorCode)
			assert.Contains(t, *last.ErrorMessage, collab.ErrEmptyGrounding.Error())
		})
	}
}

func TestBuildPipeline_Defaults(t *testing.T) {
	cfg := config.Default()
	cfg.Models = config.Models{
		Grounding:  "mock:a",
		Generation: "mock:b",
		Evaluation: "mock:c",
		Router:     "mock:d",
	}

	root, err := BuildPipeline(cfg, Deps{})
	require.NoError(t, err)

	seq, ok := root.(*worker.Sequence)
	require.True(t, ok)
	require.Len(t, seq.SubWorkers(), 3)

	gen, ok := seq.FindWorker(GenerationWorker).(*worker.LeafWorker)
	require.True(t, ok)
	assert.Equal(t, "mock:b", gen.ModelRef())
	assert.Equal(t, cfg.ToolTimeout, gen.ToolTimeout())
	require.Len(t, gen.Tools(), 1)
	assert.Equal(t, collab.GenerateSampleToolName, gen.Tools()[0].Name())

	cfg.Topology = config.TopologyRouter
	root, err = BuildPipeline(cfg, Deps{})
	require.NoError(t, err)
	_, ok = root.(*worker.RouterWorker)
	assert.True(t, ok)
}

func TestBuildPipeline_ConfigurationErrors(t *testing.T) {
	cfg := scriptConfig(config.TopologySequence)
	cfg.Models.Evaluation = "unknown:model"

	_, err := BuildPipeline(cfg, Deps{Registry: scriptRegistry()})

	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "models.evaluation", cfgErr.Field)
	assert.ErrorContains(t, err, "unknown model provider")

	cfg = scriptConfig("mesh")
	_, err = BuildPipeline(cfg, Deps{Registry: scriptRegistry()})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "topology", cfgErr.Field)
}

func TestNewRegistry(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "mock", "openai"}, NewRegistry().Providers())
}
