// Package pipeline assembles the code sample pipeline from configuration:
// a grounding worker, a generation worker and an evaluation worker, wired
// either as a strict sequence or behind a delegating router.
package pipeline

import (
	"fmt"

	"github.com/hupe1980/codepipe/collab"
	"github.com/hupe1980/codepipe/config"
	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/model"
	"github.com/hupe1980/codepipe/model/anthropic"
	"github.com/hupe1980/codepipe/model/openai"
	"github.com/hupe1980/codepipe/worker"
)

// Worker names.
const (
	GroundingWorker  = "rag_worker"
	GenerationWorker = "generation_worker"
	EvaluationWorker = "evaluation_worker"
	SequenceName     = "code_pipeline"
	RouterName       = "code_pipeline_router"
)

const (
	groundingInstruction = `You are the retrieval-augmented grounding worker.
Call the get_protos tool to download the protocol buffer definitions.
Then reply with one sentence naming the API they describe.
Do not engage in any other conversation or tasks.`

	generationInstruction = `You are the generation worker.
Call the generate_sample tool to write a Node.js code sample for the user's request.
Reply with the code sample exactly as the tool returned it.`

	evaluationInstruction = `You are the evaluation worker.
Call the get_evaluation tool once a code sample has been generated.
Reply with the score and the explanation from the evaluation.`

	routerInstruction = `You coordinate a code sample pipeline for the user's request.
First delegate to the grounding worker, then to the generation worker, then to the evaluation worker.
When the evaluation is available, answer with a short summary of the sample and its evaluation.`
)

// Deps are the collaborators of a pipeline. Zero fields get defaults.
type Deps struct {
	// Registry resolves model references; defaults to NewRegistry().
	Registry *model.Registry
	// Grounding defaults to the configured grounding file or the bundled
	// Secret Manager proto.
	Grounding collab.Grounding
	// Generator defaults to a ModelGenerator on models.generator (or
	// models.generation).
	Generator collab.Generator
	// Evaluator defaults to the static evaluator.
	Evaluator collab.Evaluator
}

// NewRegistry returns a registry with the mock, openai and anthropic
// providers. Provider clients read their API keys from the environment.
func NewRegistry() *model.Registry {
	r := model.NewRegistry()
	r.Register(openai.Provider, openai.Factory())
	r.Register(anthropic.Provider, anthropic.Factory())
	return r
}

// BuildPipeline validates cfg and builds the root worker for its topology.
// The root's result ends with the generated sample and its evaluation.
func BuildPipeline(cfg *config.Config, deps Deps) (core.Worker, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}

	resolve := func(field, ref string) (model.Model, error) {
		m, err := deps.Registry.Resolve(ref)
		if err != nil {
			return nil, core.NewConfigurationError("pipeline", field, err.Error())
		}
		return m, nil
	}

	if deps.Grounding == nil {
		if cfg.GroundingPath != "" {
			deps.Grounding = collab.NewFileGrounding(cfg.GroundingPath)
		} else {
			deps.Grounding = collab.DefaultGrounding()
		}
	}

	if deps.Generator == nil {
		ref := cfg.Models.Generator
		if ref == "" {
			ref = cfg.Models.Generation
		}

		llm, err := resolve("models.generator", ref)
		if err != nil {
			return nil, err
		}

		deps.Generator = collab.NewModelGenerator(llm)
	}

	if deps.Evaluator == nil {
		deps.Evaluator = collab.NewStaticEvaluator()
	}

	common := func(o *worker.ModelOptions) {
		o.ToolTimeout = cfg.ToolTimeout
		o.EnableStreaming = cfg.Streaming
	}

	groundingModel, err := resolve("models.grounding", cfg.Models.Grounding)
	if err != nil {
		return nil, err
	}

	grounding, err := worker.NewLeafWorker(GroundingWorker, groundingModel, common,
		worker.WithInstruction(groundingInstruction),
		worker.WithDescription("Downloads protocol buffer definitions using the get_protos tool."),
		worker.WithTools(collab.NewGetProtosTool(deps.Grounding)),
	)
	if err != nil {
		return nil, err
	}

	generationModel, err := resolve("models.generation", cfg.Models.Generation)
	if err != nil {
		return nil, err
	}

	generation, err := worker.NewLeafWorker(GenerationWorker, generationModel, common,
		worker.WithInstruction(generationInstruction),
		worker.WithDescription("Generates Node.js code samples using the generate_sample tool."),
		worker.WithTools(collab.NewGenerateSampleTool(deps.Generator)),
	)
	if err != nil {
		return nil, err
	}

	evaluationModel, err := resolve("models.evaluation", cfg.Models.Evaluation)
	if err != nil {
		return nil, err
	}

	evaluation, err := worker.NewLeafWorker(EvaluationWorker, evaluationModel, common,
		worker.WithInstruction(evaluationInstruction),
		worker.WithDescription("Evaluates generated code samples using the get_evaluation tool."),
		worker.WithTools(collab.NewGetEvaluationTool(deps.Evaluator)),
	)
	if err != nil {
		return nil, err
	}

	stages := []core.Worker{grounding, generation, evaluation}
	results := []string{collab.StateCodeSample, collab.StateEvaluation}

	switch cfg.Topology {
	case config.TopologySequence:
		seq, err := worker.NewSequence(SequenceName, stages, func(o *worker.SequenceOptions) {
			o.Description = "Fetches grounding definitions, writes a code sample and evaluates it."
			o.ResultKeys = results
		})
		if err != nil {
			return nil, err
		}
		return seq, nil
	case config.TopologyRouter:
		routerModel, err := resolve("models.router", cfg.Models.Router)
		if err != nil {
			return nil, err
		}

		router, err := worker.NewRouterWorker(RouterName, routerModel, stages, common,
			worker.WithInstruction(routerInstruction),
			worker.WithDescription("Delegates grounding, generation and evaluation to specialized workers."),
			worker.WithResultKeys(results...),
		)
		if err != nil {
			return nil, err
		}
		return router, nil
	default:
		return nil, core.NewConfigurationError("pipeline", "topology", fmt.Sprintf("unsupported topology %q", cfg.Topology))
	}
}
