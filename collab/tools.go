package collab

import (
	"iter"
	"strings"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/tool"
)

// Tool names.
const (
	GetProtosToolName      = "get_protos"
	GenerateSampleToolName = "generate_sample"
	GetEvaluationToolName  = "get_evaluation"
)

// NewGetProtosTool exposes g. The text is returned and stored in state
// under StateGrounding.
func NewGetProtosTool(g Grounding) *tool.FunctionTool {
	return tool.NewFunctionTool(
		GetProtosToolName,
		"Fetch the protocol buffer definitions used as grounding for code generation.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			text, err := g.Fetch(tc.Context())
			if err != nil {
				return nil, err
			}

			tc.SetState(StateGrounding, text)

			return text, nil
		},
	)
}

type generateSampleArgs struct {
	GroundingContext string `json:"grounding_context,omitempty" description:"Reference definitions; defaults to the fetched grounding"`
}

// NewGenerateSampleTool exposes gen. Without a grounding_context argument
// it falls back to StateGrounding. The sample is stored under
// StateCodeSample and saved as the ArtifactSample artifact.
func NewGenerateSampleTool(gen Generator) *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		GenerateSampleToolName,
		"Write a Node.js code sample grounded in the reference definitions.",
		generateSampleArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			grounding, _ := args["grounding_context"].(string)
			if strings.TrimSpace(grounding) == "" {
				grounding = tc.GetStateString(StateGrounding)
			}

			sample, err := gen.Generate(tc.Context(), grounding)
			if err != nil {
				return nil, err
			}

			tc.SetState(StateCodeSample, sample)

			if err := tc.SaveArtifact(ArtifactSample, []byte(sample)); err != nil {
				tc.LogWarn("collab.artifact.save_failed", "artifact", ArtifactSample, "error", err)
			}

			return sample, nil
		},
	)
}

// NewGetEvaluationTool exposes ev as a streaming tool. Without a
// code_sample argument it evaluates the saved ArtifactSample, or
// StateCodeSample when no artifact is available. The collected
// verdict is validated and stored under StateEvaluation.
func NewGetEvaluationTool(ev Evaluator) *tool.StreamFunctionTool {
	return tool.NewStreamFunctionTool(
		GetEvaluationToolName,
		"Evaluate the quality of a code sample. Returns a JSON object with a score between 0 and 1 and an explanation.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code_sample": map[string]any{
					"type":        "string",
					"description": "The code sample to evaluate; defaults to the generated sample",
				},
			},
		},
		func(tc *core.ToolContext, args map[string]any) iter.Seq2[string, error] {
			sample, _ := args["code_sample"].(string)
			if strings.TrimSpace(sample) == "" {
				sample = storedSample(tc)
			}

			return ev.Evaluate(tc.Context(), sample)
		},
		func(tc *core.ToolContext, _ map[string]any, text string) (any, error) {
			e, err := ParseEvaluation(text)
			if err != nil {
				return nil, err
			}

			tc.SetState(StateEvaluation, e.ToMap())

			return e, nil
		},
	)
}

func storedSample(tc *core.ToolContext) string {
	data, err := tc.LoadArtifact(ArtifactSample)
	if err == nil && len(data) > 0 {
		return string(data)
	}

	tc.LogDebug("collab.artifact.fallback_state", "artifact", ArtifactSample, "session_id", tc.SessionID(), "error", err)

	return tc.GetStateString(StateCodeSample)
}
