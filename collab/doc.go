// Package collab provides the external collaborators of the code pipeline
// and the tools that expose them to workers:
//
//   - Grounding supplies reference text (get_protos)
//   - Generator writes a Node.js code sample (generate_sample)
//   - Evaluator scores a code sample as streamed JSON (get_evaluation)
//
// Tools exchange their results through session state under the State*
// keys, so a later stage can run without repeating earlier arguments.
package collab

// Session state keys written by the tools.
const (
	StateGrounding  = "grounding"
	StateCodeSample = "code_sample"
	StateEvaluation = "evaluation"
)

// ArtifactSample is the artifact id generated samples are saved under.
const ArtifactSample = "sample.js"
