package worker

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/model"
	"github.com/hupe1980/codepipe/tool"
)

// ModelOptions configures a LeafWorker or RouterWorker.
type ModelOptions struct {
	// Instruction is required.
	Instruction Instruction
	// Description is shown to routing models.
	Description string
	// Tools are offered to the model in this order.
	Tools []tool.Tool
	// OutputKey receives the final response text; defaults to <name>_output.
	OutputKey string
	// MaxHistoryMessages bounds the history sent to the model (<= 0: all).
	MaxHistoryMessages int
	// EnableStreaming requests partial model output.
	EnableStreaming bool
	// ToolTimeout bounds each tool call (<= 0: none).
	ToolTimeout time.Duration
	// ResultKeys name state values a router appends to its result. Leaf
	// workers ignore them.
	ResultKeys []string
}

// WithInstruction sets a static instruction template.
func WithInstruction(text string) func(o *ModelOptions) {
	return func(o *ModelOptions) { o.Instruction = NewInstructionFromText(text) }
}

// WithDescription sets the description.
func WithDescription(desc string) func(o *ModelOptions) {
	return func(o *ModelOptions) { o.Description = desc }
}

// WithResultKeys sets the state values a router appends to its result.
func WithResultKeys(keys ...string) func(o *ModelOptions) {
	return func(o *ModelOptions) { o.ResultKeys = append(o.ResultKeys, keys...) }
}

// WithTools appends tools.
func WithTools(tools ...tool.Tool) func(o *ModelOptions) {
	return func(o *ModelOptions) { o.Tools = append(o.Tools, tools...) }
}

// modelWorker holds the fields shared by leaf and router workers.
type modelWorker struct {
	name        string
	description string
	llm         model.Model
	modelRef    string
	instruction Instruction
	tools       []tool.Tool
	outputKey   string
	maxHistory  int
	streaming   bool
	toolTimeout time.Duration
}

func defaultModelOptions(name string) ModelOptions {
	return ModelOptions{
		Description:        fmt.Sprintf("Worker %s", name),
		MaxHistoryMessages: 20,
		ToolTimeout:        15 * time.Second,
	}
}

func newModelWorker(name string, llm model.Model, opts ModelOptions) (modelWorker, error) {
	if strings.TrimSpace(name) == "" {
		return modelWorker{}, core.NewConfigurationError(name, "name", "must not be empty")
	}

	if llm == nil {
		return modelWorker{}, core.NewConfigurationError(name, "model", "must not be nil")
	}

	ref, err := model.ParseRef(llm.Info().Ref())
	if err != nil {
		return modelWorker{}, core.NewConfigurationError(name, "model", err.Error())
	}

	if opts.Instruction.IsZero() {
		return modelWorker{}, core.NewConfigurationError(name, "instruction", "must not be empty")
	}

	if opts.Instruction.IsStatic() && strings.TrimSpace(opts.Instruction.Text()) == "" {
		return modelWorker{}, core.NewConfigurationError(name, "instruction", "must not be blank")
	}

	seen := map[string]bool{}
	for _, t := range opts.Tools {
		if t == nil || t.Name() == "" {
			return modelWorker{}, core.NewConfigurationError(name, "tools", "tool without a name")
		}
		if seen[t.Name()] {
			return modelWorker{}, core.NewConfigurationError(name, "tools", fmt.Sprintf("duplicate tool %q", t.Name()))
		}
		seen[t.Name()] = true

		if v, ok := t.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return modelWorker{}, core.NewConfigurationError(name, "tools", err.Error())
			}
		}
	}

	outputKey := opts.OutputKey
	if outputKey == "" {
		outputKey = name + "_output"
	}

	return modelWorker{
		name:        name,
		description: opts.Description,
		llm:         llm,
		modelRef:    ref.String(),
		instruction: opts.Instruction,
		tools:       slices.Clone(opts.Tools),
		outputKey:   outputKey,
		maxHistory:  opts.MaxHistoryMessages,
		streaming:   opts.EnableStreaming,
		toolTimeout: opts.ToolTimeout,
	}, nil
}

// Name returns the worker name.
func (w *modelWorker) Name() string { return w.name }

// Description returns the routing description.
func (w *modelWorker) Description() string { return w.description }

// Model returns the bound model.
func (w *modelWorker) Model() model.Model { return w.llm }

// ModelRef returns the "provider:model" reference of the bound model.
func (w *modelWorker) ModelRef() string { return w.modelRef }

// Instruction returns the configured instruction.
func (w *modelWorker) Instruction() Instruction { return w.instruction }

// ResolveInstructions returns the raw instruction template.
func (w *modelWorker) ResolveInstructions(rc *core.RunContext) (string, error) {
	return w.instruction.Resolve(rc)
}

// Tools returns a copy of the bound tools.
func (w *modelWorker) Tools() []tool.Tool { return slices.Clone(w.tools) }

// IsStreamingEnabled reports whether partial output is requested.
func (w *modelWorker) IsStreamingEnabled() bool { return w.streaming }

// OutputKey returns the state key receiving the final text.
func (w *modelWorker) OutputKey() string { return w.outputKey }

// MaxHistoryMessages returns the history window.
func (w *modelWorker) MaxHistoryMessages() int { return w.maxHistory }

// ToolTimeout returns the per-call tool timeout.
func (w *modelWorker) ToolTimeout() time.Duration { return w.toolTimeout }
