package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/model"
)

// ErrEmptyGrounding is returned by generators asked to work without
// grounding context.
var ErrEmptyGrounding = errors.New("grounding context must not be empty")

// Generator writes a code sample from grounding context.
type Generator interface {
	Generate(ctx context.Context, grounding string) (string, error)
}

// DefaultGenerationPrompt instructs ModelGenerator.
const DefaultGenerationPrompt = `You write short, runnable Node.js code samples.
Use only the API surface described in the reference definitions supplied by the user.
Answer with the code only, without Markdown fences.`

// ModelGenerator asks a model for the sample.
type ModelGenerator struct {
	llm    model.Model
	prompt string
}

// NewModelGenerator creates a generator backed by llm.
func NewModelGenerator(llm model.Model, optFns ...func(g *ModelGenerator)) *ModelGenerator {
	g := &ModelGenerator{llm: llm, prompt: DefaultGenerationPrompt}
	for _, fn := range optFns {
		fn(g)
	}
	return g
}

// WithPrompt overrides the system prompt.
func WithPrompt(prompt string) func(g *ModelGenerator) {
	return func(g *ModelGenerator) { g.prompt = prompt }
}

// Generate implements Generator.
func (g *ModelGenerator) Generate(ctx context.Context, grounding string) (string, error) {
	if strings.TrimSpace(grounding) == "" {
		return "", ErrEmptyGrounding
	}

	text, err := model.GenerateText(ctx, g.llm, model.Request{
		Instructions: g.prompt,
		Contents: []core.Content{
			core.NewTextContent("user", "Reference definitions:\n\n"+grounding),
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate sample with %s: %w", g.llm.Info().Ref(), err)
	}

	return stripFences(text), nil
}

// stripFences removes a surrounding Markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}

	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// StaticGenerator returns a fixed sample for any non-empty grounding.
type StaticGenerator string

// Generate implements Generator.
func (g StaticGenerator) Generate(_ context.Context, grounding string) (string, error) {
	if strings.TrimSpace(grounding) == "" {
		return "", ErrEmptyGrounding
	}
	return string(g), nil
}
