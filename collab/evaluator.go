package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrEmptySample is returned when there is no code sample to evaluate.
var ErrEmptySample = errors.New("code sample must not be empty")

// Evaluation is the verdict on a code sample.
type Evaluation struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// Validate checks the score range.
func (e Evaluation) Validate() error {
	if e.Score < 0 || e.Score > 1 {
		return fmt.Errorf("score %v out of range [0,1]", e.Score)
	}
	return nil
}

// ToMap returns the evaluation as a state-friendly map.
func (e Evaluation) ToMap() map[string]any {
	return map[string]any{"score": e.Score, "explanation": e.Explanation}
}

// ParseEvaluation decodes and validates a JSON evaluation.
func ParseEvaluation(text string) (Evaluation, error) {
	var e Evaluation
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &e); err != nil {
		return Evaluation{}, fmt.Errorf("decode evaluation: %w", err)
	}

	if err := e.Validate(); err != nil {
		return Evaluation{}, err
	}

	return e, nil
}

// Evaluator scores a code sample. The returned sequence yields JSON chunks
// whose concatenation is one Evaluation object; every call starts a fresh
// sequence.
type Evaluator interface {
	Evaluate(ctx context.Context, sample string) iter.Seq2[string, error]
}

// DefaultEvaluation is the verdict of the zero StaticEvaluator.
var DefaultEvaluation = Evaluation{Score: 1.0, Explanation: "This code sample is great! No notes."}

// StaticEvaluator returns the same verdict for every sample as a single
// chunk.
type StaticEvaluator struct {
	Evaluation Evaluation
}

// NewStaticEvaluator returns an evaluator with DefaultEvaluation.
func NewStaticEvaluator() *StaticEvaluator {
	return &StaticEvaluator{Evaluation: DefaultEvaluation}
}

// Evaluate implements Evaluator.
func (e *StaticEvaluator) Evaluate(ctx context.Context, sample string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}

		if strings.TrimSpace(sample) == "" {
			yield("", ErrEmptySample)
			return
		}

		b, err := json.Marshal(e.Evaluation)
		if err != nil {
			yield("", err)
			return
		}

		yield(string(b), nil)
	}
}
