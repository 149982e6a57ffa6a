package tool

import (
	"iter"
	"time"

	"github.com/hupe1980/codepipe/core"
)

// StreamFunc produces the chunks of a streaming tool.
type StreamFunc func(toolCtx *core.ToolContext, args map[string]any) iter.Seq2[string, error]

// FinishFunc turns the collected stream text into the tool result. It may
// validate the text and record state through toolCtx.
type FinishFunc func(toolCtx *core.ToolContext, args map[string]any, text string) (any, error)

// StreamFunctionTool adapts a chunk-producing function to StreamingTool.
// Call drains the stream and hands the text to the optional finish func.
type StreamFunctionTool struct {
	*FunctionTool
	stream StreamFunc
	finish FinishFunc
}

// NewStreamFunctionTool constructs a StreamFunctionTool. finish may be nil,
// in which case Call returns the collected text.
func NewStreamFunctionTool(name, description string, parameters map[string]any, stream StreamFunc, finish FinishFunc) *StreamFunctionTool {
	st := &StreamFunctionTool{stream: stream, finish: finish}
	st.FunctionTool = NewFunctionTool(name, description, parameters, st.collect)
	return st
}

// Stream validates args and yields the underlying chunks.
func (t *StreamFunctionTool) Stream(toolCtx *core.ToolContext, args map[string]any) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := t.validateArgs(args); err != nil {
			yield("", err)
			return
		}

		for chunk, err := range t.stream(toolCtx, args) {
			if err != nil {
				yield("", wrapExecError(t.name, err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func (t *StreamFunctionTool) collect(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()

	text, err := Collect(t.stream(toolCtx, args))
	if err != nil {
		return nil, err
	}

	toolCtx.LogDebug("tool.stream.collected", "tool", t.name, "bytes", len(text), "duration_ms", time.Since(start).Milliseconds())

	if t.finish == nil {
		return text, nil
	}

	return t.finish(toolCtx, args, text)
}
