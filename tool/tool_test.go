package tool

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/codepipe/core"
)

func newToolContext(t *testing.T) *core.ToolContext {
	t.Helper()

	rc := core.NewRunContext(
		context.Background(),
		core.SessionKey{AppName: "app", UserID: "u", SessionID: "s"},
		"run-1",
		core.WorkerInfo{Name: "worker", Type: "leaf"},
		core.NewTextContent("user", "hi"),
		make(chan core.Event, 4), nil, nil, nil,
	)

	return core.NewToolContext(rc, "fc-1")
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Success(t *testing.T) {
	sum := NewFunctionTool("sum", "Add numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	require.NoError(t, sum.Validate())

	res, err := sum.Call(newToolContext(t), map[string]any{"a": 1.0, "b": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, res)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	called := false
	ft := NewFunctionTool("needs_x", "", map[string]any{
		"type":       "object",
		"properties": map[string]any{"x": map[string]any{"type": "integer"}},
		"required":   []string{"x"},
	}, func(*core.ToolContext, map[string]any) (any, error) {
		called = true
		return nil, nil
	})

	_, err := ft.Call(newToolContext(t), map[string]any{"x": "nope"})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.False(t, called)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	boom := errors.New("boom")
	ft := NewFunctionTool("fails", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, boom
	})

	_, err := ft.Call(newToolContext(t), nil)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.ErrorIs(t, err, boom)
}

func TestFunctionTool_PassThroughToolError(t *testing.T) {
	custom := NewToolError("custom", "bad input", "CUSTOM")
	ft := NewFunctionTool("custom", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, custom
	})

	_, err := ft.Call(newToolContext(t), nil)
	assert.Same(t, custom, err)
}

func TestFunctionTool_InvalidSchema(t *testing.T) {
	ft := NewFunctionTool("broken", "", map[string]any{"type": 42}, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, nil
	})
	assert.Error(t, ft.Validate())

	_, err := ft.Call(newToolContext(t), nil)
	assert.Error(t, err)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type args struct {
		Name string `json:"name" description:"Who to greet"`
	}

	ft := NewFunctionToolFromStruct("greet", "Greets", args{}, func(_ *core.ToolContext, a map[string]any) (any, error) {
		return "hello " + a["name"].(string), nil
	})

	res, err := ft.Call(newToolContext(t), map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello ada", res)

	_, err = ft.Call(newToolContext(t), map[string]any{})
	assert.Error(t, err)
}

// -------------------- Streaming Tests --------------------

func chunks(parts ...string) StreamFunc {
	return func(*core.ToolContext, map[string]any) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			for _, p := range parts {
				if !yield(p, nil) {
					return
				}
			}
		}
	}
}

func TestStreamFunctionTool_StreamAndCall(t *testing.T) {
	st := NewStreamFunctionTool("eval", "", nil, chunks(`{"score":`, `1.0}`), nil)

	text, err := Collect(st.Stream(newToolContext(t), nil))
	require.NoError(t, err)
	assert.Equal(t, `{"score":1.0}`, text)

	// restartable
	again, err := Collect(st.Stream(newToolContext(t), nil))
	require.NoError(t, err)
	assert.Equal(t, text, again)

	res, err := st.Call(newToolContext(t), nil)
	require.NoError(t, err)
	assert.Equal(t, text, res)
}

func TestStreamFunctionTool_Finish(t *testing.T) {
	st := NewStreamFunctionTool("eval", "", nil, chunks("a", "b"),
		func(tc *core.ToolContext, _ map[string]any, text string) (any, error) {
			tc.SetState("evaluation", text)
			return len(text), nil
		})

	tc := newToolContext(t)
	res, err := st.Call(tc, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res)
	assert.Equal(t, "ab", tc.GetStateString("evaluation"))
}

func TestStreamFunctionTool_ErrorEndsStream(t *testing.T) {
	failing := func(*core.ToolContext, map[string]any) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("partial", nil) {
				return
			}
			yield("", errors.New("evaluator offline"))
		}
	}
	st := NewStreamFunctionTool("eval", "", nil, failing, nil)

	text, err := Collect(st.Stream(newToolContext(t), nil))
	assert.Equal(t, "partial", text)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)

	_, err = st.Call(newToolContext(t), nil)
	assert.Error(t, err)
}

// -------------------- Transfer Tests --------------------

func TestTransferToWorkerTool(t *testing.T) {
	tr := NewTransferToWorkerTool("grounding", "generation")
	assert.Equal(t, TransferToolName, tr.Name())

	tc := newToolContext(t)
	res, err := tr.Call(tc, map[string]any{"worker_name": "generation"})
	require.NoError(t, err)
	assert.Equal(t, "generation", res.(map[string]any)["worker_name"])
	require.NotNil(t, tc.Actions().TransferToWorker)
	assert.Equal(t, "generation", *tc.Actions().TransferToWorker)

	_, err = tr.Call(newToolContext(t), map[string]any{"worker_name": "unknown"})
	assert.Error(t, err)

	_, err = tr.Call(newToolContext(t), map[string]any{})
	assert.Error(t, err)
}

func TestToolErrorFormatting(t *testing.T) {
	assert.Equal(t, "tool error [X] in t: m", NewToolError("t", "m", "X").Error())
	assert.Equal(t, "tool error in t: m", NewToolError("t", "m", "").Error())
}
