package tool

import (
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hupe1980/codepipe/core"
	"github.com/hupe1980/codepipe/internal/util"
)

// Func is the implementation signature wrapped by FunctionTool.
type Func func(toolCtx *core.ToolContext, args map[string]any) (any, error)

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated against the declared JSON schema before the
// function runs. Failures surface as *ToolError:
//
//	VALIDATION_ERROR  -> arguments do not match the schema
//	EXECUTION_ERROR   -> the function returned a non-ToolError error
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	schema      *gojsonschema.Schema
	schemaErr   error
	fn          Func
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	getProtos := NewFunctionTool(
//	  "get_protos",
//	  "Fetch the reference protobuf definitions",
//	  map[string]any{"type": "object", "properties": map[string]any{}},
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return grounding.Fetch(tc.Context())
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	schema, err := util.CompileSchema(parameters)

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		schema:      schema,
		schemaErr:   err,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct's
// json and description tags.
func NewFunctionToolFromStruct(name, description string, structType any, fn Func) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Validate reports whether the tool is well formed.
func (t *FunctionTool) Validate() error {
	if t.name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if t.fn == nil {
		return fmt.Errorf("tool %q has no function", t.name)
	}
	if t.schemaErr != nil {
		return fmt.Errorf("tool %q has invalid schema: %w", t.name, t.schemaErr)
	}
	return nil
}

// Call validates args then invokes the function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "fc_id", toolCtx.FunctionCallID())

	if err := t.validateArgs(args); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return nil, err
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		toolErr := wrapExecError(t.name, err)
		logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)
		return nil, toolErr
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

func (t *FunctionTool) validateArgs(args map[string]any) error {
	if t.schemaErr != nil {
		return &ToolError{Tool: t.name, Message: t.schemaErr.Error(), Code: CodeValidation, cause: t.schemaErr}
	}

	if err := util.ValidateParameters(t.schema, args); err != nil {
		return &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
			cause:   err,
		}
	}

	return nil
}
