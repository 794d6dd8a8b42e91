package tool

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentcore/internal/util"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Responsibilities:
//   - Holds a JSON schema parameter definition
//   - Validates model supplied arguments against that schema before execution
//   - Normalizes error handling so callers receive *ToolError with consistent codes:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use by multiple goroutines.
type FunctionTool struct {
	name               string
	description        string
	parameters         map[string]any
	requiresPermission bool
	fn                 func(tc *Context, args map[string]any) (any, error)
}

// FunctionToolOptions configures optional FunctionTool metadata.
type FunctionToolOptions struct {
	// RequiresPermission marks calls as needing consumer approval.
	RequiresPermission bool
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := tool.NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *tool.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(tc *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, f := range optFns {
		f(&opts)
	}
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{
		name:               name,
		description:        description,
		parameters:         parameters,
		requiresPermission: opts.RequiresPermission,
		fn:                 fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct via
// JSON schema reflection. Mark mandatory fields with `required:"true"` and
// document them with `description:"..."`.
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" required:"true" description:"First addend"`
//	  B float64 `json:"b" required:"true" description:"Second addend"`
//	}
//
//	sumTool, err := tool.NewFunctionToolFromStruct("calculate_sum", "Calculate the sum of two numbers", SumArgs{}, fn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(tc *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) (*FunctionTool, error) {
	schema, err := util.ReflectSchema(structType)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return NewFunctionTool(name, description, schema, fn, optFns...), nil
}

// WithPermission marks a FunctionTool as requiring consumer approval.
func WithPermission() func(o *FunctionToolOptions) {
	return func(o *FunctionToolOptions) { o.RequiresPermission = true }
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// RequiresPermission implements PermissionedTool.
func (t *FunctionTool) RequiresPermission() bool { return t.requiresPermission }

// Call validates the provided args against the declared schema then invokes
// the underlying function.
//
// Error Semantics:
//
//	*ToolError (returned directly)  -> forwarded unchanged
//	validation failure              -> *ToolError{Code: "VALIDATION_ERROR"}
//	other error                     -> *ToolError{Code: "EXECUTION_ERROR"}
func (t *FunctionTool) Call(tc *Context, args map[string]any) (any, error) {
	logger := tc.Logger()
	start := time.Now()

	logger.Debug("tool.call.start")

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		logger.Warn("tool.call.validation_failed", "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
			cause:   err,
		}
	}

	result, err := t.fn(tc, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			logger.Error("tool.call.error", "error", toolErr.Message)
			return nil, toolErr
		}

		logger.Error("tool.call.error", "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
			cause:   err,
		}
	}

	logger.Debug("tool.call.success", "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
