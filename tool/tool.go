// Package tool implements the function registry consumed by the scheduler:
// tools invoked by name with schema validated arguments, consistent error
// codes and descriptors handed to the model.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentcore/internal/util"
)

// Tool defines a named function the model may call.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Return errors instead of panicking
//   - Be safe for concurrent use; the scheduler runs calls in parallel
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description is provided to the model to help it decide when to call the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with arguments already decoded from JSON.
	Call(tc *Context, args map[string]any) (any, error)
}

// PermissionedTool is implemented by tools that declare whether a call
// needs consumer approval before it executes.
type PermissionedTool interface {
	RequiresPermission() bool
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	cause   error
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *ToolError) Unwrap() error { return e.cause }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
