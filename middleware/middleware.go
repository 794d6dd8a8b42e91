package middleware

import (
	"context"
	"fmt"
)

// Hook identifies an extension point of the agentic loop.
type Hook string

const (
	HookBeforeTurn          Hook = "before_turn"
	HookBeforeIteration     Hook = "before_iteration"
	HookBeforeToolExecution Hook = "before_tool_execution"
	HookBeforeFunction      Hook = "before_function"
	HookAfterFunction       Hook = "after_function"
	HookAfterIteration      Hook = "after_iteration"
	HookAfterTurn           Hook = "after_turn"
)

// Middleware is the common contract of every loop policy. A middleware opts
// into extension points by implementing any of the hook interfaces below;
// unimplemented hooks are no-ops.
//
// Function hooks (BeforeFunction, AfterFunction) run concurrently for the
// calls of one batch and must be safe for concurrent use.
type Middleware interface {
	// Name identifies the middleware in logs, notices and its state key.
	Name() string
}

// BeforeTurnHook runs once before the first iteration of a run.
type BeforeTurnHook interface {
	BeforeTurn(ctx context.Context, mc *Context) error
}

// BeforeIterationHook runs before the model is invoked.
type BeforeIterationHook interface {
	BeforeIteration(ctx context.Context, mc *Context) error
}

// BeforeToolExecutionHook runs after the model responded with function
// calls and before any of them is scheduled.
type BeforeToolExecutionHook interface {
	BeforeToolExecution(ctx context.Context, mc *Context) error
}

// BeforeFunctionHook runs for each call before it executes.
type BeforeFunctionHook interface {
	BeforeFunction(ctx context.Context, fc *FunctionContext) error
}

// AfterFunctionHook runs for each call as soon as it settles.
type AfterFunctionHook interface {
	AfterFunction(ctx context.Context, fc *FunctionContext) error
}

// AfterIterationHook runs after all calls of an iteration settled.
type AfterIterationHook interface {
	AfterIteration(ctx context.Context, mc *Context) error
}

// AfterTurnHook runs once after the run terminated.
type AfterTurnHook interface {
	AfterTurn(ctx context.Context, mc *Context) error
}

// HookError is returned when a hook fails. It stops the remaining hooks of
// the batch.
type HookError struct {
	Middleware string
	Hook       Hook
	Err        error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("middleware %s: %s: %v", e.Middleware, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
