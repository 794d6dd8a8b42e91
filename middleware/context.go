package middleware

import (
	"sync"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/model"
)

// Context is shared by all hooks of one batch. Fields populated by the loop
// depend on the extension point: Response and Calls are set from
// BeforeToolExecution on, Results from AfterIteration on.
type Context struct {
	// State is the read-only snapshot the batch runs against.
	State *core.ExecutionState

	Messages []core.Content
	Tools    []model.ToolDescriptor
	Options  model.Options

	Response *model.Response
	Calls    []core.FunctionCall
	Results  []core.FunctionInvocation

	// SkipModelCall makes the loop use SubstituteResponse instead of
	// invoking the model.
	SkipModelCall      bool
	SubstituteResponse *model.Response

	// SkipToolExecution drops the requested calls of this iteration.
	SkipToolExecution bool

	Events core.Emitter
	Logger logging.Logger

	termination *core.Termination
	transforms  []core.StateTransform
}

// NewContext creates a batch context for state.
func NewContext(state *core.ExecutionState, events core.Emitter, logger logging.Logger) *Context {
	return &Context{
		State:  state,
		Events: events,
		Logger: logging.OrNoOp(logger),
	}
}

// SkipModel replaces the model call of this iteration with response.
func (c *Context) SkipModel(response *model.Response) {
	c.SkipModelCall = true
	c.SubstituteResponse = response
}

// Terminate signals that the run must stop. The first signal wins.
func (c *Context) Terminate(kind core.TerminationKind, reason string) {
	if c.termination != nil {
		return
	}
	c.termination = &core.Termination{Kind: kind, Reason: reason}
}

// Termination returns the termination signal raised by a hook, if any.
func (c *Context) Termination() (core.Termination, bool) {
	if c.termination == nil {
		return core.Termination{}, false
	}
	return *c.termination, true
}

// AddTransform defers a state update until the owner folds the batch.
func (c *Context) AddTransform(fn core.StateTransform) {
	if fn != nil {
		c.transforms = append(c.transforms, fn)
	}
}

// Transforms returns the deferred state updates in hook order.
func (c *Context) Transforms() []core.StateTransform {
	return c.transforms
}

// TakeTransforms returns the deferred state updates and clears them, so a
// context reused across batches is folded once per batch.
func (c *Context) TakeTransforms() []core.StateTransform {
	out := c.transforms
	c.transforms = nil
	return out
}

// Notice emits a middleware notice on the run's event stream.
func (c *Context) Notice(middleware, message string) {
	emitNotice(c.Events, middleware, message)
}

// FunctionContext is handed to the function hooks of one call.
type FunctionContext struct {
	State      *core.ExecutionState
	Invocation *core.FunctionInvocation
	Events     core.Emitter
	Logger     logging.Logger

	mu         sync.Mutex
	transforms []core.StateTransform
}

// NewFunctionContext creates the hook context for inv.
func NewFunctionContext(state *core.ExecutionState, inv *core.FunctionInvocation, events core.Emitter, logger logging.Logger) *FunctionContext {
	return &FunctionContext{
		State:      state,
		Invocation: inv,
		Events:     events,
		Logger:     logging.OrNoOp(logger),
	}
}

// Block prevents the call from executing and substitutes result.
func (f *FunctionContext) Block(result any) {
	f.Invocation.Blocked = true
	f.Invocation.Result = result
	f.Invocation.Err = nil
}

// BlockWithError prevents the call from executing and substitutes err.
func (f *FunctionContext) BlockWithError(err error) {
	f.Invocation.Blocked = true
	f.Invocation.Result = nil
	f.Invocation.Err = err
}

// Blocked reports whether a hook blocked the call.
func (f *FunctionContext) Blocked() bool {
	return f.Invocation.Blocked
}

// AddTransform defers a state update until the scheduler folds the batch.
func (f *FunctionContext) AddTransform(fn core.StateTransform) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transforms = append(f.transforms, fn)
}

// Transforms returns the deferred state updates in hook order.
func (f *FunctionContext) Transforms() []core.StateTransform {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.StateTransform(nil), f.transforms...)
}

// Notice emits a middleware notice on the run's event stream.
func (f *FunctionContext) Notice(middleware, message string) {
	emitNotice(f.Events, middleware, message)
}

func emitNotice(events core.Emitter, middleware, message string) {
	if events == nil {
		return
	}
	events.Emit(core.NewEvent(core.EventMiddlewareNotice, middleware, core.MiddlewareNoticePayload{
		Middleware: middleware,
		Message:    message,
	}))
}

// Fold applies transforms to state in order. A transform returning nil
// leaves the state unchanged.
func Fold(state *core.ExecutionState, transforms []core.StateTransform) *core.ExecutionState {
	for _, fn := range transforms {
		if next := fn(state); next != nil {
			state = next
		}
	}
	return state
}
