package tool

import (
	"context"
	"time"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/logging"
)

// Context is handed to a tool for one call. It carries the run's
// cancellation context, the call id, the run's event emitter and a logger.
type Context struct {
	ctx    context.Context
	callID string
	name   string
	events core.Emitter
	logger logging.Logger
}

// NewContext creates a tool context. events may be nil for tools that are
// invoked outside a run.
func NewContext(ctx context.Context, callID, name string, events core.Emitter, logger logging.Logger) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		ctx:    ctx,
		callID: callID,
		name:   name,
		events: events,
		logger: logging.With(logging.OrNoOp(logger), "tool", name, "fc_id", callID),
	}
}

// Context returns the cancellation context of the call.
func (tc *Context) Context() context.Context { return tc.ctx }

// FunctionCallID returns the model supplied call id.
func (tc *Context) FunctionCallID() string { return tc.callID }

// Logger returns a logger annotated with tool name and call id.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// Emitter returns the run's event emitter, or nil outside a run.
func (tc *Context) Emitter() core.Emitter { return tc.events }

// Emit publishes an observability event attributed to the tool. It is a
// no-op without an emitter.
func (tc *Context) Emit(kind core.Kind, payload any) {
	if tc.events == nil {
		return
	}
	tc.events.Emit(core.NewEvent(kind, tc.name, payload))
}

// Request issues a request through the run's event bus and waits for the
// consumer's response.
func (tc *Context) Request(kind core.Kind, payload any, timeout time.Duration) (any, error) {
	if tc.events == nil {
		return nil, NewToolError(tc.name, "no event channel available", CodeExecution)
	}
	return tc.events.Request(tc.ctx, kind, tc.name, payload, timeout)
}
