package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/tool"
)

// RecordingTool wraps a FunctionTool and records every execution.
// Example:
//
//	rec := testutil.NewRecordingTool("get_weather").Returns("sunny").Build()
//	reg, _ := tool.NewRegistry(rec)
//	...
//	require.Equal(t, 1, rec.Calls())
type RecordingTool struct {
	*tool.FunctionTool

	calls atomic.Int32
	mu    sync.Mutex
	args  []map[string]any
}

// Calls returns how many times the tool executed.
func (r *RecordingTool) Calls() int { return int(r.calls.Load()) }

// Args returns the decoded arguments of every execution in order.
func (r *RecordingTool) Args() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, len(r.args))
	copy(out, r.args)
	return out
}

// RecordingToolBuilder configures a RecordingTool (chainable).
type RecordingToolBuilder struct {
	name       string
	result     any
	err        error
	permission bool
	fn         func(tc *tool.Context, args map[string]any) (any, error)
}

// NewRecordingTool starts a builder for a tool named name that returns "ok".
func NewRecordingTool(name string) *RecordingToolBuilder {
	return &RecordingToolBuilder{name: name, result: "ok"}
}

// Returns sets the result of every execution (chainable).
func (b *RecordingToolBuilder) Returns(v any) *RecordingToolBuilder { b.result = v; return b }

// Fails makes every execution return err (chainable).
func (b *RecordingToolBuilder) Fails(err error) *RecordingToolBuilder { b.err = err; return b }

// RequiresPermission marks the tool as permissioned (chainable).
func (b *RecordingToolBuilder) RequiresPermission() *RecordingToolBuilder {
	b.permission = true
	return b
}

// Do replaces the canned result with fn (chainable).
func (b *RecordingToolBuilder) Do(fn func(tc *tool.Context, args map[string]any) (any, error)) *RecordingToolBuilder {
	b.fn = fn
	return b
}

// Build constructs the tool.
func (b *RecordingToolBuilder) Build() *RecordingTool {
	rec := &RecordingTool{}
	var optFns []func(o *tool.FunctionToolOptions)
	if b.permission {
		optFns = append(optFns, tool.WithPermission())
	}

	rec.FunctionTool = tool.NewFunctionTool(b.name, "recording tool "+b.name, nil, func(tc *tool.Context, args map[string]any) (any, error) {
		rec.calls.Add(1)
		rec.mu.Lock()
		rec.args = append(rec.args, args)
		rec.mu.Unlock()

		if b.fn != nil {
			return b.fn(tc, args)
		}
		if b.err != nil {
			return nil, b.err
		}
		return b.result, nil
	}, optFns...)
	return rec
}

// Kinds returns the kinds of events in order.
func Kinds(events []core.Event) []core.Kind {
	out := make([]core.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

// OfKind filters events by kind.
func OfKind(events []core.Event, kind core.Kind) []core.Event {
	var out []core.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
