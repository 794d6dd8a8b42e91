package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/model"
)

type tracer struct {
	name string
	log  *[]string
	fail Hook
}

func (m *tracer) Name() string { return m.name }

func (m *tracer) record(h Hook) error {
	*m.log = append(*m.log, m.name+":"+string(h))
	if m.fail == h {
		return errors.New("refused")
	}
	return nil
}

func (m *tracer) BeforeIteration(context.Context, *Context) error { return m.record(HookBeforeIteration) }
func (m *tracer) AfterIteration(context.Context, *Context) error  { return m.record(HookAfterIteration) }
func (m *tracer) BeforeFunction(context.Context, *FunctionContext) error {
	return m.record(HookBeforeFunction)
}

type nameOnly struct{}

func (nameOnly) Name() string { return "noop" }

func TestPipeline_OrderBeforeForwardAfterReverse(t *testing.T) {
	var log []string
	p := NewPipeline(&tracer{name: "a", log: &log}, nameOnly{}, &tracer{name: "b", log: &log})
	mc := NewContext(core.NewExecutionState(nil), nil, nil)

	require.NoError(t, p.BeforeIteration(context.Background(), mc))
	require.NoError(t, p.AfterIteration(context.Background(), mc))
	require.NoError(t, p.BeforeTurn(context.Background(), mc))

	assert.Equal(t, []string{
		"a:before_iteration", "b:before_iteration",
		"b:after_iteration", "a:after_iteration",
	}, log)
}

func TestPipeline_ErrorStopsBatch(t *testing.T) {
	var log []string
	p := NewPipeline(
		&tracer{name: "a", log: &log, fail: HookBeforeIteration},
		&tracer{name: "b", log: &log},
	)

	err := p.BeforeIteration(context.Background(), NewContext(core.NewExecutionState(nil), nil, nil))
	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "a", herr.Middleware)
	assert.Equal(t, HookBeforeIteration, herr.Hook)
	assert.Equal(t, []string{"a:before_iteration"}, log)
}

type blocker struct{}

func (blocker) Name() string { return "blocker" }

func (blocker) BeforeFunction(_ context.Context, fc *FunctionContext) error {
	fc.Block("denied")
	return nil
}

func TestPipeline_BeforeFunctionStopsAfterBlock(t *testing.T) {
	var log []string
	p := NewPipeline(blocker{}, &tracer{name: "later", log: &log})

	inv := core.NewFunctionInvocation(core.FunctionCall{ID: "1", Name: "rm"})
	fc := NewFunctionContext(core.NewExecutionState(nil), &inv, nil, nil)
	require.NoError(t, p.BeforeFunction(context.Background(), fc))

	assert.True(t, inv.Blocked)
	assert.Equal(t, "denied", inv.Result)
	assert.Empty(t, log)
}

func TestContext_FlagsAndTermination(t *testing.T) {
	mc := NewContext(core.NewExecutionState(nil), nil, nil)

	mc.SkipModel(model.NewTextResponse("cached"))
	assert.True(t, mc.SkipModelCall)
	assert.Equal(t, "cached", mc.SubstituteResponse.Text())

	_, ok := mc.Termination()
	assert.False(t, ok)

	mc.Terminate(core.TerminationMiddleware, "first")
	mc.Terminate(core.TerminationMiddleware, "second")
	term, ok := mc.Termination()
	require.True(t, ok)
	assert.Equal(t, "first", term.Reason)
}

func TestFold_AppliesInOrderAndSkipsNil(t *testing.T) {
	s := core.NewExecutionState(nil)
	out := Fold(s, []core.StateTransform{
		func(s *core.ExecutionState) *core.ExecutionState { return s.WithMiddlewareState("k", "one") },
		func(*core.ExecutionState) *core.ExecutionState { return nil },
		func(s *core.ExecutionState) *core.ExecutionState { return s.WithMiddlewareState("k", "two") },
	})

	v, _ := out.MiddlewareState("k")
	assert.Equal(t, "two", v)
	_, ok := s.MiddlewareState("k")
	assert.False(t, ok)
}

type noticeRecorder struct{ events []core.Event }

func (n *noticeRecorder) Emit(ev core.Event) { n.events = append(n.events, ev) }
func (n *noticeRecorder) Request(context.Context, core.Kind, string, any, time.Duration) (any, error) {
	return nil, nil
}

func TestContext_Notice(t *testing.T) {
	rec := &noticeRecorder{}
	mc := NewContext(core.NewExecutionState(nil), rec, nil)
	mc.Notice("budget", "extended")

	require.Len(t, rec.events, 1)
	assert.Equal(t, core.EventMiddlewareNotice, rec.events[0].Kind)
	assert.Equal(t, core.MiddlewareNoticePayload{Middleware: "budget", Message: "extended"}, rec.events[0].Payload)
}
