package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/middleware"
	"github.com/hupe1980/agentcore/model"
)

// answeringEmitter answers every request with respond.
type answeringEmitter struct {
	mu       sync.Mutex
	requests []any
	events   []core.Event
	respond  func(kind core.Kind, payload any) (any, error)
}

func (e *answeringEmitter) Emit(ev core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *answeringEmitter) Request(_ context.Context, kind core.Kind, _ string, payload any, _ time.Duration) (any, error) {
	e.mu.Lock()
	e.requests = append(e.requests, payload)
	e.mu.Unlock()
	return e.respond(kind, payload)
}

func checkCalls(t *testing.T, cb *CircuitBreaker, state *core.ExecutionState, calls ...core.FunctionCall) (*middleware.Context, *core.ExecutionState) {
	t.Helper()
	mc := middleware.NewContext(state, nil, nil)
	mc.Calls = calls
	require.NoError(t, cb.BeforeToolExecution(context.Background(), mc))
	return mc, middleware.Fold(state, mc.Transforms())
}

func TestCircuitBreaker_TripsOnThirdIdenticalCheck(t *testing.T) {
	cb := NewCircuitBreaker(3)
	call := core.FunctionCall{ID: "1", Name: "search", Arguments: `{"q":"go"}`}
	state := core.NewExecutionState(nil)

	mc, state := checkCalls(t, cb, state, call)
	assert.False(t, mc.SkipToolExecution)
	mc, state = checkCalls(t, cb, state, call)
	assert.False(t, mc.SkipToolExecution)

	mc, _ = checkCalls(t, cb, state, core.FunctionCall{ID: "3", Name: "search", Arguments: `{ "q" : "go" }`})
	assert.True(t, mc.SkipToolExecution)
	term, ok := mc.Termination()
	require.True(t, ok)
	assert.Equal(t, core.TerminationCircuitBreaker, term.Kind)
	assert.Contains(t, term.Reason, "search")
}

func TestCircuitBreaker_DifferentArgumentsReset(t *testing.T) {
	cb := NewCircuitBreaker(0)
	assert.Equal(t, DefaultCircuitBreakerThreshold, cb.Threshold())

	state := core.NewExecutionState(nil)
	for i := 0; i < 5; i++ {
		var mc *middleware.Context
		mc, state = checkCalls(t, cb, state, core.FunctionCall{Name: "search", Arguments: fmt.Sprintf(`{"q":%d}`, i%2)})
		assert.False(t, mc.SkipToolExecution)
	}
}

func TestCircuitBreaker_TripsWithinOneBatch(t *testing.T) {
	cb := NewCircuitBreaker(2)
	call := core.FunctionCall{Name: "ping"}
	mc, _ := checkCalls(t, cb, core.NewExecutionState(nil), call, call)
	assert.True(t, mc.SkipToolExecution)
}

func TestErrorThreshold_ConsecutiveFailuresAcrossIterations(t *testing.T) {
	et := NewErrorThreshold(3, nil)
	fail := core.FunctionInvocation{Name: "f", Err: errors.New("boom")}
	ok := core.FunctionInvocation{Name: "f", Result: "fine"}

	state := core.NewExecutionState(nil)
	run := func(results ...core.FunctionInvocation) *middleware.Context {
		mc := middleware.NewContext(state, nil, nil)
		mc.Results = results
		require.NoError(t, et.AfterIteration(context.Background(), mc))
		state = middleware.Fold(state, mc.Transforms())
		return mc
	}

	_, tripped := run(fail, fail).Termination()
	assert.False(t, tripped)
	_, tripped = run(ok).Termination()
	assert.False(t, tripped)
	_, tripped = run(fail, fail).Termination()
	assert.False(t, tripped)

	term, tripped := run(fail).Termination()
	require.True(t, tripped)
	assert.Equal(t, core.TerminationErrorThreshold, term.Kind)
	assert.Contains(t, term.Reason, "boom")
}

func TestPrefixClassifier(t *testing.T) {
	c := PrefixClassifier()
	assert.True(t, c.IsFailure(core.FunctionInvocation{Result: "Error: no such file"}))
	assert.True(t, c.IsFailure(core.FunctionInvocation{Result: "  Failed: quota"}))
	assert.True(t, c.IsFailure(core.FunctionInvocation{Err: errors.New("x")}))
	assert.False(t, c.IsFailure(core.FunctionInvocation{Result: "All good"}))
	assert.False(t, c.IsFailure(core.FunctionInvocation{Result: 42}))
}

func permissionContext(state *core.ExecutionState, events core.Emitter) (*middleware.FunctionContext, *core.FunctionInvocation) {
	inv := core.NewFunctionInvocation(core.FunctionCall{ID: "c1", Name: "delete_file", Arguments: `{"path":"/tmp/x"}`})
	return middleware.NewFunctionContext(state, &inv, events, nil), &inv
}

func TestPermission_ApprovedRunsAndDeniedBlocks(t *testing.T) {
	approve := true
	em := &answeringEmitter{respond: func(core.Kind, any) (any, error) {
		return core.PermissionResponse{Approved: approve, Reason: "not today"}, nil
	}}
	p := NewPermission(nil)

	fc, inv := permissionContext(core.NewExecutionState(nil), em)
	require.NoError(t, p.BeforeFunction(context.Background(), fc))
	assert.False(t, inv.Blocked)

	approve = false
	fc, inv = permissionContext(core.NewExecutionState(nil), em)
	require.NoError(t, p.BeforeFunction(context.Background(), fc))
	assert.True(t, inv.Blocked)
	assert.Equal(t, "Permission denied for delete_file: not today", inv.Result)

	require.Len(t, em.requests, 2)
	req := em.requests[0].(core.PermissionRequest)
	assert.Equal(t, "delete_file", req.Function)
	assert.Equal(t, "c1", req.CallID)
}

func TestPermission_TimeoutBlocksWithError(t *testing.T) {
	em := &answeringEmitter{respond: func(core.Kind, any) (any, error) {
		return nil, fmt.Errorf("request r1: %w", core.ErrTimeout)
	}}
	p := NewPermission(func(string) bool { return true }, func(o *PermissionOptions) { o.Timeout = time.Millisecond })

	fc, inv := permissionContext(core.NewExecutionState(nil), em)
	require.NoError(t, p.BeforeFunction(context.Background(), fc))
	assert.True(t, inv.Blocked)
	assert.ErrorIs(t, inv.Err, core.ErrTimeout)
}

func TestPermission_UnprotectedFunctionSkipsRequest(t *testing.T) {
	em := &answeringEmitter{respond: func(core.Kind, any) (any, error) { return true, nil }}
	p := NewPermission(func(name string) bool { return name == "other" })

	fc, inv := permissionContext(core.NewExecutionState(nil), em)
	require.NoError(t, p.BeforeFunction(context.Background(), fc))
	assert.False(t, inv.Blocked)
	assert.Empty(t, em.requests)
}

func TestPermission_RememberedDecision(t *testing.T) {
	em := &answeringEmitter{respond: func(core.Kind, any) (any, error) {
		return &core.PermissionResponse{Approved: false, Remember: true}, nil
	}}
	p := NewPermission(nil)

	state := core.NewExecutionState(nil)
	fc, _ := permissionContext(state, em)
	require.NoError(t, p.BeforeFunction(context.Background(), fc))
	state = middleware.Fold(state, fc.Transforms())

	fc, inv := permissionContext(state, em)
	require.NoError(t, p.BeforeFunction(context.Background(), fc))
	assert.True(t, inv.Blocked)
	assert.Len(t, em.requests, 1, "remembered decisions are not asked again")
}

func TestContinuation_ExtendsBudgetOnApproval(t *testing.T) {
	em := &answeringEmitter{respond: func(core.Kind, any) (any, error) {
		return core.ContinuationResponse{Approved: true}, nil
	}}
	c := NewContinuation(func(o *ContinuationOptions) { o.Extension = 2 })

	state := core.NewExecutionState(nil).WithIterationBudget(3)

	mc := middleware.NewContext(state.WithIteration(1), em, nil)
	require.NoError(t, c.BeforeIteration(context.Background(), mc))
	assert.Empty(t, em.requests, "budget not yet exhausted")

	mc = middleware.NewContext(state.WithIteration(3), em, nil)
	require.NoError(t, c.BeforeIteration(context.Background(), mc))
	next := middleware.Fold(mc.State, mc.Transforms())

	budget, ok := next.IterationBudget()
	require.True(t, ok)
	assert.Equal(t, 5, budget)
	require.Len(t, em.requests, 1)
	assert.Equal(t, core.ContinuationRequest{Iteration: 3, Budget: 3, Extension: 2}, em.requests[0])
	require.Len(t, em.events, 1)
	assert.Equal(t, core.EventMiddlewareNotice, em.events[0].Kind)
}

func TestContinuation_DeniedLeavesBudget(t *testing.T) {
	em := &answeringEmitter{respond: func(core.Kind, any) (any, error) { return false, nil }}
	c := NewContinuation()

	mc := middleware.NewContext(core.NewExecutionState(nil).WithIterationBudget(2).WithIteration(2), em, nil)
	require.NoError(t, c.BeforeIteration(context.Background(), mc))
	assert.Empty(t, mc.Transforms())
}

func TestRetry_RetriesTransientErrors(t *testing.T) {
	inv := model.NewScriptedInvoker()
	inv.AddError(errors.New("503"))
	inv.AddError(errors.New("503"))
	inv.AddResponse(model.NewTextResponse("ok"))

	r := Retry(inv, func(o *RetryOptions) {
		o.BaseDelay = time.Millisecond
		o.Jitter = false
	})
	resp, err := r.Invoke(context.Background(), model.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, 3, inv.Calls())
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	inv := model.NewScriptedInvoker()
	inv.AddError(permanent)
	inv.AddResponse(model.NewTextResponse("never"))

	r := Retry(inv, func(o *RetryOptions) {
		o.BaseDelay = time.Millisecond
		o.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }
	})
	_, err := r.Invoke(context.Background(), model.Request{})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, inv.Calls())
}

func TestLogging_WritesOneRecordPerHook(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: logging.FormatJSON, Output: &buf})

	p := middleware.NewPipeline()
	p.Use(NewLogging(logger))

	ctx := context.Background()
	state := core.NewExecutionState(nil).Terminate(core.TerminationNatural, core.ReasonNaturalCompletion)
	mc := middleware.NewContext(state, nil, nil)
	mc.Calls = []core.FunctionCall{{ID: "1", Name: "lookup"}}
	inv := core.NewFunctionInvocation(mc.Calls[0])
	fc := middleware.NewFunctionContext(state, &inv, nil, nil)

	require.NoError(t, p.BeforeTurn(ctx, mc))
	require.NoError(t, p.BeforeIteration(ctx, mc))
	require.NoError(t, p.BeforeToolExecution(ctx, mc))
	require.NoError(t, p.BeforeFunction(ctx, fc))
	require.NoError(t, p.AfterFunction(ctx, fc))
	require.NoError(t, p.AfterIteration(ctx, mc))
	require.NoError(t, p.AfterTurn(ctx, mc))

	out := buf.String()
	for _, msg := range []string{
		"policy.logging.turn.start",
		"policy.logging.iteration.start",
		"policy.logging.tools.requested",
		"policy.logging.function.start",
		"policy.logging.function.end",
		"policy.logging.iteration.end",
		"policy.logging.turn.end",
	} {
		assert.Contains(t, out, msg)
	}
	assert.Contains(t, out, "lookup")
	assert.False(t, fc.Blocked())
}
