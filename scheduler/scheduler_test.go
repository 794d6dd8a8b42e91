package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/eventbus"
	"github.com/hupe1980/agentcore/middleware"
	"github.com/hupe1980/agentcore/policy"
)

// instrumentedRegistry records executions and the peak number of calls
// running at the same time.
type instrumentedRegistry struct {
	delay    time.Duration
	running  atomic.Int32
	peak     atomic.Int32
	executed atomic.Int32

	mu    sync.Mutex
	order []string
}

func (r *instrumentedRegistry) Call(ctx context.Context, call core.FunctionCall, _ core.Emitter) (any, error) {
	cur := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		p := r.peak.Load()
		if cur <= p || r.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	r.executed.Add(1)
	r.mu.Lock()
	r.order = append(r.order, call.ID)
	r.mu.Unlock()

	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch call.Name {
	case "fail":
		return nil, errors.New("tool failed")
	case "panic":
		panic("tool bug")
	}
	return "result-" + call.ID, nil
}

func calls(n int, name string) []core.FunctionCall {
	out := make([]core.FunctionCall, n)
	for i := range out {
		out[i] = core.FunctionCall{ID: fmt.Sprintf("c%d", i), Name: name, Arguments: fmt.Sprintf(`{"i":%d}`, i)}
	}
	return out
}

func TestScheduler_ConcurrencyBoundNeverExceeded(t *testing.T) {
	reg := &instrumentedRegistry{delay: 20 * time.Millisecond}
	s, err := New(reg, func(o *Options) { o.MaxConcurrency = 2 })
	require.NoError(t, err)

	mc := middleware.NewContext(core.NewExecutionState(nil), nil, nil)
	res, err := s.Execute(context.Background(), mc, calls(8, "work"))
	require.NoError(t, err)

	assert.LessOrEqual(t, reg.peak.Load(), int32(2))
	assert.Equal(t, int32(8), reg.executed.Load())
	require.Len(t, res.Invocations, 8)
	for i, inv := range res.Invocations {
		assert.Equal(t, fmt.Sprintf("c%d", i), inv.CallID, "results keep request order")
		assert.Equal(t, "result-"+inv.CallID, inv.Result)
	}
}

func TestScheduler_FailuresAreIsolated(t *testing.T) {
	reg := &instrumentedRegistry{delay: time.Millisecond}
	s, err := New(reg)
	require.NoError(t, err)

	batch := []core.FunctionCall{
		{ID: "a", Name: "work"},
		{ID: "b", Name: "fail"},
		{ID: "c", Name: "panic"},
		{ID: "d", Name: "work"},
	}
	res, err := s.Execute(context.Background(), middleware.NewContext(core.NewExecutionState(nil), nil, nil), batch)
	require.NoError(t, err)

	assert.Equal(t, "result-a", res.Invocations[0].Result)
	assert.Equal(t, "result-d", res.Invocations[3].Result)

	var fe *core.FunctionExecutionError
	require.ErrorAs(t, res.Invocations[1].Err, &fe)
	assert.Equal(t, "b", fe.CallID)

	var pe *core.PanicError
	require.ErrorAs(t, res.Invocations[2].Err, &pe)
	assert.Equal(t, "tool bug", pe.Value)
}

func TestScheduler_CompletedSignaturesTransform(t *testing.T) {
	reg := &instrumentedRegistry{}
	s, err := New(reg)
	require.NoError(t, err)

	batch := calls(2, "work")
	res, err := s.Execute(context.Background(), middleware.NewContext(core.NewExecutionState(nil), nil, nil), batch)
	require.NoError(t, err)

	state := middleware.Fold(core.NewExecutionState(nil), res.Transforms)
	assert.True(t, state.HasCompleted(batch[0].Signature()))
	assert.True(t, state.HasCompleted(batch[1].Signature()))
}

func busDrainer(b *eventbus.Bus, seen func(core.Event)) Drainer {
	return DrainerFunc(func(context.Context) {
		for _, ev := range b.TryDrain() {
			if seen != nil {
				seen(ev)
			}
		}
	})
}

func TestScheduler_UnansweredPermissionTimesOutAndNeverExecutes(t *testing.T) {
	bus := eventbus.New("agent")
	defer bus.Close()

	reg := &instrumentedRegistry{}
	perm := policy.NewPermission(nil, func(o *policy.PermissionOptions) { o.Timeout = 50 * time.Millisecond })

	var requests atomic.Int32
	s, err := New(reg, func(o *Options) {
		o.Pipeline = middleware.NewPipeline(perm)
		o.PollInterval = 5 * time.Millisecond
		o.Drainer = busDrainer(bus, func(ev core.Event) {
			if ev.Kind == core.EventPermissionRequest {
				requests.Add(1)
			}
		})
	})
	require.NoError(t, err)

	mc := middleware.NewContext(core.NewExecutionState(nil), bus, nil)
	res, err := s.Execute(context.Background(), mc, []core.FunctionCall{{ID: "x", Name: "delete_file"}})
	require.NoError(t, err)

	inv := res.Invocations[0]
	assert.True(t, inv.Blocked)
	assert.ErrorIs(t, inv.Err, core.ErrTimeout)
	assert.Equal(t, int32(0), reg.executed.Load())
	assert.Equal(t, int32(1), requests.Load(), "the request reached the drain loop while the batch was outstanding")
}

func TestScheduler_PermissionAnsweredMidBatch(t *testing.T) {
	bus := eventbus.New("agent")
	defer bus.Close()

	reg := &instrumentedRegistry{delay: time.Millisecond}
	perm := policy.NewPermission(func(name string) bool { return name == "guarded" })

	s, err := New(reg, func(o *Options) {
		o.Pipeline = middleware.NewPipeline(perm)
		o.PollInterval = 5 * time.Millisecond
		o.Drainer = busDrainer(bus, func(ev core.Event) {
			if ev.Kind == core.EventPermissionRequest {
				bus.SubmitResponse(ev.RequestID, core.PermissionResponse{Approved: true})
			}
		})
	})
	require.NoError(t, err)

	batch := []core.FunctionCall{{ID: "g", Name: "guarded"}, {ID: "f", Name: "free"}}
	res, err := s.Execute(context.Background(), middleware.NewContext(core.NewExecutionState(nil), bus, nil), batch)
	require.NoError(t, err)

	assert.Equal(t, "result-g", res.Invocations[0].Result)
	assert.Equal(t, "result-f", res.Invocations[1].Result)
	assert.Equal(t, int32(2), reg.executed.Load())
}

func TestScheduler_CancellationReturnsError(t *testing.T) {
	reg := &instrumentedRegistry{delay: time.Second}
	after := &countingHook{}
	s, err := New(reg, func(o *Options) { o.Pipeline = middleware.NewPipeline(after) })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := s.Execute(ctx, middleware.NewContext(core.NewExecutionState(nil), nil, nil), calls(2, "work"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, res)
	assert.Equal(t, int32(2), after.after.Load(), "after-function hooks finished before Execute returned")
}

func TestScheduler_BeforeHooksSettleBeforeAnyExecution(t *testing.T) {
	reg := &instrumentedRegistry{}
	hold := &holdingHook{name: "held", entered: make(chan struct{}), release: make(chan struct{})}
	s, err := New(reg, func(o *Options) { o.Pipeline = middleware.NewPipeline(hold) })
	require.NoError(t, err)

	batch := []core.FunctionCall{{ID: "a", Name: "free"}, {ID: "b", Name: "held"}}
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Execute(context.Background(), middleware.NewContext(core.NewExecutionState(nil), nil, nil), batch)
		done <- outcome{res, err}
	}()

	<-hold.entered
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), reg.executed.Load(), "no call runs while a sibling's before-function hook is pending")

	close(hold.release)
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, int32(2), reg.executed.Load())
	assert.Equal(t, "result-a", out.res.Invocations[0].Result)
	assert.Equal(t, "result-b", out.res.Invocations[1].Result)
}

// holdingHook parks the before-function hook of one function until released.
type holdingHook struct {
	name    string
	entered chan struct{}
	release chan struct{}
}

func (h *holdingHook) Name() string { return "holding" }

func (h *holdingHook) BeforeFunction(ctx context.Context, fc *middleware.FunctionContext) error {
	if fc.Invocation.Name != h.name {
		return nil
	}
	close(h.entered)
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return nil
}

type countingHook struct {
	after atomic.Int32
}

func (c *countingHook) Name() string { return "counting" }

func (c *countingHook) AfterFunction(context.Context, *middleware.FunctionContext) error {
	c.after.Add(1)
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&instrumentedRegistry{}, func(o *Options) { o.MaxConcurrency = 0 })
	assert.Error(t, err)
}
