package scheduler

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/internal/validate"
	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/middleware"
)

// FunctionRegistry executes a single function call. tool.Registry satisfies it.
type FunctionRegistry interface {
	Call(ctx context.Context, call core.FunctionCall, events core.Emitter) (any, error)
}

// Drainer processes whatever is currently queued on the run's event bus:
// it dispatches events to observers and resolves responses for waiters.
type Drainer interface {
	DrainOnce(ctx context.Context)
}

// DrainerFunc adapts a function to Drainer.
type DrainerFunc func(ctx context.Context)

func (f DrainerFunc) DrainOnce(ctx context.Context) { f(ctx) }

// Config bounds a scheduler.
type Config struct {
	// MaxConcurrency is the maximum number of functions executing at once.
	MaxConcurrency int `validate:"gte=1"`
	// PollInterval is how often the bus is drained while a batch runs.
	PollInterval time.Duration `validate:"gt=0"`
}

// DefaultConfig provides default scheduler bounds.
var DefaultConfig = Config{
	MaxConcurrency: 2 * runtime.NumCPU(),
	PollInterval:   25 * time.Millisecond,
}

// Options configures a Scheduler.
type Options struct {
	Config
	Pipeline *middleware.Pipeline
	Drainer  Drainer
	Logger   logging.Logger
	// Source is recorded as the source of emitted function events.
	Source string
}

// Scheduler executes the function calls of one iteration.
//
// Every call runs its own pipeline on a goroutine. The before-function
// hooks of all calls run concurrently, and no function executes until every
// before-function hook of the batch settled; a hook waiting for a decision
// therefore holds back execution of its siblings, but not their hooks. Each
// call then gets either the substitute result of a blocking hook or runs
// under the concurrency bound, followed immediately by its after-function
// hooks. Because a before-function hook may wait for a response on the same
// bus the caller is responsible for draining, Execute keeps draining through
// the Drainer until the whole batch settled.
type Scheduler struct {
	registry FunctionRegistry
	opts     Options
	sem      *semaphore.Weighted
}

// New creates a scheduler executing calls through registry.
func New(registry FunctionRegistry, optFns ...func(o *Options)) (*Scheduler, error) {
	if registry == nil {
		return nil, errors.New("scheduler: function registry is required")
	}
	opts := Options{Config: DefaultConfig, Source: "scheduler"}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := validate.Struct(opts.Config); err != nil {
		return nil, err
	}
	if opts.Pipeline == nil {
		opts.Pipeline = middleware.NewPipeline()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Scheduler{
		registry: registry,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrency)),
	}, nil
}

// Result is the outcome of one batch.
type Result struct {
	// Invocations are in request order, regardless of completion order.
	Invocations []core.FunctionInvocation
	// Transforms are the per-call hook transforms in request order followed
	// by the completed-call bookkeeping.
	Transforms []core.StateTransform
}

// Execute runs calls against the snapshot in mc and returns once every call
// settled. It only fails when ctx is cancelled, in which case no partial
// result is returned.
func (s *Scheduler) Execute(ctx context.Context, mc *middleware.Context, calls []core.FunctionCall) (*Result, error) {
	if len(calls) == 0 {
		return &Result{}, nil
	}

	n := len(calls)
	invocations := make([]core.FunctionInvocation, n)
	contexts := make([]*middleware.FunctionContext, n)

	var wg, hooked sync.WaitGroup
	hooked.Add(n)
	gate := make(chan struct{})
	batchStart := time.Now()
	for i, call := range calls {
		invocations[i] = core.NewFunctionInvocation(call)
		contexts[i] = middleware.NewFunctionContext(mc.State, &invocations[i], mc.Events, s.opts.Logger)

		wg.Add(1)
		go func(fc *middleware.FunctionContext) {
			defer wg.Done()
			s.runCall(ctx, fc, &hooked, gate)
		}(contexts[i])
	}
	go func() {
		hooked.Wait()
		close(gate)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if err := s.drainUntil(ctx, done); err != nil {
		return nil, err
	}

	res := &Result{Invocations: invocations}
	var completed []string
	for i, fc := range contexts {
		res.Transforms = append(res.Transforms, fc.Transforms()...)
		if !invocations[i].Blocked {
			completed = append(completed, calls[i].Signature())
		}
	}
	if len(completed) > 0 {
		res.Transforms = append(res.Transforms, func(st *core.ExecutionState) *core.ExecutionState {
			return st.WithCompletedCalls(completed...)
		})
	}

	s.opts.Logger.Debug("scheduler.batch.complete",
		"count", n,
		"max_concurrency", s.opts.MaxConcurrency,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return res, nil
}

// drainUntil polls the drainer until done is closed, then drains once more
// to flush events emitted by the last calls. On cancellation it still waits
// for the calls to return, so no hook outlives the batch.
func (s *Scheduler) drainUntil(ctx context.Context, done <-chan struct{}) error {
	if s.opts.Drainer == nil {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			<-done
			return ctx.Err()
		}
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			s.opts.Drainer.DrainOnce(ctx)
			return nil
		case <-ctx.Done():
			<-done
			return ctx.Err()
		case <-ticker.C:
			s.opts.Drainer.DrainOnce(ctx)
		}
	}
}

func (s *Scheduler) runCall(ctx context.Context, fc *middleware.FunctionContext, hooked *sync.WaitGroup, gate <-chan struct{}) {
	inv := fc.Invocation

	s.before(ctx, fc, hooked)
	select {
	case <-gate:
	case <-ctx.Done():
	}

	switch {
	case inv.Blocked:
		s.opts.Logger.Info("scheduler.function.blocked", "function", inv.Name, "call_id", inv.CallID)
	case ctx.Err() != nil:
		inv.Err = ctx.Err()
	default:
		s.execute(ctx, fc)
	}

	s.emit(fc, core.EventFunctionCompleted, core.FunctionCompletedPayload{
		Invocation: *inv,
		Error:      errorString(inv.Err),
	})

	if err := s.opts.Pipeline.AfterFunction(ctx, fc); err != nil {
		s.opts.Logger.Warn("scheduler.hook.failed", "function", inv.Name, "hook", middleware.HookAfterFunction, "error", err)
	}
}

// before runs the before-function hooks of one call and marks it hooked,
// even when a hook panics.
func (s *Scheduler) before(ctx context.Context, fc *middleware.FunctionContext, hooked *sync.WaitGroup) {
	defer hooked.Done()
	defer func() {
		if r := recover(); r != nil {
			fc.BlockWithError(&core.PanicError{Value: r, Stack: debug.Stack()})
			s.opts.Logger.Error("scheduler.hook.panic", "function", fc.Invocation.Name, "hook", middleware.HookBeforeFunction, "recover", r)
		}
	}()

	if err := s.opts.Pipeline.BeforeFunction(ctx, fc); err != nil {
		s.opts.Logger.Warn("scheduler.hook.failed", "function", fc.Invocation.Name, "hook", middleware.HookBeforeFunction, "error", err)
		fc.BlockWithError(err)
	}
}

func (s *Scheduler) execute(ctx context.Context, fc *middleware.FunctionContext) {
	inv := fc.Invocation

	if err := s.sem.Acquire(ctx, 1); err != nil {
		inv.Err = err
		return
	}
	defer s.sem.Release(1)

	s.emit(fc, core.EventFunctionStarted, core.FunctionStartedPayload{Call: inv.Call()})

	start := time.Now()
	result, err := s.call(ctx, fc)
	inv.Duration = time.Since(start)
	if err != nil {
		inv.Err = &core.FunctionExecutionError{CallID: inv.CallID, Function: inv.Name, Err: err}
	} else {
		inv.Result = result
	}

	logging.LogFunctionCall(s.opts.Logger, inv.Name, inv.Duration, err)
}

func (s *Scheduler) call(ctx context.Context, fc *middleware.FunctionContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.PanicError{Value: r, Stack: debug.Stack()}
			s.opts.Logger.Error("scheduler.function.panic", "function", fc.Invocation.Name, "recover", r)
		}
	}()
	return s.registry.Call(ctx, fc.Invocation.Call(), fc.Events)
}

func (s *Scheduler) emit(fc *middleware.FunctionContext, kind core.Kind, payload any) {
	if fc.Events == nil {
		return
	}
	fc.Events.Emit(core.NewEvent(kind, s.opts.Source, payload))
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
