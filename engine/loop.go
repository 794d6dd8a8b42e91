package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/middleware"
	"github.com/hupe1980/agentcore/model"
)

// ErrSkipped is recorded for requested calls that were dropped because a
// hook skipped tool execution. The loop still commits one result per
// requested call, carrying this error, so the history never holds a call
// without its result; after-iteration hooks do not run for such iterations.
var ErrSkipped = errors.New("function execution skipped")

// drive is the loop driver. It owns drain responsibility for the run's bus
// and is the only goroutine that commits state.
func (r *Run) drive(ctx context.Context, state *core.ExecutionState) {
	budget, _ := state.IterationBudget()
	r.emit(core.EventRunStarted, core.RunStartedPayload{
		RunID:           r.id,
		Messages:        state.HistoryLen(),
		IterationBudget: budget,
	})

	mc := r.newContext(state)
	if err := r.hooks(ctx, func(ctx context.Context) error {
		return r.engine.pipeline.BeforeTurn(ctx, mc)
	}); err != nil {
		r.finish(ctx, state, r.hookFailure(ctx, err), nil)
		return
	}
	state = middleware.Fold(state, mc.TakeTransforms())
	if term, ok := mc.Termination(); ok {
		r.finish(ctx, state, term, nil)
		return
	}

	var last *model.Response
	for {
		next, resp, term, done := r.iterate(ctx, state)
		if resp != nil {
			last = resp
		}
		if ctx.Err() != nil {
			r.finish(ctx, state, cancelled(), last)
			return
		}
		state = next
		if done {
			r.finish(ctx, state, term, last)
			return
		}
	}
}

// iterate runs one loop iteration against the committed state. It returns
// the new committed state and, when the run must stop, its termination.
// On cancellation the returned state must be discarded.
func (r *Run) iterate(ctx context.Context, committed *core.ExecutionState) (*core.ExecutionState, *model.Response, core.Termination, bool) {
	state := committed
	current := state.Iteration() + 1
	r.emit(core.EventIterationStarted, core.IterationPayload{Iteration: current})

	// 1. before-iteration hooks, then the (possibly extended) budget check.
	mc := r.newContext(state)
	if err := r.hooks(ctx, func(ctx context.Context) error {
		return r.engine.pipeline.BeforeIteration(ctx, mc)
	}); err != nil {
		return state, nil, r.hookFailure(ctx, err), true
	}
	state = r.fold(mc, state)
	if term, ok := mc.Termination(); ok {
		return state, nil, term, true
	}
	if budget, ok := state.IterationBudget(); ok && state.Iteration() >= budget {
		return state, nil, core.Termination{
			Kind:   core.TerminationIterationBudget,
			Reason: fmt.Sprintf("iteration budget of %d exhausted", budget),
		}, true
	}

	// 2. model invocation, unless a hook substituted the response.
	resp, substituted, err := r.respond(ctx, mc)
	if err != nil {
		if ctx.Err() != nil {
			return state, nil, cancelled(), true
		}
		r.logger.Error("engine.model.failed", "iteration", current, "error", err)
		return state, nil, core.Termination{
			Kind:   core.TerminationModelFailure,
			Reason: fmt.Sprintf("model invocation failed: %v", err),
		}, true
	}
	calls := resp.FunctionCalls()
	mc.Response = resp
	mc.Calls = calls
	r.emit(core.EventModelResponse, core.ModelResponsePayload{
		Iteration:   current,
		Content:     resp.Content,
		Calls:       calls,
		Substituted: substituted,
	})

	// 3. before-tool-execution hooks, also when no calls were requested.
	if err := r.hooks(ctx, func(ctx context.Context) error {
		return r.engine.pipeline.BeforeToolExecution(ctx, mc)
	}); err != nil {
		mc.SkipToolExecution = true
		mc.Terminate(core.TerminationMiddleware, err.Error())
	}
	state = r.fold(mc, state)

	// 4. and 5. scheduling and after-iteration hooks, unless a hook skipped
	// tool execution.
	var results []core.FunctionInvocation
	if mc.SkipToolExecution {
		results = skipped(calls)
	} else {
		if len(calls) > 0 {
			batch, err := r.scheduler.Execute(ctx, mc, calls)
			if err != nil {
				return state, resp, cancelled(), true
			}
			results = batch.Invocations
			state = middleware.Fold(state, batch.Transforms)
			mc.State = state
		}
		mc.Results = results

		if err := r.hooks(ctx, func(ctx context.Context) error {
			return r.engine.pipeline.AfterIteration(ctx, mc)
		}); err != nil {
			mc.Terminate(core.TerminationMiddleware, err.Error())
		}
		state = r.fold(mc, state)
	}
	if ctx.Err() != nil {
		return state, resp, cancelled(), true
	}

	// 6. commit.
	entries := []core.Content{resp.Content}
	if len(results) > 0 {
		entries = append(entries, core.ToolResultContent(results))
	}
	state = state.AppendHistory(entries...).WithIteration(current)

	failures := 0
	for _, res := range results {
		if res.Failed() {
			failures++
		}
	}
	r.emit(core.EventIterationCompleted, core.IterationCompletedPayload{
		Iteration: current,
		Calls:     len(calls),
		Failures:  failures,
	})
	r.DrainOnce(ctx)

	if term, ok := mc.Termination(); ok {
		return state, resp, term, true
	}
	if len(calls) == 0 {
		return state, resp, core.Termination{Kind: core.TerminationNatural, Reason: core.ReasonNaturalCompletion}, true
	}
	return state, resp, core.Termination{}, false
}

func (r *Run) respond(ctx context.Context, mc *middleware.Context) (*model.Response, bool, error) {
	if mc.SkipModelCall {
		resp := mc.SubstituteResponse
		if resp == nil {
			resp = model.NewTextResponse("")
		}
		return normalize(resp), true, nil
	}

	req := model.Request{
		Messages: mc.Messages,
		Tools:    mc.Tools,
		Options:  mc.Options,
	}

	var resp *model.Response
	start := time.Now()
	err := r.hooks(ctx, func(ctx context.Context) error {
		var err error
		resp, err = r.engine.invoker.Invoke(ctx, req)
		return err
	})
	// resp is only safe to read once hooks returned without error.
	if err == nil && resp == nil {
		err = errors.New("model returned no response")
	}
	if err != nil {
		logging.LogModelCall(r.logger, mc.State.Iteration()+1, time.Since(start), 0, err)
		return nil, false, err
	}

	logging.LogModelCall(r.logger, mc.State.Iteration()+1, time.Since(start), len(resp.FunctionCalls()), nil)
	return normalize(resp), false, nil
}

// normalize copies resp, defaults the role to assistant and assigns ids to
// calls the model left unnamed so results can be correlated in history.
func normalize(resp *model.Response) *model.Response {
	out := *resp
	out.Content = resp.Content.Clone()
	if out.Content.Role == "" {
		out.Content.Role = core.RoleAssistant
	}
	for i, p := range out.Content.Parts {
		fc, ok := p.(core.FunctionCallPart)
		if !ok || fc.FunctionCall.ID != "" {
			continue
		}
		fc.FunctionCall.ID = "call_" + core.NewID()
		out.Content.Parts[i] = fc
	}
	return &out
}

func (r *Run) newContext(state *core.ExecutionState) *middleware.Context {
	mc := middleware.NewContext(state, r.bus, r.logger)
	mc.Messages = window(state.History(), r.engine.opts.MaxHistoryMessages)
	mc.Tools = r.engine.registry.Descriptors()
	mc.Options = r.engine.opts.Model
	mc.Options.Instructions = r.instructions
	return mc
}

func (r *Run) fold(mc *middleware.Context, state *core.ExecutionState) *core.ExecutionState {
	state = middleware.Fold(state, mc.TakeTransforms())
	mc.State = state
	return state
}

// hooks runs fn on a helper goroutine while the driver keeps draining the
// bus, so a hook waiting for a response cannot starve its own drain loop.
func (r *Run) hooks(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- &core.PanicError{Value: rec, Stack: debug.Stack()}
			}
		}()
		done <- fn(ctx)
	}()

	ticker := time.NewTicker(r.engine.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			r.DrainOnce(ctx)
			return err
		case <-ctx.Done():
			r.DrainOnce(ctx)
			return ctx.Err()
		case <-ticker.C:
			r.DrainOnce(ctx)
		}
	}
}

func (r *Run) hookFailure(ctx context.Context, err error) core.Termination {
	if ctx.Err() != nil {
		return cancelled()
	}
	r.logger.Error("engine.hook.failed", "error", err)
	return core.Termination{Kind: core.TerminationMiddleware, Reason: err.Error()}
}

func (r *Run) emit(kind core.Kind, payload any) {
	r.bus.Emit(core.NewEvent(kind, r.engine.opts.Name, payload))
}

// finish commits the terminal state, runs after-turn hooks and closes the
// stream with exactly one terminal event.
func (r *Run) finish(ctx context.Context, state *core.ExecutionState, term core.Termination, last *model.Response) {
	state = state.Terminate(term.Kind, term.Reason)

	if !term.IsCancelled() {
		mc := r.newContext(state)
		mc.Response = last
		if err := r.hooks(ctx, func(ctx context.Context) error {
			return r.engine.pipeline.AfterTurn(ctx, mc)
		}); err != nil {
			r.logger.Warn("engine.hook.failed", "hook", middleware.HookAfterTurn, "error", err)
		}
		state = r.fold(mc, state)
	}

	// Settle observers so breaker transitions land before the terminal event.
	r.DrainOnce(ctx)
	r.observers.Wait()
	r.DrainOnce(ctx)

	r.bus.Close()
	r.DrainOnce(ctx)

	terminal := core.NewEvent(core.EventRunTerminated, r.engine.opts.Name, core.TerminatedPayload{
		Termination: term,
		Iterations:  state.Iteration(),
	})
	ec := r.bus.ExecutionContext()
	terminal.Context = &ec
	if p := r.bus.Parent(); p != nil {
		p.Emit(terminal)
	}
	r.deliver(ctx, terminal)
	r.observers.Wait()

	r.result = &Result{
		RunID:       r.id,
		State:       state,
		Termination: term,
		Response:    last,
	}
	if term.IsCancelled() {
		r.err = context.Canceled
		if err := ctx.Err(); err != nil {
			r.err = err
		}
	}

	r.logger.Info("engine.run.end",
		"termination", term.Kind,
		"reason", term.Reason,
		"iterations", state.Iteration(),
	)

	if r.onFinish != nil {
		r.onFinish(context.WithoutCancel(ctx), r.result)
	}
	r.cancel()
	r.closeOutbox()
	close(r.done)
}

func cancelled() core.Termination {
	return core.Termination{Kind: core.TerminationCancelled, Reason: "run cancelled"}
}

func skipped(calls []core.FunctionCall) []core.FunctionInvocation {
	out := make([]core.FunctionInvocation, len(calls))
	for i, c := range calls {
		out[i] = core.NewFunctionInvocation(c)
		out[i].Blocked = true
		out[i].Err = ErrSkipped
	}
	return out
}

// window returns the last max entries of history without starting on an
// orphaned tool result. max <= 0 keeps everything.
func window(history []core.Content, max int) []core.Content {
	if max <= 0 || len(history) <= max {
		return history
	}
	start := len(history) - max
	for start < len(history) && history[start].Role == core.RoleTool {
		start++
	}
	return history[start:]
}
