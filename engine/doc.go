// Package engine implements the loop driver: the state machine that turns a
// model invoker, a tool registry and a middleware pipeline into an agentic
// run.
//
// Each iteration runs the before-iteration hooks, checks the iteration
// budget, invokes the model (or uses a hook's substitute response), runs the
// before-tool-execution hooks, schedules the requested calls, runs the
// after-iteration hooks and commits the response and tool results to the
// history. A run ends naturally when the model requests no calls; the
// circuit breaker, the error threshold, the iteration budget, a model
// failure or a hook can end it earlier. Cancellation is reported separately.
//
// Terminal conditions are data: they are carried by the single
// EventRunTerminated that closes every run's event stream and by the
// Result, never returned as errors.
//
// Usage:
//
//	eng, err := engine.New(invoker, registry)
//	if err != nil {
//	    return err
//	}
//
//	run, err := eng.Run(ctx, []core.Content{core.NewTextContent(core.RoleUser, "What's the weather in Berlin?")})
//	if err != nil {
//	    return err
//	}
//
//	for ev := range run.Events() {
//	    if ev.Kind == core.EventPermissionRequest {
//	        run.SubmitResponse(ev.RequestID, core.PermissionResponse{Approved: true})
//	    }
//	}
//
//	res, err := run.Wait()
//
// The driver owns drain responsibility for the run's bus. Whenever it waits
// on work that may itself wait on the bus (hooks, the model, a function
// batch) it keeps draining on a short interval, so requests reach the
// consumer and responses reach their waiters.
package engine
