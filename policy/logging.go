package policy

import (
	"context"

	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/middleware"
)

// Logging writes one structured log record per hook. It never changes the
// course of a run.
type Logging struct {
	logger logging.Logger
}

// NewLogging creates the logging middleware. A nil logger logs through the
// hook context's logger.
func NewLogging(logger logging.Logger) *Logging {
	return &Logging{logger: logger}
}

func (l *Logging) Name() string { return "logging" }

func (l *Logging) log(fallback logging.Logger) logging.Logger {
	if l.logger != nil {
		return l.logger
	}
	return logging.OrNoOp(fallback)
}

func (l *Logging) BeforeTurn(_ context.Context, mc *middleware.Context) error {
	l.log(mc.Logger).Info("policy.logging.turn.start", "messages", len(mc.Messages), "tools", len(mc.Tools))
	return nil
}

func (l *Logging) BeforeIteration(_ context.Context, mc *middleware.Context) error {
	l.log(mc.Logger).Debug("policy.logging.iteration.start", "iteration", mc.State.Iteration())
	return nil
}

func (l *Logging) BeforeToolExecution(_ context.Context, mc *middleware.Context) error {
	names := make([]string, 0, len(mc.Calls))
	for _, c := range mc.Calls {
		names = append(names, c.Name)
	}
	l.log(mc.Logger).Debug("policy.logging.tools.requested", "iteration", mc.State.Iteration(), "functions", names)
	return nil
}

func (l *Logging) BeforeFunction(_ context.Context, fc *middleware.FunctionContext) error {
	l.log(fc.Logger).Debug("policy.logging.function.start", "function", fc.Invocation.Name, "call_id", fc.Invocation.CallID)
	return nil
}

func (l *Logging) AfterFunction(_ context.Context, fc *middleware.FunctionContext) error {
	inv := fc.Invocation
	l.log(fc.Logger).Debug("policy.logging.function.end",
		"function", inv.Name,
		"call_id", inv.CallID,
		"blocked", inv.Blocked,
		"failed", inv.Failed(),
		"duration", inv.Duration,
	)
	return nil
}

func (l *Logging) AfterIteration(_ context.Context, mc *middleware.Context) error {
	failed := 0
	for _, r := range mc.Results {
		if r.Failed() {
			failed++
		}
	}
	l.log(mc.Logger).Debug("policy.logging.iteration.end", "iteration", mc.State.Iteration(), "results", len(mc.Results), "failed", failed)
	return nil
}

func (l *Logging) AfterTurn(_ context.Context, mc *middleware.Context) error {
	term, _ := mc.State.Termination()
	l.log(mc.Logger).Info("policy.logging.turn.end", "iterations", mc.State.Iteration(), "termination", term.String())
	return nil
}
