package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/middleware"
)

// ContinuationOptions configures the continuation policy.
type ContinuationOptions struct {
	// Extension is the number of iterations requested per approval.
	Extension int
	// Timeout bounds the wait for a decision. Non-positive waits forever.
	Timeout time.Duration
	// MaxExtensions caps how often a run may be extended. Zero is unlimited.
	MaxExtensions int
}

// Continuation asks the consumer whether a run that exhausted its iteration
// budget may continue. An approval extends the budget recorded under
// core.StateKeyIterationBudget; a denial or timeout leaves it unchanged so
// the loop terminates with iteration budget exhaustion.
type Continuation struct {
	opts ContinuationOptions
}

// NewContinuation creates the policy.
func NewContinuation(optFns ...func(o *ContinuationOptions)) *Continuation {
	opts := ContinuationOptions{
		Extension: 5,
		Timeout:   DefaultPermissionTimeout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Extension < 1 {
		opts.Extension = 1
	}
	return &Continuation{opts: opts}
}

func (c *Continuation) Name() string { return "continuation" }

func (c *Continuation) BeforeIteration(ctx context.Context, mc *middleware.Context) error {
	budget, ok := mc.State.IterationBudget()
	if !ok || mc.State.Iteration() < budget {
		return nil
	}

	granted, _ := core.StateValue[int](mc.State, c.Name())
	if c.opts.MaxExtensions > 0 && granted >= c.opts.MaxExtensions {
		return nil
	}
	if mc.Events == nil {
		return nil
	}

	payload, err := mc.Events.Request(ctx, core.EventContinuationRequest, c.Name(), core.ContinuationRequest{
		Iteration: mc.State.Iteration(),
		Budget:    budget,
		Extension: c.opts.Extension,
	}, c.opts.Timeout)
	if err != nil {
		mc.Logger.Warn("policy.continuation.unanswered", "error", err)
		return nil
	}

	resp, ok := asContinuationResponse(payload)
	if !ok || !resp.Approved {
		mc.Logger.Info("policy.continuation.denied", "iteration", mc.State.Iteration())
		return nil
	}

	ext := resp.Extension
	if ext <= 0 {
		ext = c.opts.Extension
	}
	next := budget + ext
	mc.AddTransform(func(s *core.ExecutionState) *core.ExecutionState {
		return s.WithIterationBudget(next).WithMiddlewareState(c.Name(), granted+1)
	})
	mc.Notice(c.Name(), fmt.Sprintf("iteration budget extended to %d", next))
	return nil
}

func asContinuationResponse(payload any) (core.ContinuationResponse, bool) {
	switch v := payload.(type) {
	case core.ContinuationResponse:
		return v, true
	case *core.ContinuationResponse:
		if v != nil {
			return *v, true
		}
	case bool:
		return core.ContinuationResponse{Approved: v}, true
	}
	return core.ContinuationResponse{}, false
}
