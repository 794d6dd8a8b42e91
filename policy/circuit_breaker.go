package policy

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/middleware"
)

// DefaultCircuitBreakerThreshold is the number of consecutive identical
// calls that trips the breaker.
const DefaultCircuitBreakerThreshold = 3

// breakerState is persisted under the middleware's state key.
type breakerState struct {
	Signature string `json:"signature"`
	Count     int    `json:"count"`
}

// CircuitBreaker terminates a run when the model requests the same function
// with the same arguments Threshold times in a row. The check runs before
// any function of the iteration executes, so the tripping call never runs.
type CircuitBreaker struct {
	threshold int
}

// NewCircuitBreaker creates a circuit breaker. A threshold below 1 uses
// DefaultCircuitBreakerThreshold.
func NewCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold < 1 {
		threshold = DefaultCircuitBreakerThreshold
	}
	return &CircuitBreaker{threshold: threshold}
}

func (cb *CircuitBreaker) Name() string { return "circuit_breaker" }

// Threshold returns the configured trip threshold.
func (cb *CircuitBreaker) Threshold() int { return cb.threshold }

func (cb *CircuitBreaker) BeforeToolExecution(_ context.Context, mc *middleware.Context) error {
	st, _ := core.StateValue[breakerState](mc.State, cb.Name())

	for _, call := range mc.Calls {
		sig := call.Signature()
		if sig == st.Signature {
			st.Count++
		} else {
			st = breakerState{Signature: sig, Count: 1}
		}

		if st.Count >= cb.threshold {
			mc.SkipToolExecution = true
			mc.Terminate(core.TerminationCircuitBreaker,
				fmt.Sprintf("circuit breaker tripped: %s called %d times in a row with identical arguments", call.Name, st.Count))
			mc.Logger.Warn("policy.circuit_breaker.tripped", "function", call.Name, "count", st.Count)
			break
		}
	}

	next := st
	mc.AddTransform(func(s *core.ExecutionState) *core.ExecutionState {
		return s.WithMiddlewareState(cb.Name(), next)
	})
	return nil
}
