package core

// TerminationKind classifies why a run stopped.
type TerminationKind string

const (
	TerminationNatural         TerminationKind = "natural_completion"
	TerminationCircuitBreaker  TerminationKind = "circuit_breaker"
	TerminationErrorThreshold  TerminationKind = "error_threshold"
	TerminationIterationBudget TerminationKind = "iteration_budget"
	TerminationMiddleware      TerminationKind = "middleware"
	TerminationModelFailure    TerminationKind = "model_failure"
	TerminationCancelled       TerminationKind = "cancelled"
)

// ReasonNaturalCompletion is the reason recorded when the model requests no
// further function calls.
const ReasonNaturalCompletion = "natural completion"

// Termination is a terminal condition reported as data on the terminal event
// and the run result.
type Termination struct {
	Kind   TerminationKind `json:"kind"`
	Reason string          `json:"reason"`
}

// IsCancelled reports whether the run was cancelled rather than terminated.
func (t Termination) IsCancelled() bool { return t.Kind == TerminationCancelled }

func (t Termination) String() string {
	if t.Reason == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ": " + t.Reason
}
