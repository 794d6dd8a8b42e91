package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/middleware"
)

// DefaultErrorThreshold is the number of consecutive failed calls that
// terminates a run.
const DefaultErrorThreshold = 3

// Classifier decides whether a settled invocation counts as a failure.
type Classifier interface {
	IsFailure(inv core.FunctionInvocation) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(inv core.FunctionInvocation) bool

func (f ClassifierFunc) IsFailure(inv core.FunctionInvocation) bool { return f(inv) }

// DefaultClassifier treats invocations that settled with an error as failed.
var DefaultClassifier Classifier = ClassifierFunc(func(inv core.FunctionInvocation) bool {
	return inv.Err != nil
})

// PrefixClassifier additionally treats string results starting with one of
// prefixes as failures. Without prefixes it matches "Error:" and "Failed:".
func PrefixClassifier(prefixes ...string) Classifier {
	if len(prefixes) == 0 {
		prefixes = []string{"Error:", "Failed:"}
	}
	return ClassifierFunc(func(inv core.FunctionInvocation) bool {
		if inv.Err != nil {
			return true
		}
		s, ok := inv.Result.(string)
		if !ok {
			return false
		}
		s = strings.TrimSpace(s)
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				return true
			}
		}
		return false
	})
}

// ErrorThreshold terminates a run once Threshold consecutive function calls
// failed. The counter spans iterations and resets on any success.
type ErrorThreshold struct {
	threshold  int
	classifier Classifier
}

// NewErrorThreshold creates the policy. A nil classifier uses
// DefaultClassifier; a threshold below 1 uses DefaultErrorThreshold.
func NewErrorThreshold(threshold int, classifier Classifier) *ErrorThreshold {
	if threshold < 1 {
		threshold = DefaultErrorThreshold
	}
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &ErrorThreshold{threshold: threshold, classifier: classifier}
}

func (et *ErrorThreshold) Name() string { return "error_threshold" }

func (et *ErrorThreshold) AfterIteration(_ context.Context, mc *middleware.Context) error {
	if len(mc.Results) == 0 {
		return nil
	}

	failures, _ := core.StateValue[int](mc.State, et.Name())
	var last core.FunctionInvocation
	for _, inv := range mc.Results {
		if et.classifier.IsFailure(inv) {
			failures++
			last = inv
		} else {
			failures = 0
		}
	}

	if failures >= et.threshold {
		reason := fmt.Sprintf("error threshold exceeded: %d consecutive function failures", failures)
		if last.Err != nil {
			reason += fmt.Sprintf(" (last: %s: %v)", last.Name, last.Err)
		}
		mc.Terminate(core.TerminationErrorThreshold, reason)
		mc.Logger.Warn("policy.error_threshold.exceeded", "failures", failures, "threshold", et.threshold)
	}

	n := failures
	mc.AddTransform(func(s *core.ExecutionState) *core.ExecutionState {
		return s.WithMiddlewareState(et.Name(), n)
	})
	return nil
}
