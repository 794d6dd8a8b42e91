package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
)

// StateKeyIterationBudget is the well-known middleware state key carrying the
// current (possibly extended) iteration budget of a run.
const StateKeyIterationBudget = "core.iteration_budget"

// StateTransform is a pure function producing a successor state. Middleware
// never mutates state directly; it contributes transforms that the owner
// folds in hook order.
type StateTransform func(*ExecutionState) *ExecutionState

// ExecutionState is an immutable snapshot of one run's progress. Every
// update returns a new value; a *ExecutionState handed out is never changed
// afterwards and is safe to share between goroutines.
type ExecutionState struct {
	iteration         int
	terminated        bool
	terminationKind   TerminationKind
	terminationReason string
	completed         map[string]struct{}
	history           []Content
	middleware        map[string]any
}

// NewExecutionState creates the initial state of a run seeded with the
// initial message list.
func NewExecutionState(history []Content) *ExecutionState {
	s := &ExecutionState{
		completed:  map[string]struct{}{},
		middleware: map[string]any{},
	}
	if len(history) > 0 {
		s.history = make([]Content, len(history))
		for i, c := range history {
			s.history[i] = c.Clone()
		}
	}
	return s
}

func (s *ExecutionState) clone() *ExecutionState {
	cp := *s
	return &cp
}

// Iteration returns the number of completed iterations.
func (s *ExecutionState) Iteration() int { return s.iteration }

// IsTerminated reports whether the run reached a terminal condition.
func (s *ExecutionState) IsTerminated() bool { return s.terminated }

// TerminationReason returns the human readable terminal reason ("" while running).
func (s *ExecutionState) TerminationReason() string { return s.terminationReason }

// Termination returns the terminal condition and whether one is set.
func (s *ExecutionState) Termination() (Termination, bool) {
	if !s.terminated {
		return Termination{}, false
	}
	return Termination{Kind: s.terminationKind, Reason: s.terminationReason}, true
}

// History returns a copy of the conversation history.
func (s *ExecutionState) History() []Content {
	return slices.Clone(s.history)
}

// HistoryLen returns the number of history entries without copying.
func (s *ExecutionState) HistoryLen() int { return len(s.history) }

// HasCompleted reports whether a call with the given signature was executed.
func (s *ExecutionState) HasCompleted(signature string) bool {
	_, ok := s.completed[signature]
	return ok
}

// CompletedFunctionCalls returns the executed call signatures in sorted order.
func (s *ExecutionState) CompletedFunctionCalls() []string {
	out := make([]string, 0, len(s.completed))
	for sig := range s.completed {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}

// MiddlewareState returns the raw value stored under key.
func (s *ExecutionState) MiddlewareState(key string) (any, bool) {
	v, ok := s.middleware[key]
	return v, ok
}

// WithIteration returns a state at iteration n. Smaller values are ignored so
// the counter never decreases.
func (s *ExecutionState) WithIteration(n int) *ExecutionState {
	if n <= s.iteration {
		return s
	}
	next := s.clone()
	next.iteration = n
	return next
}

// Terminate marks the state terminal. Once terminated, later calls keep the
// first termination.
func (s *ExecutionState) Terminate(kind TerminationKind, reason string) *ExecutionState {
	if s.terminated {
		return s
	}
	next := s.clone()
	next.terminated = true
	next.terminationKind = kind
	next.terminationReason = reason
	return next
}

// WithCompletedCalls adds call signatures to the completed set.
func (s *ExecutionState) WithCompletedCalls(signatures ...string) *ExecutionState {
	if len(signatures) == 0 {
		return s
	}
	next := s.clone()
	next.completed = maps.Clone(s.completed)
	if next.completed == nil {
		next.completed = map[string]struct{}{}
	}
	for _, sig := range signatures {
		next.completed[sig] = struct{}{}
	}
	return next
}

// AppendHistory returns a state with entries appended to the history.
func (s *ExecutionState) AppendHistory(entries ...Content) *ExecutionState {
	if len(entries) == 0 {
		return s
	}
	next := s.clone()
	next.history = append(slices.Clip(s.history), entries...)
	return next
}

// WithMiddlewareState stores value under key. Values must be JSON
// serializable for snapshots to succeed.
func (s *ExecutionState) WithMiddlewareState(key string, value any) *ExecutionState {
	next := s.clone()
	next.middleware = maps.Clone(s.middleware)
	if next.middleware == nil {
		next.middleware = map[string]any{}
	}
	next.middleware[key] = value
	return next
}

// IterationBudget returns the current iteration budget, if one is recorded.
func (s *ExecutionState) IterationBudget() (int, bool) {
	return StateValue[int](s, StateKeyIterationBudget)
}

// WithIterationBudget records the iteration budget.
func (s *ExecutionState) WithIterationBudget(n int) *ExecutionState {
	return s.WithMiddlewareState(StateKeyIterationBudget, n)
}

// StateValue reads a typed middleware value. Values restored from a snapshot
// are generic JSON and are converted through a JSON round trip.
func StateValue[T any](s *ExecutionState, key string) (T, bool) {
	var zero T
	raw, ok := s.middleware[key]
	if !ok {
		return zero, false
	}
	if v, ok := raw.(T); ok {
		return v, true
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, false
	}
	return v, true
}

type stateSnapshot struct {
	Iteration         int             `json:"iteration"`
	Terminated        bool            `json:"is_terminated"`
	TerminationKind   TerminationKind `json:"termination_kind,omitempty"`
	TerminationReason string          `json:"termination_reason,omitempty"`
	Completed         []string        `json:"completed_function_calls,omitempty"`
	History           []Content       `json:"conversation_history"`
	Middleware        map[string]any  `json:"middleware_state,omitempty"`
}

// MarshalJSON produces the durable snapshot form.
func (s *ExecutionState) MarshalJSON() ([]byte, error) {
	snap := stateSnapshot{
		Iteration:         s.iteration,
		Terminated:        s.terminated,
		TerminationKind:   s.terminationKind,
		TerminationReason: s.terminationReason,
		Completed:         s.CompletedFunctionCalls(),
		History:           s.history,
		Middleware:        s.middleware,
	}
	if snap.History == nil {
		snap.History = []Content{}
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal execution state: %w", err)
	}
	return b, nil
}

// UnmarshalJSON restores a snapshot written by MarshalJSON.
func (s *ExecutionState) UnmarshalJSON(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal execution state: %w", err)
	}
	if !snap.Terminated && snap.TerminationReason != "" {
		return fmt.Errorf("unmarshal execution state: termination reason without termination")
	}
	*s = ExecutionState{
		iteration:         snap.Iteration,
		terminated:        snap.Terminated,
		terminationKind:   snap.TerminationKind,
		terminationReason: snap.TerminationReason,
		completed:         make(map[string]struct{}, len(snap.Completed)),
		history:           snap.History,
		middleware:        snap.Middleware,
	}
	for _, sig := range snap.Completed {
		s.completed[sig] = struct{}{}
	}
	if s.middleware == nil {
		s.middleware = map[string]any{}
	}
	return nil
}
