package core

import (
	"encoding/json"
	"testing"
)

func TestExecutionState_CopyOnWrite(t *testing.T) {
	s0 := NewExecutionState([]Content{NewTextContent(RoleUser, "hi")})

	s1 := s0.WithIteration(1).
		AppendHistory(NewTextContent(RoleAssistant, "hello")).
		WithCompletedCalls("f:abc").
		WithMiddlewareState("k", 1)

	if s0.Iteration() != 0 || s0.HistoryLen() != 1 || s0.HasCompleted("f:abc") {
		t.Fatalf("original state mutated: iter=%d history=%d", s0.Iteration(), s0.HistoryLen())
	}
	if _, ok := s0.MiddlewareState("k"); ok {
		t.Fatal("middleware state leaked into original")
	}
	if s1.Iteration() != 1 || s1.HistoryLen() != 2 || !s1.HasCompleted("f:abc") {
		t.Fatalf("successor state malformed: iter=%d history=%d", s1.Iteration(), s1.HistoryLen())
	}
}

func TestExecutionState_IterationNeverDecreases(t *testing.T) {
	s := NewExecutionState(nil).WithIteration(3)
	if got := s.WithIteration(2).Iteration(); got != 3 {
		t.Fatalf("expected iteration to stay 3, got %d", got)
	}
}

func TestExecutionState_TerminateIsSticky(t *testing.T) {
	s := NewExecutionState(nil).Terminate(TerminationNatural, ReasonNaturalCompletion)
	s = s.Terminate(TerminationMiddleware, "other")

	term, ok := s.Termination()
	if !ok || !s.IsTerminated() {
		t.Fatal("expected terminated state")
	}
	if term.Kind != TerminationNatural || s.TerminationReason() != ReasonNaturalCompletion {
		t.Fatalf("first termination must win, got %+v", term)
	}
}

func TestExecutionState_AppendDoesNotAlias(t *testing.T) {
	base := NewExecutionState(nil).AppendHistory(NewTextContent(RoleUser, "a"))
	left := base.AppendHistory(NewTextContent(RoleAssistant, "left"))
	right := base.AppendHistory(NewTextContent(RoleAssistant, "right"))

	if left.History()[1].Text() != "left" || right.History()[1].Text() != "right" {
		t.Fatal("sibling states share history backing array")
	}
}

func TestExecutionState_SnapshotRoundTrip(t *testing.T) {
	s := NewExecutionState([]Content{NewTextContent(RoleUser, "weather?")}).
		AppendHistory(Content{Role: RoleAssistant, Parts: []Part{
			FunctionCallPart{FunctionCall: FunctionCall{ID: "c1", Name: "weather", Arguments: `{"city":"Berlin"}`}},
		}}).
		AppendHistory(Content{Role: RoleTool, Parts: []Part{
			FunctionResponsePart{FunctionResponse: FunctionResponse{ID: "c1", Name: "weather", Response: "sunny"}},
		}}).
		WithIteration(1).
		WithCompletedCalls("weather:0011").
		WithIterationBudget(12).
		Terminate(TerminationNatural, ReasonNaturalCompletion)

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var restored ExecutionState
	if err := json.Unmarshal(b, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if restored.Iteration() != 1 || !restored.IsTerminated() || restored.TerminationReason() != ReasonNaturalCompletion {
		t.Fatalf("restored state lost fields: %+v", restored)
	}
	if !restored.HasCompleted("weather:0011") {
		t.Fatal("restored state lost completed calls")
	}
	if budget, ok := restored.IterationBudget(); !ok || budget != 12 {
		t.Fatalf("expected budget 12, got %d (%v)", budget, ok)
	}
	h := restored.History()
	if len(h) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(h))
	}
	if calls := h[1].FunctionCalls(); len(calls) != 1 || calls[0].Name != "weather" {
		t.Fatalf("function call part not restored: %+v", h[1])
	}
	if resps := h[2].FunctionResponses(); len(resps) != 1 || resps[0].Response != "sunny" {
		t.Fatalf("function response part not restored: %+v", h[2])
	}
}

func TestExecutionState_RejectsReasonWithoutTermination(t *testing.T) {
	var s ExecutionState
	err := json.Unmarshal([]byte(`{"iteration":1,"is_terminated":false,"termination_reason":"x","conversation_history":[]}`), &s)
	if err == nil {
		t.Fatal("expected error for reason without termination")
	}
}

func TestStateValue_TypedStruct(t *testing.T) {
	type counter struct {
		Count int `json:"count"`
	}
	s := NewExecutionState(nil).WithMiddlewareState("c", counter{Count: 2})

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored ExecutionState
	if err := json.Unmarshal(b, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, ok := StateValue[counter](&restored, "c")
	if !ok || got.Count != 2 {
		t.Fatalf("expected count 2, got %+v (%v)", got, ok)
	}
}
