package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestEvent_Constructors(t *testing.T) {
	obs := NewEvent(EventIterationStarted, "agent", IterationPayload{Iteration: 1})
	if obs.ID == "" || obs.Timestamp.IsZero() || obs.Family != FamilyObservability || obs.RequestID != "" {
		t.Fatalf("NewEvent did not initialize fields correctly: %+v", obs)
	}

	req := NewRequestEvent(EventPermissionRequest, "permission", PermissionRequest{Function: "rm"})
	if !req.IsRequest() || req.RequestID == "" {
		t.Fatalf("request event malformed: %+v", req)
	}

	resp := NewResponseEvent(req.RequestID, PermissionResponse{Approved: true})
	if !resp.IsResponse() || resp.RequestID != req.RequestID || resp.Kind != EventResponse {
		t.Fatalf("response event malformed: %+v", resp)
	}
}

func TestFunctionCall_SignatureIgnoresKeyOrder(t *testing.T) {
	a := FunctionCall{Name: "search", Arguments: `{"q":"go","limit":3}`}
	b := FunctionCall{Name: "search", Arguments: ` {"limit":3, "q":"go"} `}
	c := FunctionCall{Name: "search", Arguments: `{"q":"rust","limit":3}`}
	d := FunctionCall{Name: "lookup", Arguments: `{"q":"go","limit":3}`}

	if a.Signature() != b.Signature() {
		t.Fatalf("expected equal signatures, got %s and %s", a.Signature(), b.Signature())
	}
	if a.Signature() == c.Signature() || a.Signature() == d.Signature() {
		t.Fatal("expected distinct signatures for different name or arguments")
	}
	if (FunctionCall{Name: "x"}).Signature() != (FunctionCall{Name: "x", Arguments: "{}"}).Signature() {
		t.Fatal("empty arguments should equal an empty object")
	}
}

func TestFunctionInvocation_Response(t *testing.T) {
	inv := NewFunctionInvocation(FunctionCall{ID: "c1", Name: "f"})
	inv.Err = &FunctionExecutionError{CallID: "c1", Function: "f", Err: errors.New("boom")}

	content := ToolResultContent([]FunctionInvocation{inv})
	resps := content.FunctionResponses()
	if content.Role != RoleTool || len(resps) != 1 || resps[0].Error == "" {
		t.Fatalf("unexpected tool content: %+v", content)
	}
}

func TestErrors_Matching(t *testing.T) {
	var err error = &ProtocolError{RequestID: "r1", Message: "duplicate waiter"}
	if !errors.Is(err, ErrProtocol) {
		t.Fatal("ProtocolError should match ErrProtocol")
	}

	wrapped := fmt.Errorf("outer: %w", &FunctionExecutionError{CallID: "c", Function: "f", Err: ErrTimeout})
	if !errors.Is(wrapped, ErrTimeout) {
		t.Fatal("FunctionExecutionError should unwrap to its cause")
	}
	var fe *FunctionExecutionError
	if !errors.As(wrapped, &fe) || fe.Function != "f" {
		t.Fatal("errors.As should find FunctionExecutionError")
	}
}
