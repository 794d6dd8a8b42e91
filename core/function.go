package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// FunctionCall describes a tool/function invocation request produced by the model.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Provider supplied call id
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (JSON)
}

// Signature returns a deterministic identity for the call: the function name
// plus a hash of its canonicalized arguments. Two calls with the same name and
// semantically equal JSON arguments share a signature regardless of key order
// or whitespace.
func (fc FunctionCall) Signature() string {
	h := sha256.Sum256(canonicalArguments(fc.Arguments))
	return fmt.Sprintf("%s:%x", fc.Name, h[:8])
}

// canonicalArguments re-encodes JSON arguments so map keys are sorted. Non
// JSON payloads are hashed verbatim after trimming.
func canonicalArguments(args string) []byte {
	trimmed := bytes.TrimSpace([]byte(args))
	if len(trimmed) == 0 {
		return []byte("{}")
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}

// FunctionInvocation is the scheduler's record of one requested call and its
// outcome. Exactly one of Result / Err is meaningful once settled.
type FunctionInvocation struct {
	CallID    string        `json:"call_id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments,omitempty"`
	Result    any           `json:"result,omitempty"`
	Err       error         `json:"-"`
	Blocked   bool          `json:"blocked,omitempty"` // never executed; Result/Err were substituted by middleware
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewFunctionInvocation creates an unsettled invocation for fc.
func NewFunctionInvocation(fc FunctionCall) FunctionInvocation {
	return FunctionInvocation{CallID: fc.ID, Name: fc.Name, Arguments: fc.Arguments}
}

// Call returns the originating function call.
func (fi FunctionInvocation) Call() FunctionCall {
	return FunctionCall{ID: fi.CallID, Name: fi.Name, Arguments: fi.Arguments}
}

// Failed reports whether the invocation settled with an error.
func (fi FunctionInvocation) Failed() bool { return fi.Err != nil }

// Response converts the outcome into a function response part payload.
func (fi FunctionInvocation) Response() FunctionResponse {
	fr := FunctionResponse{ID: fi.CallID, Name: fi.Name, Response: fi.Result}
	if fi.Err != nil {
		fr.Error = fi.Err.Error()
	}
	return fr
}

// ToolResultContent assembles tool-role history entries for settled
// invocations, preserving their order.
func ToolResultContent(results []FunctionInvocation) Content {
	parts := make([]Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, FunctionResponsePart{FunctionResponse: r.Response()})
	}
	return Content{Role: RoleTool, Parts: parts}
}
