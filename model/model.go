package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentcore/core"
)

// ToolDescriptor declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Options carries per-request generation settings. Zero values defer to the
// provider adapter's configured defaults.
type Options struct {
	Instructions string   `json:"instructions,omitempty"` // System instructions prepended by adapters
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int64    `json:"max_tokens,omitempty"`
	Stream       bool     `json:"stream,omitempty"` // Adapters may stream internally; only the final response is returned
}

// Request captures the normalized model input produced by the loop driver.
type Request struct {
	Messages []core.Content  `json:"messages"`
	Tools    []ToolDescriptor `json:"tools,omitempty"`
	Options  Options          `json:"options"`
}

// Response is the finalized model output for one invocation.
type Response struct {
	ID           string       `json:"id,omitempty"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
}

// FunctionCalls returns the function calls requested by the model in order.
func (r *Response) FunctionCalls() []core.FunctionCall {
	if r == nil {
		return nil
	}
	return r.Content.FunctionCalls()
}

// Text returns the concatenated text output.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return r.Content.Text()
}

// NewTextResponse builds an assistant response carrying only text.
func NewTextResponse(text string) *Response {
	return &Response{Content: core.NewTextContent(core.RoleAssistant, text), FinishReason: "stop"}
}

// NewCallResponse builds an assistant response requesting the given calls.
func NewCallResponse(text string, calls ...core.FunctionCall) *Response {
	parts := make([]core.Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	for _, fc := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	return &Response{Content: core.Content{Role: core.RoleAssistant, Parts: parts}, FinishReason: "tool_calls"}
}

// Invoker is the model collaborator consumed by the loop driver.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) (*Response, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }

// ErrScriptExhausted is returned by ScriptedInvoker when no steps remain.
var ErrScriptExhausted = errors.New("scripted invoker: no more responses")

// ScriptedInvoker is a deterministic in-memory Invoker useful for tests and
// examples. Each invocation consumes the next step in order.
type ScriptedInvoker struct {
	mu       sync.Mutex
	steps    []InvokerFunc
	requests []Request
}

// NewScriptedInvoker creates an invoker replaying responses in order.
func NewScriptedInvoker(responses ...*Response) *ScriptedInvoker {
	s := &ScriptedInvoker{}
	for _, r := range responses {
		s.AddResponse(r)
	}
	return s
}

// AddResponse appends a canned response step.
func (s *ScriptedInvoker) AddResponse(r *Response) *ScriptedInvoker {
	return s.AddStep(func(context.Context, Request) (*Response, error) {
		cp := *r
		cp.Content = r.Content.Clone()
		return &cp, nil
	})
}

// AddError appends a failing step.
func (s *ScriptedInvoker) AddError(err error) *ScriptedInvoker {
	return s.AddStep(func(context.Context, Request) (*Response, error) { return nil, err })
}

// AddStep appends an arbitrary step.
func (s *ScriptedInvoker) AddStep(fn InvokerFunc) *ScriptedInvoker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, fn)
	return s
}

// Invoke implements Invoker.
func (s *ScriptedInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	var step InvokerFunc
	if idx < len(s.steps) {
		step = s.steps[idx]
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step == nil {
		return nil, fmt.Errorf("%w (call %d)", ErrScriptExhausted, idx+1)
	}
	return step(ctx, req)
}

// Requests returns the requests observed so far.
func (s *ScriptedInvoker) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of invocations so far.
func (s *ScriptedInvoker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
