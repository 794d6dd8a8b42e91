package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/model"
)

// ResponseBuilder provides a fluent helper for constructing scripted model
// responses in tests.
// Example:
//
//	resp := testutil.NewResponseBuilder().Text("checking").Call("get_weather", map[string]any{"city": "Berlin"}).Build()
//
// Calls without an explicit id get "call_<n>" in order.
type ResponseBuilder struct {
	texts []string
	calls []core.FunctionCall
}

// NewResponseBuilder creates an empty assistant response builder.
func NewResponseBuilder() *ResponseBuilder { return &ResponseBuilder{} }

// Text appends a text part (chainable).
func (b *ResponseBuilder) Text(t string) *ResponseBuilder {
	b.texts = append(b.texts, t)
	return b
}

// Call appends a function call whose arguments are args encoded as JSON
// (chainable). A string is used verbatim.
func (b *ResponseBuilder) Call(name string, args any) *ResponseBuilder {
	return b.CallWithID(fmt.Sprintf("call_%d", len(b.calls)+1), name, args)
}

// CallWithID appends a function call with an explicit id (chainable).
func (b *ResponseBuilder) CallWithID(id, name string, args any) *ResponseBuilder {
	b.calls = append(b.calls, core.FunctionCall{ID: id, Name: name, Arguments: encodeArgs(args)})
	return b
}

// Build constructs the model response.
func (b *ResponseBuilder) Build() *model.Response {
	parts := make([]core.Part, 0, len(b.texts)+len(b.calls))
	for _, t := range b.texts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, fc := range b.calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}

	finish := "stop"
	if len(b.calls) > 0 {
		finish = "tool_calls"
	}
	return &model.Response{
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finish,
	}
}

func encodeArgs(args any) string {
	switch v := args.(type) {
	case nil:
		return "{}"
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("testutil: encode arguments: %v", err))
		}
		return string(data)
	}
}
