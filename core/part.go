package core

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string `json:"text"`
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data map[string]any `json:"data"`
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall `json:"function_call"`
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string `json:"name"`               // Function name
	Response any    `json:"response,omitempty"` // Successful result (any shape)
	Error    string `json:"error,omitempty"`    // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse `json:"function_response"`
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts. It is the unit appended to the
// conversation history.
type Content struct {
	Role  Role   `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single text part entry for role.
func NewTextContent(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// FunctionCalls returns the function call parts preserving their order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function response parts preserving their order.
func (c Content) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// Clone returns a copy with an independent parts slice.
func (c Content) Clone() Content {
	parts := make([]Part, len(c.Parts))
	copy(parts, c.Parts)
	return Content{Role: c.Role, Parts: parts}
}

type wirePart struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

type wireContent struct {
	Role  Role       `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

// MarshalJSON encodes parts with an explicit type tag so snapshots round trip.
func (c Content) MarshalJSON() ([]byte, error) {
	wc := wireContent{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}
	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			wc.Parts = append(wc.Parts, wirePart{Type: "text", Text: v.Text})
		case DataPart:
			wc.Parts = append(wc.Parts, wirePart{Type: "data", Data: v.Data})
		case FunctionCallPart:
			fc := v.FunctionCall
			wc.Parts = append(wc.Parts, wirePart{Type: "function_call", FunctionCall: &fc})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			wc.Parts = append(wc.Parts, wirePart{Type: "function_response", FunctionResponse: &fr})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return json.Marshal(wc)
}

// UnmarshalJSON decodes the tagged representation written by MarshalJSON.
func (c *Content) UnmarshalJSON(data []byte) error {
	var wc wireContent
	if err := json.Unmarshal(data, &wc); err != nil {
		return err
	}
	c.Role = wc.Role
	c.Parts = make([]Part, 0, len(wc.Parts))
	for _, wp := range wc.Parts {
		switch wp.Type {
		case "text":
			c.Parts = append(c.Parts, TextPart{Text: wp.Text})
		case "data":
			c.Parts = append(c.Parts, DataPart{Data: wp.Data})
		case "function_call":
			if wp.FunctionCall == nil {
				return fmt.Errorf("function_call part without payload")
			}
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: *wp.FunctionCall})
		case "function_response":
			if wp.FunctionResponse == nil {
				return fmt.Errorf("function_response part without payload")
			}
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: *wp.FunctionResponse})
		default:
			return fmt.Errorf("unknown part type %q", wp.Type)
		}
	}
	return nil
}
