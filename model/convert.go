package model

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentcore/core"
)

// FunctionResponseText renders a function response as the text payload sent
// back to providers. Failures are prefixed so models can recognize them.
func FunctionResponseText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return "Error: " + fr.Error
	}
	switch v := fr.Response.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// WithInstructions returns messages with a system entry carrying
// instructions prepended, unless instructions are empty.
func WithInstructions(instructions string, messages []core.Content) []core.Content {
	if instructions == "" {
		return messages
	}
	out := make([]core.Content, 0, len(messages)+1)
	out = append(out, core.NewTextContent(core.RoleSystem, instructions))
	return append(out, messages...)
}

// RequiredFields extracts the "required" list of a JSON schema map.
func RequiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
