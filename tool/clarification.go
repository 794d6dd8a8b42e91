package tool

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentcore/core"
)

// ClarificationToolName is the function name of the built-in clarification tool.
const ClarificationToolName = "ask_user"

// DefaultClarificationTimeout bounds how long the tool waits for an answer.
const DefaultClarificationTimeout = 5 * time.Minute

type clarificationArgs struct {
	Question string `json:"question" required:"true" description:"The question to ask the user"`
}

// NewClarificationTool returns a tool that lets the model ask the user a
// question mid-run. The question is sent as a clarification request through
// the run's event bus; the answer becomes the function result.
func NewClarificationTool(timeout time.Duration) *FunctionTool {
	if timeout <= 0 {
		timeout = DefaultClarificationTimeout
	}
	t, err := NewFunctionToolFromStruct(
		ClarificationToolName,
		"Ask the user a clarifying question when the request is ambiguous. Returns the user's answer.",
		clarificationArgs{},
		func(tc *Context, args map[string]any) (any, error) {
			question, _ := args["question"].(string)
			if strings.TrimSpace(question) == "" {
				return nil, NewToolError(ClarificationToolName, "question must not be empty", CodeValidation)
			}

			payload, err := tc.Request(core.EventClarificationRequest, core.ClarificationRequest{Question: question}, timeout)
			if err != nil {
				return nil, err
			}

			switch v := payload.(type) {
			case core.ClarificationResponse:
				return v.Answer, nil
			case *core.ClarificationResponse:
				return v.Answer, nil
			case string:
				return v, nil
			default:
				return nil, fmt.Errorf("unexpected clarification response %T", payload)
			}
		},
	)
	if err != nil {
		// Schema reflection of a static struct cannot fail at runtime.
		panic(err)
	}
	return t
}
