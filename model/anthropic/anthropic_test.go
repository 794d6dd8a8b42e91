package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/model"
)

func TestBuildMessages_ToolResultsFollowToolUse(t *testing.T) {
	msgs := buildMessages([]core.Content{
		core.NewTextContent(core.RoleSystem, "ignored here"),
		core.NewTextContent(core.RoleUser, "weather?"),
		{Role: core.RoleAssistant, Parts: []core.Part{
			core.TextPart{Text: "checking"},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "tu_1", Name: "weather", Arguments: `{"city":"Berlin"}`}},
		}},
		{Role: core.RoleTool, Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "tu_1", Name: "weather", Error: "offline"}},
		}},
	})

	require.Len(t, msgs, 3)
	assert.EqualValues(t, "user", msgs[0].Role)
	assert.EqualValues(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].Content, 2)
	assert.NotNil(t, msgs[1].Content[1].OfToolUse)
	assert.EqualValues(t, "user", msgs[2].Role)
	require.Len(t, msgs[2].Content, 1)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "tu_1", msgs[2].Content[0].OfToolResult.ToolUseID)
}

func TestBuildParams_InstructionsAndTools(t *testing.T) {
	inv := NewFromClient(nil)
	params := inv.buildParams(model.Request{
		Messages: []core.Content{core.NewTextContent(core.RoleUser, "hi")},
		Tools: []model.ToolDescriptor{{
			Name:        "weather",
			Description: "Get weather",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
				"required":   []any{"city"},
			},
		}},
		Options: model.Options{Instructions: "You are a helpful assistant.", MaxTokens: 64},
	})

	require.Len(t, params.System, 1)
	assert.Equal(t, "You are a helpful assistant.", params.System[0].Text)
	assert.Equal(t, int64(64), params.MaxTokens)
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.Tools[0].OfTool)
	assert.Equal(t, "weather", params.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"city"}, params.Tools[0].OfTool.InputSchema.Required)
}
