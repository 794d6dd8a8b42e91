package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/model"
)

func TestBuildMessages_ToolRoundTrip(t *testing.T) {
	contents := model.WithInstructions("be terse", []core.Content{
		core.NewTextContent(core.RoleUser, "weather in Berlin?"),
		{Role: core.RoleAssistant, Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "call_1", Name: "weather", Arguments: `{"city":"Berlin"}`}},
		}},
		{Role: core.RoleTool, Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "call_1", Name: "weather", Response: "sunny"}},
		}},
	})

	msgs := buildMessages(contents)
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "weather", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_1", msgs[3].OfTool.ToolCallID)
}

func TestBuildParams_RequestOverrides(t *testing.T) {
	inv := NewFromClient(nil, func(o *Options) { o.Model = "gpt-test" })
	temp := 0.1
	params := inv.buildParams(model.Request{
		Tools: []model.ToolDescriptor{{Name: "weather", Description: "Get weather", Parameters: map[string]any{"type": "object"}}},
		Options: model.Options{
			Temperature: &temp,
			MaxTokens:   128,
		},
	}, nil)

	assert.EqualValues(t, "gpt-test", params.Model)
	assert.Equal(t, 0.1, params.Temperature.Value)
	assert.Equal(t, int64(128), params.MaxCompletionTokens.Value)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "weather", params.Tools[0].Function.Name)
}
