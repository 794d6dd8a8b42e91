// Package openai provides a model.Invoker backed by the OpenAI Chat
// Completions API (including streaming aggregation and tool calling).
package openai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/model"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments).
type aggCall struct{ id, name, args string }

// Options configure the OpenAI invoker.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Invoker wraps the OpenAI Chat Completions API behind model.Invoker.
type Invoker struct {
	client *openai.Client
	opts   Options
}

var _ model.Invoker = (*Invoker)(nil)

// New creates an invoker using the official client configured from the environment.
func New(optFns ...func(o *Options)) *Invoker {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an invoker from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Invoker {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{client: client, opts: opts}
}

// Invoke sends one chat completion and returns the finalized response.
func (m *Invoker) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	messages := buildMessages(model.WithInstructions(req.Options.Instructions, req.Messages))
	params := m.buildParams(req, messages)
	if req.Options.Stream {
		return m.invokeStreaming(ctx, params)
	}
	return m.invoke(ctx, params)
}

// buildMessages converts normalized contents into OpenAI chat messages. Tool
// results become one tool message per function response.
func buildMessages(contents []core.Content) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, c := range contents {
		text := c.Text()
		switch c.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(text))
		case core.RoleTool:
			for _, fr := range c.FunctionResponses() {
				if fr.ID == "" {
					continue
				}
				messages = append(messages, openai.ToolMessage(model.FunctionResponseText(fr), fr.ID))
			}
		case core.RoleAssistant:
			toolCalls := extractToolCalls(c)
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}
			if text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		default:
			if text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}
	return messages
}

func extractToolCalls(c core.Content) []openai.ChatCompletionMessageToolCallParam {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, fc := range c.FunctionCalls() {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   fc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.Name,
				Arguments: fc.Arguments,
			},
		})
	}
	return toolCalls
}

func (m *Invoker) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	temperature := m.opts.Temperature
	if req.Options.Temperature != nil {
		temperature = *req.Options.Temperature
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = req.Options.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, td := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        td.Name,
				Description: openai.String(td.Description),
				Parameters:  td.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// invokeStreaming consumes a streaming completion and aggregates text and
// tool call deltas into one response.
func (m *Invoker) invokeStreaming(ctx context.Context, params openai.ChatCompletionNewParams) (*model.Response, error) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text         strings.Builder
		id           string
		finishReason string
	)
	toolAgg := map[int64]*aggCall{}
	for stream.Next() {
		ck := stream.Current()
		if id == "" {
			id = ck.ID
		}
		for _, ch := range ck.Choices {
			text.WriteString(ch.Delta.Content)
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args += tc.Function.Arguments
			}
			if ch.FinishReason != "" {
				finishReason = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai streaming error: %w", err)
	}

	indexes := make([]int64, 0, len(toolAgg))
	for idx := range toolAgg {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	parts := make([]core.Part, 0, len(toolAgg)+1)
	if text.Len() > 0 {
		parts = append(parts, core.TextPart{Text: text.String()})
	}
	for _, idx := range indexes {
		ac := toolAgg[idx]
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        ac.id,
			Name:      ac.name,
			Arguments: ac.args,
		}})
	}
	return &model.Response{
		ID:           id,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finishReason,
	}, nil
}

func (m *Invoker) invoke(ctx context.Context, params openai.ChatCompletionNewParams) (*model.Response, error) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api error: no choices returned")
	}
	ch0 := resp.Choices[0]
	parts := make([]core.Part, 0, len(ch0.Message.ToolCalls)+1)
	if ch0.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: ch0.Message.Content})
	}
	for _, tc := range ch0.Message.ToolCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}
	return &model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: ch0.FinishReason,
	}, nil
}
