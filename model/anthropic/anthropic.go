// Package anthropic provides a model.Invoker backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentcore/core"
	"github.com/hupe1980/agentcore/model"
)

// Options configures the Anthropic invoker (model id, temperature, max
// tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Invoker wraps the Anthropic Messages API behind model.Invoker.
type Invoker struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Invoker = (*Invoker)(nil)

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// New creates an invoker using the official client.
func New(optFns ...func(o *Options)) *Invoker {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Invoker{client: &client, opts: opts}
}

// NewFromClient creates an invoker from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Invoker {
	return &Invoker{client: client, opts: defaultOptions(optFns)}
}

// Invoke sends one Messages request and returns the finalized response. The
// Stream option is ignored; the non-streaming endpoint already yields the
// final message.
func (m *Invoker) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	resp, err := m.client.Messages.New(ctx, m.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var parts []core.Part
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if tb := block.AsText(); tb.Text != "" {
				parts = append(parts, core.TextPart{Text: tb.Text})
			}
		case "tool_use":
			tu := block.AsToolUse()
			args := "{}"
			if len(tu.Input) > 0 {
				args = string(tu.Input)
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			}})
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	return &model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finishReason,
	}, nil
}

func (m *Invoker) buildParams(req model.Request) anthropic.MessageNewParams {
	temperature := m.opts.Temperature
	if req.Options.Temperature != nil {
		temperature = *req.Options.Temperature
	}
	maxTokens := m.opts.MaxTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = req.Options.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	system := systemBlocks(req.Messages)
	if req.Options.Instructions != "" {
		system = append([]anthropic.TextBlockParam{{Text: req.Options.Instructions}}, system...)
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// buildMessages converts history into Anthropic messages. Tool results are
// sent as tool_result blocks in a user message following the tool_use turn.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, c := range contents {
		switch c.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			if blocks := assistantBlocks(c.Parts); len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case core.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, fr := range c.FunctionResponses() {
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, model.FunctionResponseText(fr), fr.Error != ""))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		default:
			if text := c.Text(); text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}

	return messages
}

func systemBlocks(contents []core.Content) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, c := range contents {
		if c.Role != core.RoleSystem {
			continue
		}
		if text := c.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	return blocks
}

func assistantBlocks(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			var input any = map[string]any{}
			if part.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
					input = part.FunctionCall.Arguments
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
		}
	}
	return blocks
}

func buildTools(tools []model.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if td.Parameters != nil {
			if properties, ok := td.Parameters["properties"]; ok {
				schema.Properties = properties
			}
			schema.Required = model.RequiredFields(td.Parameters)
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, td.Name)
		if td.Description != "" && out[i].OfTool != nil {
			out[i].OfTool.Description = anthropic.String(td.Description)
		}
	}
	return out
}
