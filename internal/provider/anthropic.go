package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"convoengine/internal/contentblock"
	"convoengine/internal/tools"
)

// reasoningBudget maps the coarse ReasoningEffort dial onto Anthropic's
// extended-thinking token budget, the same low/medium/high -> 5000/10000/20000
// schedule used in the pack's sidekick Anthropic client.
var reasoningBudget = map[ReasoningEffort]int64{
	ReasoningLow:    5000,
	ReasoningMedium: 10000,
	ReasoningHigh:   20000,
}

// Anthropic adapts the Messages API with extended thinking, grounded on the
// streaming/accumulation shape of the pack's sidekick Anthropic client:
// block-indexed content accumulation over ContentBlockStart/Delta/Stop
// events, with reasoning(thinking) content carrying a signature that must be
// replayed verbatim on the next call for the provider to trust the turn.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds an adapter authenticated with a raw API key.
func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *Anthropic) Runtime() Runtime { return RuntimeAnthropic }

func (a *Anthropic) Generate(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) ([]contentblock.Block, error) {
	return accumulateGenerate(ctx, a.Stream(ctx, messages, toolInfos, effort))
}

func (a *Anthropic) Stream(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) <-chan Event {
	out := make(chan Event, 16)
	go a.streamInto(ctx, messages, toolInfos, effort, out)
	return out
}

func (a *Anthropic) streamInto(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort, out chan<- Event) {
	defer close(out)

	system, params := a.messagesToParams(messages)
	params.Model = anthropic.Model(a.model)
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if toolParams := a.toolsToParams(toolInfos); len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if budget, ok := reasoningBudget[effort]; ok {
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: budget},
		}
		// Anthropic requires temperature 1 whenever thinking is enabled.
		params.Temperature = anthropic.Float(1)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	type blockState struct {
		kind      contentblock.Kind
		text      string
		jsonBuf   string
		callID    string
		name      string
		signature string
	}
	blocks := map[int64]*blockState{}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			switch start.ContentBlock.Type {
			case "text":
				blocks[start.Index] = &blockState{kind: contentblock.KindText}
			case "thinking":
				blocks[start.Index] = &blockState{kind: contentblock.KindReasoning}
			case "tool_use":
				blocks[start.Index] = &blockState{
					kind:   contentblock.KindToolCall,
					callID: start.ContentBlock.ID,
					name:   start.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			state, ok := blocks[delta.Index]
			if !ok {
				continue
			}
			switch delta.Delta.Type {
			case "text_delta":
				state.text += delta.Delta.Text
				out <- Event{Kind: EventContentDelta, Delta: delta.Delta.Text}
			case "thinking_delta":
				state.text += delta.Delta.Thinking
				out <- Event{Kind: EventReasoningDelta, Delta: delta.Delta.Thinking}
			case "signature_delta":
				state.signature += delta.Delta.Signature
			case "input_json_delta":
				state.jsonBuf += delta.Delta.PartialJSON
			}

		case "content_block_stop":
			stop := event.AsContentBlockStop()
			state, ok := blocks[stop.Index]
			if !ok || state.kind != contentblock.KindToolCall {
				continue
			}
			var args map[string]any
			if state.jsonBuf != "" {
				if err := json.Unmarshal([]byte(state.jsonBuf), &args); err != nil {
					out <- Event{Kind: EventError, Err: malformed(a.Runtime(), fmt.Errorf("parse tool_use input: %w", err))}
					return
				}
			}
			out <- Event{Kind: EventToolCall, Block: contentblock.ToolCall(state.callID, state.name, args)}

		case "message_stop":
			var extras map[string]string
			for _, state := range blocks {
				if state.kind == contentblock.KindReasoning && state.signature != "" {
					extras = map[string]string{"signature": state.signature}
				}
			}
			out <- Event{Kind: EventComplete, Reasoning: contentblock.Reasoning("", extras)}
			return
		}
	}
	if err := stream.Err(); err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 401 {
			out <- Event{Kind: EventError, Err: rejected(a.Runtime(), err)}
			return
		}
		out <- Event{Kind: EventError, Err: unavailable(a.Runtime(), err)}
		return
	}
	out <- Event{Kind: EventComplete}
}

// messagesToParams converts each non-system message into its own Anthropic
// message param, joining every system message into the dedicated System
// field the Messages API requires. Consecutive messages of the same role
// are not merged: each stays a separate param.
func (a *Anthropic) messagesToParams(messages []contentblock.Message) (string, anthropic.MessageNewParams) {
	var system string
	var out []anthropic.MessageNewParam
	for _, m := range messages {
		if m.Role == contentblock.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Text()
			continue
		}
		out = append(out, a.messageToParam(m))
	}
	return system, anthropic.MessageNewParams{Messages: out, MaxTokens: 8192}
}

func (a *Anthropic) messageToParam(m contentblock.Message) anthropic.MessageNewParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == contentblock.RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}

	if m.Role == contentblock.RoleTool {
		output, err := m.ToolOutput()
		if err != nil {
			return anthropic.MessageParam{Role: anthropic.MessageParamRoleUser}
		}
		return anthropic.MessageParam{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(output.ToolCallID, output.Content, false),
			},
		}
	}

	var content []anthropic.ContentBlockParamUnion
	for _, block := range m.Blocks {
		switch block.Kind {
		case contentblock.KindText:
			content = append(content, anthropic.NewTextBlock(block.Text))
		case contentblock.KindReasoning:
			signature := block.Extras["signature"]
			content = append(content, anthropic.NewThinkingBlock(signature, block.Reasoning))
		case contentblock.KindToolCall:
			content = append(content, anthropic.NewToolUseBlock(block.CallID, block.Args, block.Name))
		case contentblock.KindImage:
			content = append(content, anthropic.NewImageBlockBase64(block.MimeType, base64.StdEncoding.EncodeToString(block.Base64)))
		}
	}
	return anthropic.MessageParam{Role: role, Content: content}
}

func (a *Anthropic) toolsToParams(toolInfos []tools.Info) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(toolInfos))
	for _, t := range toolInfos {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Parameters,
					Required:   t.Required,
				},
			},
		})
	}
	return out
}
