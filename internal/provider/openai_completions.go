package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"convoengine/internal/contentblock"
	"convoengine/internal/tools"
)

// CompletionsFamily distinguishes the OpenAI-Chat-Completions-shaped hosts
// an operator configuration can select: OpenAI, Groq, OpenRouter, and xAI
// (FamilyXAI, in xai.go). The wire format is identical; only the default
// base URL, OpenRouter's extra headers, and Groq's omission of the
// reasoning-effort parameter differ, which is why they share one adapter.
type CompletionsFamily string

const (
	FamilyOpenAI     CompletionsFamily = "openai"
	FamilyGroq       CompletionsFamily = "groq"
	FamilyOpenRouter CompletionsFamily = "openrouter"
)

var familyBaseURL = map[CompletionsFamily]string{
	FamilyGroq:       "https://api.groq.com/openai/v1",
	FamilyOpenRouter: "https://openrouter.ai/api/v1",
}

// OpenAICompletions adapts the OpenAI Chat Completions wire format, and by
// extension any Chat-Completions-compatible host reached by swapping the
// base URL — the pattern the teacher uses to reach Groq, generalized here
// to also cover OpenRouter per the domain-routing convention observed in
// the wider example pack (provider selection keyed off request host).
type OpenAICompletions struct {
	client openai.Client
	model  string
	family CompletionsFamily
}

// NewOpenAICompletions builds an adapter for the given family. baseURL
// overrides the family default when non-empty (operators self-hosting an
// OpenAI-compatible gateway).
func NewOpenAICompletions(apiKey string, family CompletionsFamily, model, baseURL string) *OpenAICompletions {
	if baseURL == "" {
		baseURL = familyBaseURL[family]
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if family == FamilyOpenRouter {
		opts = append(opts, option.WithHeader("HTTP-Referer", "https://convoengine.local"))
		opts = append(opts, option.WithHeader("X-Title", "convoengine"))
	}
	return &OpenAICompletions{client: openai.NewClient(opts...), model: model, family: family}
}

func (a *OpenAICompletions) Runtime() Runtime { return RuntimeOpenAICompletion }

func (a *OpenAICompletions) Generate(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) ([]contentblock.Block, error) {
	return accumulateGenerate(ctx, a.Stream(ctx, messages, toolInfos, effort))
}

func (a *OpenAICompletions) Stream(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) <-chan Event {
	out := make(chan Event, 16)
	go a.streamInto(ctx, messages, toolInfos, effort, out)
	return out
}

func (a *OpenAICompletions) streamInto(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort, out chan<- Event) {
	defer close(out)

	params := openai.ChatCompletionNewParams{
		Model:    a.model,
		Messages: a.convertMessages(messages),
	}
	if toolParams := a.convertTools(toolInfos); len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if level, ok := reasoningEffortLevel(effort); ok && a.family != FamilyGroq {
		params.ReasoningEffort = openai.ReasoningEffort(level)
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	toolCallMap := make(map[int64]*contentblock.Block)
	var toolOrder []int64

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- Event{Kind: EventContentDelta, Delta: delta.Content}
		}
		if r, ok := reasoningField(delta); ok && r != "" {
			out <- Event{Kind: EventReasoningDelta, Delta: r}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			block, ok := toolCallMap[idx]
			if !ok {
				block = &contentblock.Block{Kind: contentblock.KindToolCall, CallID: tc.ID, Name: tc.Function.Name}
				toolCallMap[idx] = block
				toolOrder = append(toolOrder, idx)
			}
			if tc.ID != "" {
				block.CallID = tc.ID
			}
			if tc.Function.Name != "" {
				block.Name = tc.Function.Name
			}
			block.Content += tc.Function.Arguments
		}

		if choice.FinishReason == "tool_calls" || choice.FinishReason == "stop" {
			for _, idx := range toolOrder {
				block := toolCallMap[idx]
				var args map[string]any
				if block.Content != "" {
					if err := json.Unmarshal([]byte(block.Content), &args); err != nil {
						out <- Event{Kind: EventError, Err: malformed(a.Runtime(), fmt.Errorf("parse tool call arguments: %w", err))}
						return
					}
				}
				block.Args = args
				block.Content = ""
				out <- Event{Kind: EventToolCall, Block: *block}
			}
		}
	}
	if err := stream.Err(); err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			out <- Event{Kind: EventError, Err: rejected(a.Runtime(), err)}
			return
		}
		out <- Event{Kind: EventError, Err: unavailable(a.Runtime(), err)}
		return
	}
	out <- Event{Kind: EventComplete}
}

// reasoningField recovers a reasoning/thinking delta from providers that
// tunnel it through a non-standard field on the completions delta (Groq and
// several OpenAI-compatible gateways send "reasoning" alongside "content").
func reasoningField(delta openai.ChatCompletionChunkChoiceDelta) (string, bool) {
	raw := delta.JSON.ExtraFields["reasoning"]
	if !raw.Valid() {
		return "", false
	}
	var s string
	if err := json.Unmarshal([]byte(raw.Raw()), &s); err != nil {
		return "", false
	}
	return s, true
}

func (a *OpenAICompletions) convertMessages(messages []contentblock.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case contentblock.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case contentblock.RoleUser:
			out = append(out, a.convertUserMessage(m))
		case contentblock.RoleTool:
			output, err := m.ToolOutput()
			if err != nil {
				continue
			}
			out = append(out, openai.ToolMessage(output.Content, output.ToolCallID))
		case contentblock.RoleAssistant:
			out = append(out, a.convertAssistantMessage(m))
		}
	}
	return out
}

// convertUserMessage renders a user message as a multi-part content array
// whenever it carries an image, matching sidedotdev-sidekick's
// messagesToChatCompletionParams; a text-only message still goes through
// the same array shape rather than openai.UserMessage's string shortcut so
// text and image blocks interleave in the order the caller appended them.
func (a *OpenAICompletions) convertUserMessage(m contentblock.Message) openai.ChatCompletionMessageParamUnion {
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, block := range m.Blocks {
		switch block.Kind {
		case contentblock.KindText:
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfText: &openai.ChatCompletionContentPartTextParam{Text: block.Text},
			})
		case contentblock.KindImage:
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
						URL: dataURL(block.MimeType, block.Base64),
					},
				},
			})
		}
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}

// dataURL renders raw image bytes as an inline data: URL, the wire shape
// OpenAI's image_url content part accepts without a prior upload step.
func dataURL(mimeType string, raw []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(raw))
}

func (a *OpenAICompletions) convertAssistantMessage(m contentblock.Message) openai.ChatCompletionMessageParamUnion {
	msg := openai.ChatCompletionAssistantMessageParam{}
	var calls []openai.ChatCompletionMessageToolCallParam
	for _, block := range m.Blocks {
		switch block.Kind {
		case contentblock.KindText:
			msg.Content.OfString = param.NewOpt(block.Text)
		case contentblock.KindToolCall:
			argsJSON, _ := json.Marshal(block.Args)
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID: block.CallID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      block.Name,
					Arguments: string(argsJSON),
				},
			})
		}
	}
	msg.ToolCalls = calls
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func (a *OpenAICompletions) convertTools(toolInfos []tools.Info) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(toolInfos))
	for _, t := range toolInfos {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  t.Schema(),
			},
		})
	}
	return out
}
