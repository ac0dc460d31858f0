package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"convoengine/internal/contentblock"
	"convoengine/internal/tools"
)

// maxToolRetries bounds retries triggered by a provider emitting arguments
// that fail to parse as JSON — a defense against a flaky stream. shouldRetry
// also derives the 429/5xx cap from it (maxToolRetries+1 retries).
const maxToolRetries = 2

// OpenAIResponses adapts the OpenAI Responses API (and any Responses-shaped
// rerouting such as Groq's preview endpoint) to the Adapter interface. It is
// a close structural adaptation of the teacher's Responses client: the same
// convertMessages/convertTools/prepareParams/stream split, rebuilt against
// contentblock.Message and tools.Info instead of the teacher's internal
// message/tool types.
type OpenAIResponses struct {
	client openai.Client
	model  string
}

// NewOpenAIResponses builds an adapter against model, optionally redirecting
// the base URL (Groq publishes a Responses-compatible preview endpoint at a
// different host; baseURL is empty for api.openai.com).
func NewOpenAIResponses(apiKey, baseURL, model string) *OpenAIResponses {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIResponses{client: openai.NewClient(opts...), model: model}
}

func (a *OpenAIResponses) Runtime() Runtime { return RuntimeOpenAIResponse }

func (a *OpenAIResponses) Generate(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) ([]contentblock.Block, error) {
	return accumulateGenerate(ctx, a.Stream(ctx, messages, toolInfos, effort))
}

func (a *OpenAIResponses) Stream(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) <-chan Event {
	out := make(chan Event, 16)
	go a.streamInto(ctx, messages, toolInfos, effort, out)
	return out
}

func (a *OpenAIResponses) streamInto(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort, out chan<- Event) {
	defer close(out)

	params := a.prepareParams(messages, toolInfos, effort)

	var attempt int
	for {
		attempt++
		err := a.streamOnce(ctx, params, out)
		if err == nil {
			return
		}
		if !a.shouldRetry(err, attempt) {
			out <- Event{Kind: EventError, Err: err}
			return
		}
		if err := sleepBackoff(ctx, attempt); err != nil {
			out <- Event{Kind: EventError, Err: err}
			return
		}
	}
}

func (a *OpenAIResponses) streamOnce(ctx context.Context, params responses.ResponseNewParams, out chan<- Event) error {
	stream := a.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	toolCallMap := make(map[string]*contentblock.Block)
	var reasoningExtras map[string]string

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "response.output_text.delta":
			delta := event.AsResponseOutputTextDelta()
			out <- Event{Kind: EventContentDelta, Delta: delta.Delta}

		case "response.reasoning_summary_text.delta":
			delta := event.AsResponseReasoningSummaryTextDelta()
			out <- Event{Kind: EventReasoningDelta, Delta: delta.Delta}

		case "response.reasoning_text.delta":
			delta := event.AsResponseReasoningTextDelta()
			out <- Event{Kind: EventReasoningDelta, Delta: delta.Delta}

		case "response.output_item.added":
			item := event.AsResponseOutputItemAdded()
			if item.Item.Type == "function_call" {
				toolCallMap[item.Item.ID] = &contentblock.Block{
					Kind:   contentblock.KindToolCall,
					CallID: item.Item.CallID,
					Name:   item.Item.Name,
				}
			}

		case "response.function_call_arguments.delta":
			delta := event.AsResponseFunctionCallArgumentsDelta()
			if block, ok := toolCallMap[delta.ItemID]; ok {
				block.Content += delta.Delta
			}

		case "response.function_call_arguments.done":
			done := event.AsResponseFunctionCallArgumentsDone()
			block, ok := toolCallMap[done.ItemID]
			if !ok {
				continue
			}
			var args map[string]any
			raw := block.Content
			if raw == "" {
				raw = done.Arguments
			}
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return malformed(a.Runtime(), fmt.Errorf("parse function call arguments: %w", err))
			}
			block.Args = args
			block.Content = ""
			out <- Event{Kind: EventToolCall, Block: *block}

		case "response.completed":
			out <- Event{Kind: EventComplete, Reasoning: contentblock.Reasoning("", reasoningExtras)}
			return nil

		case "error":
			errEvent := event.AsError()
			return rejected(a.Runtime(), fmt.Errorf("%s: %s", errEvent.Code, errEvent.Message))
		}
	}
	if err := stream.Err(); err != nil {
		return unavailable(a.Runtime(), err)
	}
	out <- Event{Kind: EventComplete}
	return nil
}

// prepareParams mirrors the teacher's prepareParams: convert messages, bind
// tools, and map ReasoningEffort onto the Responses reasoning parameter
// whenever the effort is not off, whatever the model.
func (a *OpenAIResponses) prepareParams(messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: a.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: a.convertMessages(messages),
		},
	}
	if tools := a.convertTools(toolInfos); len(tools) > 0 {
		params.Tools = tools
	}
	if level, ok := reasoningEffortLevel(effort); ok {
		params.Reasoning = shared.ReasoningParam{Effort: level}
	}
	return params
}

func reasoningEffortLevel(effort ReasoningEffort) (shared.ReasoningEffort, bool) {
	switch effort {
	case ReasoningLow, ReasoningMinimal:
		return shared.ReasoningEffortLow, true
	case ReasoningMedium:
		return shared.ReasoningEffortMedium, true
	case ReasoningHigh:
		return shared.ReasoningEffortHigh, true
	default:
		return "", false
	}
}

// convertMessages replays the §3 ContentBlock model into the Responses
// input-item list, mirroring the teacher's role-based switch: text becomes
// a message item, tool_call becomes a function_call item, tool_output
// becomes a function_call_output item.
func (a *OpenAIResponses) convertMessages(messages []contentblock.Message) responses.ResponseInputParam {
	var items responses.ResponseInputParam
	for _, m := range messages {
		switch m.Role {
		case contentblock.RoleTool:
			output, err := m.ToolOutput()
			if err != nil {
				continue
			}
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(output.ToolCallID, output.Content))
			continue
		}

		for _, block := range m.Blocks {
			switch block.Kind {
			case contentblock.KindText, contentblock.KindReasoning:
				text := block.Text
				if block.Kind == contentblock.KindReasoning {
					text = block.Reasoning
				}
				if text == "" {
					continue
				}
				items = append(items, responses.ResponseInputItemParamOfMessage(text, responseRole(m.Role)))
			case contentblock.KindToolCall:
				argsJSON, _ := json.Marshal(block.Args)
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(argsJSON), block.CallID, block.Name))
			case contentblock.KindImage:
				contentList := responses.ResponseInputMessageContentListParam{
					responses.ResponseInputContentUnionParam{
						OfInputImage: &responses.ResponseInputImageParam{
							ImageURL: openai.String(dataURL(block.MimeType, block.Base64)),
							Type:     "input_image",
							Detail:   responses.ResponseInputImageDetailAuto,
						},
					},
				}
				items = append(items, responses.ResponseInputItemParamOfMessage(contentList, responseRole(m.Role)))
			}
		}
	}
	return items
}

func responseRole(role contentblock.Role) responses.EasyInputMessageRole {
	switch role {
	case contentblock.RoleSystem:
		return responses.EasyInputMessageRoleSystem
	case contentblock.RoleAssistant:
		return responses.EasyInputMessageRoleAssistant
	default:
		return responses.EasyInputMessageRoleUser
	}
}

func (a *OpenAIResponses) convertTools(toolInfos []tools.Info) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(toolInfos))
	for _, t := range toolInfos {
		fn := responses.ToolParamOfFunction(t.Name, t.Schema(), false)
		fn.OfFunction.Description = openai.String(t.Description)
		out = append(out, fn)
	}
	return out
}

// shouldRetry mirrors the teacher's retry policy: 429 and 5xx are
// retryable up to a small bound, tool-argument parse failures get their own
// shorter budget, everything else is terminal.
func (a *OpenAIResponses) shouldRetry(err error, attempt int) bool {
	if attempt > maxToolRetries+1 {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var perr *Error
	if errors.As(err, &perr) && perr.Kind == ErrMalformedResponse {
		return attempt <= maxToolRetries
	}
	return false
}

func sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(attempt*attempt) * 250 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfter parses an HTTP Retry-After header value as seconds, reporting
// false when it is absent or unparsable. The retry loop does not call it;
// backoff always follows sleepBackoff's schedule.
func retryAfter(header http.Header) (time.Duration, bool) {
	v := header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
