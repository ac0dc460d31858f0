package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"convoengine/internal/contentblock"
	"convoengine/internal/tools"
)

// Gemini adapts Google's GenAI SDK. Reasoning is exposed as "thinking"
// parts; this SDK surface does not expose a replayable thought signature,
// so unlike Anthropic's adapter, Gemini reasoning blocks carry no Extras
// and are dropped (not replayed) on the next turn.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds an adapter against model using an API-key-backed client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, unavailable(RuntimeGemini, err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (a *Gemini) Runtime() Runtime { return RuntimeGemini }

func (a *Gemini) Generate(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) ([]contentblock.Block, error) {
	return accumulateGenerate(ctx, a.Stream(ctx, messages, toolInfos, effort))
}

func (a *Gemini) Stream(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) <-chan Event {
	out := make(chan Event, 16)
	go a.streamInto(ctx, messages, toolInfos, effort, out)
	return out
}

func (a *Gemini) streamInto(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort, out chan<- Event) {
	defer close(out)

	system, contents := a.convertMessages(messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if toolParam := a.convertTools(toolInfos); toolParam != nil {
		config.Tools = []*genai.Tool{toolParam}
	}
	if level, ok := thinkingBudget(effort); ok {
		config.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget:  genai.Ptr(level),
			IncludeThoughts: true,
		}
	}

	stream := a.client.Models.GenerateContentStream(ctx, a.model, contents, config)

	for chunk, err := range stream {
		if err != nil {
			out <- Event{Kind: EventError, Err: unavailable(a.Runtime(), err)}
			return
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.Thought && part.Text != "":
				out <- Event{Kind: EventReasoningDelta, Delta: part.Text}
			case part.Text != "":
				out <- Event{Kind: EventContentDelta, Delta: part.Text}
			case part.FunctionCall != nil:
				block := contentblock.ToolCall(part.FunctionCall.ID, part.FunctionCall.Name, part.FunctionCall.Args)
				out <- Event{Kind: EventToolCall, Block: block}
			}
		}
	}

	out <- Event{Kind: EventComplete}
}

func thinkingBudget(effort ReasoningEffort) (int32, bool) {
	switch effort {
	case ReasoningLow, ReasoningMinimal:
		return 2048, true
	case ReasoningMedium:
		return 8192, true
	case ReasoningHigh:
		return 24576, true
	default:
		return 0, false
	}
}

// convertMessages splits out the leading system text (Gemini takes it as a
// dedicated SystemInstruction) and maps the remaining turns onto
// genai.Content, matching the role mapping the teacher's other provider
// adapters use (assistant -> model, everything else -> user).
func (a *Gemini) convertMessages(messages []contentblock.Message) (string, []*genai.Content) {
	var system string
	var out []*genai.Content
	for _, m := range messages {
		if m.Role == contentblock.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Text()
			continue
		}

		role := genai.RoleUser
		if m.Role == contentblock.RoleAssistant {
			role = genai.RoleModel
		}

		if m.Role == contentblock.RoleTool {
			output, err := m.ToolOutput()
			if err != nil {
				continue
			}
			out = append(out, genai.NewContentFromFunctionResponse(output.ToolCallID, map[string]any{"result": output.Content}, genai.RoleUser))
			continue
		}

		var parts []*genai.Part
		for _, block := range m.Blocks {
			switch block.Kind {
			case contentblock.KindText:
				parts = append(parts, genai.NewPartFromText(block.Text))
			case contentblock.KindToolCall:
				parts = append(parts, genai.NewPartFromFunctionCall(block.Name, block.Args))
			case contentblock.KindImage:
				parts = append(parts, genai.NewPartFromBytes(block.Base64, block.MimeType))
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return system, out
}

func (a *Gemini) convertTools(toolInfos []tools.Info) *genai.Tool {
	if len(toolInfos) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(toolInfos))
	for _, t := range toolInfos {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: schemaProperties(t.Parameters),
				Required:   t.Required,
			},
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

// schemaProperties narrows the registry's loosely-typed JSON-schema
// properties map into genai.Schema nodes, covering the string/number/
// integer/boolean/array/object primitives the tool registry's builtin and
// MCP-discovered schemas actually produce.
func schemaProperties(params map[string]any) map[string]*genai.Schema {
	out := make(map[string]*genai.Schema, len(params))
	for name, raw := range params {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out[name] = &genai.Schema{
			Type:        genaiType(prop["type"]),
			Description: fmt.Sprintf("%v", prop["description"]),
		}
	}
	return out
}

func genaiType(t any) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
