package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"convoengine/internal/contentblock"
	"convoengine/internal/provider"
	"convoengine/internal/tools"
)

// tracer instruments the call_model/call_tools graph loop, grounded on the
// same goadesign-goa-ai model_tracing.go span-per-step pattern the provider
// package's tracedAdapter follows.
var tracer = otel.Tracer("convoengine/engine")

// DefaultToolCallLimit is the tool_call_limit used for every runtime family
// except Anthropic, per spec §4.5.
const DefaultToolCallLimit = 10

// AnthropicToolCallLimit reflects Anthropic's higher tool-use propensity.
const AnthropicToolCallLimit = 25

// ToolCallLimitFor resolves the configured tool_call_limit for a runtime,
// the one place the Anthropic exception lives so callers never have to
// special-case it themselves.
func ToolCallLimitFor(runtime provider.Runtime) int {
	if runtime == provider.RuntimeAnthropic {
		return AnthropicToolCallLimit
	}
	return DefaultToolCallLimit
}

// node names one of the engine's two working states; END is not modeled as
// a node value since the Run loop simply stops.
type node string

const (
	nodeCallModel node = "call_model"
	nodeCallTools node = "call_tools"
)

// EventSource distinguishes which node produced a streamed Event, matching
// the "call_model.messages" / "call_tools.messages" event names of §4.5.
type EventSource string

const (
	SourceCallModel EventSource = "call_model"
	SourceCallTools EventSource = "call_tools"
)

// Event is one live-streamed unit the engine pushes as it runs, consumed by
// the transcript writer (§4.6).
type Event struct {
	Source EventSource
	Block  contentblock.Block
}

// ErrBudgetExceeded names the failure mode of a run that needs more node
// visits than its recursion budget allows. Run does not return it: it
// handles that case internally by appending a synthetic tool output and a
// terminal text block, and returns a nil error.
var ErrBudgetExceeded = fmt.Errorf("engine: recursion budget exceeded")

// Engine runs a single agent request to completion against one provider
// adapter and one tool dispatcher.
type Engine struct {
	adapter    provider.Adapter
	dispatcher *tools.Dispatcher
	toolInfos  []tools.Info
}

// NewEngine builds an Engine. toolInfos is the tool list bound into every
// call_model invocation for this run; it is fixed for the run's lifetime
// (spec §4.5 does not model tools changing mid-run except for the
// limit-reached case, which clears the list internally).
func NewEngine(adapter provider.Adapter, dispatcher *tools.Dispatcher, toolInfos []tools.Info) *Engine {
	return &Engine{adapter: adapter, dispatcher: dispatcher, toolInfos: toolInfos}
}

// Run drives the state machine from call_model to END, emitting Events on
// events as it goes. events is closed by Run before it returns. The
// returned AgentState is the full conversation including the seed messages
// passed in initial.
func (e *Engine) Run(ctx context.Context, initial []contentblock.Message, effort provider.ReasoningEffort, events chan<- Event) (*AgentState, error) {
	defer close(events)

	ctx, span := tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("engine.runtime", string(e.adapter.Runtime())),
			attribute.String("engine.reasoning_effort", string(effort)),
		),
	)
	defer span.End()

	state := &AgentState{Messages: append([]contentblock.Message(nil), initial...)}
	history := NewToolCallHistory()

	limit := ToolCallLimitFor(e.adapter.Runtime())
	remaining := limit
	budget := (limit + 1) * 2

	current := nodeCallModel
	activeTools := e.toolInfos

	for visits := 0; ; visits++ {
		if visits >= budget {
			span.AddEvent("engine.budget_exceeded")
			e.appendBudgetExceeded(state, events)
			return state, nil
		}

		switch current {
		case nodeCallModel:
			if err := e.callModel(ctx, state, activeTools, effort, events); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "call_model failed")
				return state, err
			}
		case nodeCallTools:
			e.callTools(ctx, state, history, &remaining, &activeTools, events)
		}

		next, done := e.transition(state)
		if done {
			return state, nil
		}
		current = next
	}
}

// transition inspects the last Message per §4.5's transition table.
func (e *Engine) transition(state *AgentState) (node, bool) {
	last, ok := state.Last()
	if !ok {
		return nodeCallModel, false
	}

	switch last.Role {
	case contentblock.RoleAssistant:
		block, ok := last.LastBlock()
		if !ok {
			return nodeCallModel, false
		}
		switch block.Kind {
		case contentblock.KindToolCall:
			return nodeCallTools, false
		case contentblock.KindText:
			return "", true // END
		default:
			// reasoning-only turn: force continuation without consuming budget
			return nodeCallModel, false
		}
	case contentblock.RoleTool:
		return nodeCallModel, false
	default:
		return nodeCallModel, false
	}
}

// callModel invokes the adapter's streaming API, pushes each block live,
// and on completion appends one assistant Message to state whose blocks
// are the reasoning, the text, then every tool_call in the order streamed
// (whichever are non-empty), per §4.5.
func (e *Engine) callModel(ctx context.Context, state *AgentState, activeTools []tools.Info, effort provider.ReasoningEffort, events chan<- Event) error {
	stream := e.adapter.Stream(ctx, state.Messages, activeTools, effort)

	var reasoningText, text string
	var reasoningExtras map[string]string
	var toolCalls []contentblock.Block

	for ev := range stream {
		switch ev.Kind {
		case provider.EventReasoningDelta:
			reasoningText += ev.Delta
			events <- Event{Source: SourceCallModel, Block: contentblock.Reasoning(ev.Delta, nil)}
		case provider.EventContentDelta:
			text += ev.Delta
			events <- Event{Source: SourceCallModel, Block: contentblock.Text(ev.Delta)}
		case provider.EventToolCall:
			toolCalls = append(toolCalls, ev.Block)
			events <- Event{Source: SourceCallModel, Block: ev.Block}
		case provider.EventComplete:
			if ev.Reasoning.Kind == contentblock.KindReasoning {
				reasoningExtras = ev.Reasoning.Extras
			}
		case provider.EventError:
			return ev.Err
		}
	}

	var assistantBlocks []contentblock.Block
	if reasoningText != "" {
		assistantBlocks = append(assistantBlocks, contentblock.Reasoning(reasoningText, reasoningExtras))
	}
	if text != "" {
		assistantBlocks = append(assistantBlocks, contentblock.Text(text))
	}
	assistantBlocks = append(assistantBlocks, toolCalls...)
	if len(assistantBlocks) > 0 {
		state.Append(contentblock.Message{Role: contentblock.RoleAssistant, Blocks: assistantBlocks})
	}
	return nil
}

// callTools applies the §4.5 call_tools preconditions in order against the
// trailing tool_call of the last assistant message, handling every
// tool_call in that message sequentially (the "parallel calls processed
// sequentially, each with its own checks" tie-break).
func (e *Engine) callTools(ctx context.Context, state *AgentState, history *ToolCallHistory, remaining *int, activeTools *[]tools.Info, events chan<- Event) {
	last, ok := state.Last()
	if !ok || last.Role != contentblock.RoleAssistant {
		e.appendToolOutput(state, events, "", "Not an AI message to call tools.")
		return
	}
	calls := last.ToolCalls()
	if len(calls) == 0 {
		e.appendToolOutput(state, events, "", "Not an AI message to call tools.")
		return
	}

	for _, call := range calls {
		// 1. Budget check.
		*remaining--
		if *remaining <= 0 {
			e.appendToolOutput(state, events, call.CallID, "Tool call limit reached; answer with the information available.")
			*activeTools = nil
			return
		}

		// 3. Registry membership.
		argsKey := historyKey(call.Args)
		if e.dispatcher == nil {
			e.appendToolOutput(state, events, call.CallID, fmt.Sprintf("Tool '%s' not found.", call.Name))
			continue
		}

		// 4. Duplicate-call detection.
		if history.Seen(call.Name, argsKey) {
			e.appendToolOutput(state, events, call.CallID,
				fmt.Sprintf("Tool '%s' with these arguments was already executed; vary the arguments or proceed to a final answer.", call.Name))
			continue
		}

		// 5. Invoke.
		toolCtx, toolSpan := tracer.Start(ctx, "engine.call_tool",
			trace.WithAttributes(attribute.String("tool.name", call.Name)),
		)
		result, found := e.dispatcher.Invoke(toolCtx, call.Name, call.Args)
		if result.IsError {
			toolSpan.SetStatus(codes.Error, result.Content)
		}
		toolSpan.End()
		if !found {
			e.appendToolOutput(state, events, call.CallID, result.Content)
			continue
		}

		// 6. Record on successful, non-duplicate invocation.
		history.Record(call.Name, argsKey, call.CallID)
		e.appendToolOutput(state, events, call.CallID, result.Content)
	}
}

func (e *Engine) appendToolOutput(state *AgentState, events chan<- Event, callID, content string) {
	block := contentblock.ToolOutput(callID, content)
	state.Append(contentblock.NewToolMessage(callID, content))
	events <- Event{Source: SourceCallTools, Block: block}
}

func (e *Engine) appendBudgetExceeded(state *AgentState, events chan<- Event) {
	callID := ""
	if last, ok := state.Last(); ok {
		for _, c := range last.ToolCalls() {
			callID = c.CallID
		}
	}
	e.appendToolOutput(state, events, callID, "Agent exceeded its recursion budget and was stopped.")
	text := contentblock.Text("I was unable to complete this request within the allotted number of steps.")
	state.Append(contentblock.Message{Role: contentblock.RoleAssistant, Blocks: []contentblock.Block{text}})
	events <- Event{Source: SourceCallModel, Block: text}
}

// historyKey canonicalizes args into a stable string for ToolCallHistory
// comparison: map[string]any is not comparable, so duplicate detection
// compares the JSON encoding instead. encoding/json already emits map keys
// in sorted order, so this is stable across calls with the same content.
func historyKey(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}
