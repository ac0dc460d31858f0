package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"convoengine/internal/contentblock"
	"convoengine/internal/engine"
	"convoengine/internal/provider"
	"convoengine/internal/tools"
)

// scriptedAdapter replays a fixed sequence of responses, one per call to
// Stream, mimicking a model that calls a tool once and then answers.
type scriptedAdapter struct {
	runtime provider.Runtime
	script  []provider.Event
	calls   int
}

func (a *scriptedAdapter) Runtime() provider.Runtime { return a.runtime }

func (a *scriptedAdapter) Generate(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort provider.ReasoningEffort) ([]contentblock.Block, error) {
	return nil, nil
}

func (a *scriptedAdapter) Stream(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort provider.ReasoningEffort) <-chan provider.Event {
	out := make(chan provider.Event, len(a.script)+1)
	idx := a.calls
	a.calls++
	if idx == 0 {
		out <- provider.Event{Kind: provider.EventToolCall, Block: contentblock.ToolCall("call_1", "calculator", map[string]any{"expression": "2 + 2"})}
	} else {
		out <- provider.Event{Kind: provider.EventContentDelta, Delta: "the answer is 4"}
	}
	out <- provider.Event{Kind: provider.EventComplete}
	close(out)
	return out
}

// repeatingToolCallAdapter always issues the same tool call, used to exercise
// duplicate-call detection and the recursion budget.
type repeatingToolCallAdapter struct {
	runtime provider.Runtime
}

func (a *repeatingToolCallAdapter) Runtime() provider.Runtime { return a.runtime }

func (a *repeatingToolCallAdapter) Generate(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort provider.ReasoningEffort) ([]contentblock.Block, error) {
	return nil, nil
}

func (a *repeatingToolCallAdapter) Stream(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort provider.ReasoningEffort) <-chan provider.Event {
	out := make(chan provider.Event, 2)
	out <- provider.Event{Kind: provider.EventToolCall, Block: contentblock.ToolCall("call_1", "calculator", map[string]any{"expression": "2 + 2"})}
	out <- provider.Event{Kind: provider.EventComplete}
	close(out)
	return out
}

func drain(events <-chan engine.Event) []engine.Event {
	var out []engine.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestEngineRun(t *testing.T) {
	t.Run("calls a tool then terminates on a text block", func(t *testing.T) {
		registry := tools.NewRegistry()
		registry.Register(tools.NewCalculatorTool())
		dispatcher := tools.NewDispatcher(registry)

		adapter := &scriptedAdapter{runtime: provider.RuntimeOpenAIResponse}
		eng := engine.NewEngine(adapter, dispatcher, registry.List())

		events := make(chan engine.Event, 16)
		state, err := eng.Run(context.Background(), []contentblock.Message{contentblock.NewUserText("what is 2 + 2?")}, provider.ReasoningOff, events)
		collected := drain(events)

		assert.NoError(t, err)
		assert.NotEmpty(t, collected)

		last, ok := state.Last()
		assert.True(t, ok)
		assert.Equal(t, contentblock.RoleAssistant, last.Role)
		assert.Equal(t, "the answer is 4", last.Text())
	})

	t.Run("duplicate tool calls are rejected without re-invoking the tool", func(t *testing.T) {
		registry := tools.NewRegistry()
		registry.Register(tools.NewCalculatorTool())
		dispatcher := tools.NewDispatcher(registry)

		adapter := &repeatingToolCallAdapter{runtime: provider.RuntimeOpenAIResponse}
		eng := engine.NewEngine(adapter, dispatcher, registry.List())

		events := make(chan engine.Event, 256)
		state, err := eng.Run(context.Background(), []contentblock.Message{contentblock.NewUserText("what is 2 + 2?")}, provider.ReasoningOff, events)
		drain(events)

		assert.NoError(t, err)

		var duplicateSeen bool
		for _, msg := range state.Messages {
			if msg.Role != contentblock.RoleTool {
				continue
			}
			out, err := msg.ToolOutput()
			assert.NoError(t, err)
			if out.Content == "Tool 'calculator' with these arguments was already executed; vary the arguments or proceed to a final answer." {
				duplicateSeen = true
			}
		}
		assert.True(t, duplicateSeen, "expected a duplicate-call diagnostic tool output")
	})

	t.Run("exceeding the recursion budget terminates with a synthetic answer", func(t *testing.T) {
		registry := tools.NewRegistry()
		// The adapter always re-issues the same tool call: after the first
		// invocation every repeat hits the duplicate check, which lets the
		// run continue; the tool call limit is then reached, and the
		// recursion budget finally stops the run.
		registry.Register(tools.NewCalculatorTool())
		dispatcher := tools.NewDispatcher(registry)

		adapter := &repeatingToolCallAdapter{runtime: provider.RuntimeOpenAIResponse}
		eng := engine.NewEngine(adapter, dispatcher, registry.List())

		events := make(chan engine.Event, 256)
		state, err := eng.Run(context.Background(), []contentblock.Message{contentblock.NewUserText("loop forever")}, provider.ReasoningOff, events)
		drain(events)

		assert.NoError(t, err)
		last, ok := state.Last()
		assert.True(t, ok)
		assert.Equal(t, contentblock.RoleAssistant, last.Role)
	})

	t.Run("Anthropic runtime uses the higher tool call limit", func(t *testing.T) {
		assert.Equal(t, engine.AnthropicToolCallLimit, engine.ToolCallLimitFor(provider.RuntimeAnthropic))
		assert.Equal(t, engine.DefaultToolCallLimit, engine.ToolCallLimitFor(provider.RuntimeOpenAIResponse))
	})

}

func TestToolCallHistory(t *testing.T) {
	h := engine.NewToolCallHistory()
	assert.False(t, h.Seen("calculator", `{"expression":"2 + 2"}`))

	h.Record("calculator", `{"expression":"2 + 2"}`, "call_1")
	assert.True(t, h.Seen("calculator", `{"expression":"2 + 2"}`))
	assert.False(t, h.Seen("calculator", `{"expression":"3 + 3"}`))

	entries := h.Entries()
	assert.Len(t, entries, 1)
	assert.Equal(t, "call_1", entries[0].ID)
}
