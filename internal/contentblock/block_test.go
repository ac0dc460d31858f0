package contentblock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"convoengine/internal/contentblock"
)

func TestBlockEqual(t *testing.T) {
	t.Run("text blocks compare by text", func(t *testing.T) {
		a := contentblock.Text("hello")
		b := contentblock.Text("hello")
		c := contentblock.Text("goodbye")

		assert.True(t, a.Equal(b))
		assert.False(t, a.Equal(c))
	})

	t.Run("reasoning blocks compare text and extras", func(t *testing.T) {
		a := contentblock.Reasoning("thinking", map[string]string{"sig": "abc"})
		b := contentblock.Reasoning("thinking", map[string]string{"sig": "abc"})
		c := contentblock.Reasoning("thinking", map[string]string{"sig": "different"})

		assert.True(t, a.Equal(b))
		assert.False(t, a.Equal(c))
	})

	t.Run("tool_call blocks compare name, id, and args", func(t *testing.T) {
		a := contentblock.ToolCall("call_1", "search", map[string]any{"q": "go"})
		b := contentblock.ToolCall("call_1", "search", map[string]any{"q": "go"})
		c := contentblock.ToolCall("call_1", "search", map[string]any{"q": "rust"})

		assert.True(t, a.Equal(b))
		assert.False(t, a.Equal(c))
	})

	t.Run("different kinds never compare equal", func(t *testing.T) {
		assert.False(t, contentblock.Text("x").Equal(contentblock.Reasoning("x", nil)))
	})
}

func TestMessageToolOutput(t *testing.T) {
	t.Run("returns the single tool_output block", func(t *testing.T) {
		msg := contentblock.NewToolMessage("call_1", "42")
		out, err := msg.ToolOutput()
		assert.NoError(t, err)
		assert.Equal(t, "call_1", out.ToolCallID)
		assert.Equal(t, "42", out.Content)
	})

	t.Run("errors when there is no tool_output block", func(t *testing.T) {
		msg := contentblock.NewUserText("hi")
		_, err := msg.ToolOutput()
		assert.Error(t, err)
	})

	t.Run("errors when there is more than one tool_output block", func(t *testing.T) {
		msg := contentblock.Message{
			Role: contentblock.RoleTool,
			Blocks: []contentblock.Block{
				contentblock.ToolOutput("call_1", "a"),
				contentblock.ToolOutput("call_2", "b"),
			},
		}
		_, err := msg.ToolOutput()
		assert.Error(t, err)
	})
}

func TestMessageTextAndToolCalls(t *testing.T) {
	msg := contentblock.Message{
		Role: contentblock.RoleAssistant,
		Blocks: []contentblock.Block{
			contentblock.Text("part one "),
			contentblock.ToolCall("call_1", "search", nil),
			contentblock.Text("part two"),
		},
	}

	assert.Equal(t, "part one part two", msg.Text())
	assert.Len(t, msg.ToolCalls(), 1)
	assert.Equal(t, "search", msg.ToolCalls()[0].Name)

	last, ok := msg.LastBlock()
	assert.True(t, ok)
	assert.Equal(t, "part two", last.Text)
}
