package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"convoengine/internal/contentblock"
)

func TestAccumulateGenerate(t *testing.T) {
	t.Run("orders reasoning, text, then tool_call, dropping empty sections", func(t *testing.T) {
		stream := make(chan Event, 8)
		stream <- Event{Kind: EventReasoningDelta, Delta: "thinking "}
		stream <- Event{Kind: EventReasoningDelta, Delta: "more"}
		stream <- Event{Kind: EventContentDelta, Delta: "hello "}
		stream <- Event{Kind: EventContentDelta, Delta: "world"}
		stream <- Event{Kind: EventToolCall, Block: contentblock.ToolCall("call_1", "search", map[string]any{"q": "go"})}
		stream <- Event{Kind: EventComplete}
		close(stream)

		blocks, err := accumulateGenerate(context.Background(), stream)
		assert.NoError(t, err)
		assert.Len(t, blocks, 3)
		assert.Equal(t, contentblock.KindReasoning, blocks[0].Kind)
		assert.Equal(t, "thinking more", blocks[0].Reasoning)
		assert.Equal(t, contentblock.KindText, blocks[1].Kind)
		assert.Equal(t, "hello world", blocks[1].Text)
		assert.Equal(t, contentblock.KindToolCall, blocks[2].Kind)
		assert.Equal(t, "search", blocks[2].Name)
	})

	t.Run("a text-only stream produces a single text block", func(t *testing.T) {
		stream := make(chan Event, 2)
		stream <- Event{Kind: EventContentDelta, Delta: "hi"}
		stream <- Event{Kind: EventComplete}
		close(stream)

		blocks, err := accumulateGenerate(context.Background(), stream)
		assert.NoError(t, err)
		assert.Len(t, blocks, 1)
		assert.Equal(t, contentblock.KindText, blocks[0].Kind)
	})

	t.Run("an error event short-circuits accumulation", func(t *testing.T) {
		stream := make(chan Event, 2)
		stream <- Event{Kind: EventContentDelta, Delta: "partial"}
		stream <- Event{Kind: EventError, Err: errors.New("upstream failure")}
		close(stream)

		blocks, err := accumulateGenerate(context.Background(), stream)
		assert.Error(t, err)
		assert.Nil(t, blocks)
	})
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("unavailable/rejected/malformed constructors tag Kind and Runtime", func(t *testing.T) {
		err := unavailable(RuntimeOpenAIResponse, errors.New("dial tcp: timeout"))
		var pErr *Error
		assert.ErrorAs(t, err, &pErr)
		assert.Equal(t, ErrProviderUnavailable, pErr.Kind)
		assert.Equal(t, RuntimeOpenAIResponse, pErr.Runtime)
		assert.Contains(t, err.Error(), "timeout")

		rejErr := rejected(RuntimeAnthropic, errors.New("401"))
		assert.ErrorAs(t, rejErr, &pErr)
		assert.Equal(t, ErrProviderRejected, pErr.Kind)

		malErr := malformed(RuntimeGemini, errors.New("missing field"))
		assert.ErrorAs(t, malErr, &pErr)
		assert.Equal(t, ErrMalformedResponse, pErr.Kind)
	})
}
