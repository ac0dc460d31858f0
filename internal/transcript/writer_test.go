package transcript_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"convoengine/internal/contentblock"
	"convoengine/internal/engine"
	"convoengine/internal/logging"
	"convoengine/internal/transcript"
)

type recordedToolCall struct {
	chatID, callID, name string
	args                 map[string]any
}

type recordedToolOutput struct {
	chatID, callID, content string
}

type fakeStore struct {
	responses  []string
	reasonings []string
	toolCalls  []recordedToolCall
	toolOuts   []recordedToolOutput
}

func (f *fakeStore) SaveAIResponse(ctx context.Context, chatID, text string) error {
	f.responses = append(f.responses, text)
	return nil
}

func (f *fakeStore) SaveAIReasoning(ctx context.Context, chatID, text string) error {
	f.reasonings = append(f.reasonings, text)
	return nil
}

func (f *fakeStore) SaveToolCall(ctx context.Context, chatID, callID, name string, args map[string]any) error {
	f.toolCalls = append(f.toolCalls, recordedToolCall{chatID, callID, name, args})
	return nil
}

func (f *fakeStore) SaveToolOutput(ctx context.Context, chatID, callID, content string) error {
	f.toolOuts = append(f.toolOuts, recordedToolOutput{chatID, callID, content})
	return nil
}

func parseFrames(t *testing.T, raw string) []transcript.Frame {
	t.Helper()
	var frames []transcript.Frame
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var f transcript.Frame
		assert.NoError(t, json.Unmarshal([]byte(line), &f))
		frames = append(frames, f)
	}
	return frames
}

func TestWriterRun(t *testing.T) {
	t.Run("segments persistence writes by block type and flushes on transition", func(t *testing.T) {
		store := &fakeStore{}
		var buf bytes.Buffer
		w := transcript.NewWriter("chat-1", &buf, store, logging.Default())

		events := make(chan engine.Event, 8)
		events <- engine.Event{Source: engine.SourceCallModel, Block: contentblock.Reasoning("thinking ", nil)}
		events <- engine.Event{Source: engine.SourceCallModel, Block: contentblock.Reasoning("more", nil)}
		events <- engine.Event{Source: engine.SourceCallModel, Block: contentblock.Text("hello ")}
		events <- engine.Event{Source: engine.SourceCallModel, Block: contentblock.Text("world")}
		close(events)

		err := w.Run(context.Background(), events)
		assert.NoError(t, err)

		assert.Equal(t, []string{"thinking more"}, store.reasonings)
		assert.Equal(t, []string{"hello world"}, store.responses)

		frames := parseFrames(t, buf.String())
		assert.True(t, frames[len(frames)-1].Done)
	})

	t.Run("tool calls and outputs are persisted immediately, not buffered", func(t *testing.T) {
		store := &fakeStore{}
		var buf bytes.Buffer
		w := transcript.NewWriter("chat-1", &buf, store, logging.Default())

		events := make(chan engine.Event, 4)
		events <- engine.Event{Source: engine.SourceCallModel, Block: contentblock.ToolCall("call_1", "calculator", map[string]any{"expression": "2 + 2"})}
		events <- engine.Event{Source: engine.SourceCallTools, Block: contentblock.ToolOutput("call_1", "4")}
		close(events)

		err := w.Run(context.Background(), events)
		assert.NoError(t, err)

		assert.Len(t, store.toolCalls, 1)
		assert.Equal(t, "calculator", store.toolCalls[0].name)
		assert.Len(t, store.toolOuts, 1)
		assert.Equal(t, "4", store.toolOuts[0].content)
	})

	t.Run("emits a terminal done frame even for an empty event stream", func(t *testing.T) {
		store := &fakeStore{}
		var buf bytes.Buffer
		w := transcript.NewWriter("chat-1", &buf, store, logging.Default())

		events := make(chan engine.Event)
		close(events)

		err := w.Run(context.Background(), events)
		assert.NoError(t, err)

		frames := parseFrames(t, buf.String())
		assert.Len(t, frames, 1)
		assert.True(t, frames[0].Done)
	})

	t.Run("persisted text bodies are truncated at the configured cap", func(t *testing.T) {
		store := &fakeStore{}
		var buf bytes.Buffer
		w := transcript.NewWriter("chat-1", &buf, store, logging.Default())

		long := strings.Repeat("a", transcript.MaxBodyChars+500)
		events := make(chan engine.Event, 1)
		events <- engine.Event{Source: engine.SourceCallModel, Block: contentblock.Text(long)}
		close(events)

		err := w.Run(context.Background(), events)
		assert.NoError(t, err)

		assert.Len(t, store.responses, 1)
		assert.Len(t, store.responses[0], transcript.MaxBodyChars)
	})
}
