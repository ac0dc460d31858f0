// Package transcript implements the Streaming Transcript Writer of spec
// §4.6: it consumes the engine's event stream and fans it out to a network
// client as newline-delimited JSON frames and to durable relational storage
// as structured rows, segmenting persistence writes by content-block type.
// Grounded on the teacher's WriteToolResultsJson
// (internal/llm/logging/logging.go) for the "best-effort persistence write,
// log and never block the stream on failure" discipline, and on
// original_source/server/services/peng_agent.py's save_chat/save_tool_call
// for the row shapes and truncation caps being persisted.
package transcript

import (
	"context"
	"encoding/json"
	"io"

	"convoengine/internal/contentblock"
	"convoengine/internal/engine"
	"convoengine/internal/logging"
)

// MaxBodyChars is the truncation cap applied to persisted text/reasoning
// bodies, per spec §4.6.
const MaxBodyChars = 10240

// BlockKind is the wire vocabulary for the client frame's "type" field.
type BlockKind string

const (
	KindOutputText       BlockKind = "output_text"
	KindReasoningSummary BlockKind = "reasoning_summary"
	KindToolCalls        BlockKind = "tool_calls"
	KindToolOutput       BlockKind = "tool_output"
)

// Frame is one line of the client-facing NDJSON stream.
type Frame struct {
	Chunk string `json:"chunk"`
	Type  string `json:"type,omitempty"`
	Done  bool   `json:"done"`
}

// Store persists the rows the writer flushes. A single implementation
// backs it (internal/store's GORM/MySQL repository); it is an interface
// here so the writer can be tested without a live database.
type Store interface {
	SaveAIResponse(ctx context.Context, chatID, text string) error
	SaveAIReasoning(ctx context.Context, chatID, text string) error
	SaveToolCall(ctx context.Context, chatID, callID, name string, args map[string]any) error
	SaveToolOutput(ctx context.Context, chatID, callID, content string) error
}

// Writer drains one engine.Event stream for a single chat_id, emitting
// Frames to client and rows to store. A Writer is single-use: construct one
// per request.
type Writer struct {
	chatID string
	client io.Writer
	store  Store
	logger *logging.Logger

	currentType BlockKind
	buffer      string
}

// NewWriter builds a Writer for chatID, writing NDJSON frames to client and
// persisted rows through store. logger receives best-effort-write failures.
func NewWriter(chatID string, client io.Writer, store Store, logger *logging.Logger) *Writer {
	return &Writer{chatID: chatID, client: client, store: store, logger: logger}
}

// Run drains events to completion, writing frames as it goes, then emits
// the terminal done:true frame. It returns only a client-write error — a
// persistence failure is logged, never returned, per §4.6's "best-effort
// write that fails must never block or corrupt the stream" guarantee.
func (w *Writer) Run(ctx context.Context, events <-chan engine.Event) error {
	for ev := range events {
		kind, text := classify(ev.Block)
		if kind == "" {
			continue
		}

		if kind != w.currentType {
			w.flush(ctx)
			w.currentType = kind
		}

		switch kind {
		case KindOutputText, KindReasoningSummary:
			w.buffer += text
			if err := w.writeFrame(text, kind); err != nil {
				return err
			}
		case KindToolCalls:
			w.persistToolCall(ctx, ev.Block)
			if err := w.writeFrame(text, kind); err != nil {
				return err
			}
		case KindToolOutput:
			w.persistToolOutput(ctx, ev.Block)
			if err := w.writeFrame(text, kind); err != nil {
				return err
			}
		}
	}

	w.flush(ctx)
	return w.writeFrame(w.chatID, "", true)
}

// classify maps a ContentBlock to its wire block-kind and display text.
// tool_call/tool_output blocks render a short human-readable summary rather
// than their raw structured form, since the client frame's chunk field is a
// display string, not a structured payload.
func classify(block contentblock.Block) (BlockKind, string) {
	switch block.Kind {
	case contentblock.KindText:
		return KindOutputText, block.Text
	case contentblock.KindReasoning:
		return KindReasoningSummary, block.Reasoning
	case contentblock.KindToolCall:
		return KindToolCalls, block.Name
	case contentblock.KindToolOutput:
		return KindToolOutput, block.Content
	default:
		return "", ""
	}
}

func (w *Writer) writeFrame(chunk string, kind BlockKind, done ...bool) error {
	frame := Frame{Chunk: chunk, Type: string(kind)}
	if len(done) > 0 {
		frame.Done = done[0]
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = w.client.Write(raw)
	return err
}

// flush writes the accumulated buffer for w.currentType as a single
// truncated row, the segmentation-by-block-type rule of §4.6. tool_calls
// and tool_output rows are written immediately elsewhere and never
// buffered, so flush only has work to do for text/reasoning runs.
func (w *Writer) flush(ctx context.Context) {
	if w.buffer == "" {
		return
	}
	body := truncate(w.buffer)
	var err error
	switch w.currentType {
	case KindOutputText:
		err = w.store.SaveAIResponse(ctx, w.chatID, body)
	case KindReasoningSummary:
		err = w.store.SaveAIReasoning(ctx, w.chatID, body)
	}
	if err != nil {
		w.logger.Error("transcript: flush failed", "chat_id", w.chatID, "block_type", w.currentType, "err", err)
	}
	w.buffer = ""
}

func (w *Writer) persistToolCall(ctx context.Context, block contentblock.Block) {
	if err := w.store.SaveToolCall(ctx, w.chatID, block.CallID, block.Name, block.Args); err != nil {
		w.logger.Error("transcript: persist tool_call failed", "chat_id", w.chatID, "call_id", block.CallID, "err", err)
	}
}

func (w *Writer) persistToolOutput(ctx context.Context, block contentblock.Block) {
	content := truncate(block.Content)
	if err := w.store.SaveToolOutput(ctx, w.chatID, block.ToolCallID, content); err != nil {
		w.logger.Error("transcript: persist tool_output failed", "chat_id", w.chatID, "call_id", block.ToolCallID, "err", err)
	}
}

func truncate(s string) string {
	if len(s) <= MaxBodyChars {
		return s
	}
	return s[:MaxBodyChars]
}
