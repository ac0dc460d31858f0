// Package provider implements the per-runtime translation layer of spec
// §4.2: one adapter per upstream wire format, each presenting the same
// generate/stream capability over the shared contentblock.Message/Block
// types regardless of provider.
package provider

import (
	"context"
	"fmt"

	"convoengine/internal/contentblock"
	"convoengine/internal/tools"
)

// ReasoningEffort is the coarse ordinal dial for models exposing a
// chain-of-thought budget. "off" means the effort parameter is omitted
// entirely rather than sent as some provider-specific zero value.
type ReasoningEffort string

const (
	ReasoningOff     ReasoningEffort = "off"
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
)

// EventKind discriminates the streamed events an Adapter emits.
type EventKind string

const (
	EventContentDelta   EventKind = "content_delta"
	EventReasoningDelta EventKind = "reasoning_delta"
	EventToolCall       EventKind = "tool_call" // emitted whole, never partial
	EventComplete       EventKind = "complete"
	EventError          EventKind = "error"
)

// Event is one item of an Adapter's lazy stream. Content/Reasoning deltas
// carry only the incremental text; EventToolCall carries the fully
// accumulated block (adapters buffer partial JSON argument fragments
// internally, per spec §4.2, and only emit once the provider signals the
// call is complete). EventComplete carries no accumulated text: callers
// accumulate the deltas themselves, and its Reasoning field holds only the
// replay Extras (e.g. a thinking signature) for the turn's reasoning, when
// the adapter has any.
type Event struct {
	Kind      EventKind
	Delta     string
	Block     contentblock.Block
	Reasoning contentblock.Block
	Err       error
}

// Adapter is the uniform capability every provider implementation
// presents, per spec §4.2.
type Adapter interface {
	// Generate performs a unary call, materializing the adapter's stream
	// into the terminal assistant turn's blocks (reasoning, text, then each
	// tool_call — whichever are non-empty, in that order).
	Generate(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) ([]contentblock.Block, error)

	// Stream performs a streaming call. The returned channel is closed
	// after EventComplete or EventError is sent; it is finite and not
	// restartable.
	Stream(ctx context.Context, messages []contentblock.Message, toolInfos []tools.Info, effort ReasoningEffort) <-chan Event

	// Runtime names the wire-protocol family this adapter implements, one
	// of the Runtime* constants below.
	Runtime() Runtime
}

// Runtime names a wire-protocol family, per the spec GLOSSARY.
type Runtime string

const (
	RuntimeOpenAIResponse   Runtime = "openai_response"
	RuntimeOpenAICompletion Runtime = "openai_completion"
	RuntimeAnthropic        Runtime = "anthropic"
	RuntimeGemini           Runtime = "gemini"
	RuntimeXAI              Runtime = "xai"
)

// ErrKind classifies adapter failures per spec §4.2/§7.
type ErrKind string

const (
	ErrProviderUnavailable ErrKind = "ProviderUnavailable" // transport error
	ErrProviderRejected    ErrKind = "ProviderRejected"    // auth/quota/body rejection
	ErrMalformedResponse   ErrKind = "MalformedResponse"   // provider violated its own schema
)

// Error is the adapter error type; callers type-assert or use errors.As to
// recover Kind and apply the §7 error-taxonomy policy.
type Error struct {
	Kind    ErrKind
	Runtime Runtime
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider(%s): %s: %v", e.Runtime, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func unavailable(runtime Runtime, err error) error {
	return &Error{Kind: ErrProviderUnavailable, Runtime: runtime, Err: err}
}

func rejected(runtime Runtime, err error) error {
	return &Error{Kind: ErrProviderRejected, Runtime: runtime, Err: err}
}

func malformed(runtime Runtime, err error) error {
	return &Error{Kind: ErrMalformedResponse, Runtime: runtime, Err: err}
}

// accumulateGenerate drains a Stream into the ordered block list Generate
// promises: reasoning, text, then every tool_call in stream order,
// whichever are non-empty — the same append order the graph engine's
// call_model node uses when appending to AgentState (spec §4.5), kept
// identical here so Generate and Stream never disagree about ordering.
func accumulateGenerate(ctx context.Context, stream <-chan Event) ([]contentblock.Block, error) {
	var reasoning, text string
	var reasoningExtras map[string]string
	var toolCalls []contentblock.Block

	for ev := range stream {
		switch ev.Kind {
		case EventReasoningDelta:
			reasoning += ev.Delta
		case EventContentDelta:
			text += ev.Delta
		case EventToolCall:
			toolCalls = append(toolCalls, ev.Block)
		case EventError:
			return nil, ev.Err
		case EventComplete:
			if ev.Reasoning.Kind == contentblock.KindReasoning {
				reasoningExtras = ev.Reasoning.Extras
			}
		}
	}

	var out []contentblock.Block
	if reasoning != "" {
		out = append(out, contentblock.Reasoning(reasoning, reasoningExtras))
	}
	if text != "" {
		out = append(out, contentblock.Text(text))
	}
	out = append(out, toolCalls...)
	return out, nil
}
