// Package prompt implements the Prompt Assembler of spec §4.4: it builds
// the initial ordered contentblock.Message list from inputs that live
// outside the agent core — the user's configured system prompt, long- and
// short-term memory, multimodal attachments, and knowledge-base retrieval —
// in a fixed, contractual order. Grounded on the teacher's
// pkg/core/ml/llm/prompt/prompt.go (GetAgentPrompt / getContextFromPaths),
// generalized from "load files off disk" to "replay persisted turns and
// fetch object-store attachments".
package prompt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"convoengine/internal/contentblock"
)

// ErrTurnNotFound is returned by a TurnStore when the requested chat_id has
// no persisted turn (expired past its retention window, or never existed).
// Assemble treats this as an empty short-term-memory slot rather than a
// failure, per spec §8's "an unresolvable chat_id contributes zero messages,
// no error" requirement; any other error still fails the whole call.
var ErrTurnNotFound = errors.New("prompt: turn not found")

// defaultSystemPrompt is used when the caller has no configured prompt for
// the requesting user, mirroring the teacher's GetAgentPrompt fallback.
const defaultSystemPrompt = "You are a helpful assistant."

const (
	knowledgeBaseTopK       = 5
	knowledgeBaseMinScore   = 0.3
	knowledgeBaseDefaultTag = "default"
)

// TurnRecord is a persisted prior turn, the shape the short-term-memory
// replay step (§4.4 step 3) reads back per chat_id.
type TurnRecord struct {
	ChatID      string
	UserInput   string
	ImageURIs   []string
	AIReasoning string
	AIResponse  string
}

// ObjectStore resolves an object-store URI to raw bytes, used to inline the
// current turn's image attachments (§4.4 step 4) and a replayed turn's
// historical images (step 3).
type ObjectStore interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// TurnStore resolves a chat_id to its persisted turn, backing short-term
// memory replay.
type TurnStore interface {
	GetTurn(ctx context.Context, chatID string) (TurnRecord, error)
}

// KnowledgeBase retrieves the top-k most similar document chunks for query
// from the named collection, backing §4.4 step 5.
type KnowledgeBase interface {
	SimilaritySearch(ctx context.Context, collection, query string, topK int) ([]ScoredChunk, error)
}

// ScoredChunk is one retrieved knowledge-base hit.
type ScoredChunk struct {
	Text  string
	Score float64
}

// Input carries everything the assembler's algorithm is defined over,
// matching spec §4.4's Inputs list field for field.
type Input struct {
	UserName        string
	BaseModel       string
	Multimodal      bool
	SystemPrompt    string // user-configured; empty falls back to defaultSystemPrompt
	LongTermMemory  []string
	ShortTermMemory []string // ordered chat_id values
	Message         string
	Images          []string // object-store URIs for the current turn
	KnowledgeBase   string   // collection name; empty or knowledgeBaseDefaultTag skips retrieval
}

// Assembler builds message lists per §4.4's six-step algorithm. It holds no
// per-call state; a single instance is safe to share across requests.
type Assembler struct {
	turns   TurnStore
	objects ObjectStore
	kb      KnowledgeBase
}

// NewAssembler builds an Assembler over the given collaborators.
func NewAssembler(turns TurnStore, objects ObjectStore, kb KnowledgeBase) *Assembler {
	return &Assembler{turns: turns, objects: objects, kb: kb}
}

// Assemble runs the fixed six-step algorithm. No step mutates in, and empty
// sections are elided without changing the order of the remaining ones.
func (a *Assembler) Assemble(ctx context.Context, in Input) ([]contentblock.Message, error) {
	var messages []contentblock.Message

	// 1. System message: configured prompt, falling back to the default.
	systemPrompt := in.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	messages = append(messages, contentblock.NewSystemText(systemPrompt))

	// 2. System message stating user background, omitted if empty.
	if len(in.LongTermMemory) > 0 {
		background := strings.Join(in.LongTermMemory, "; ")
		messages = append(messages, contentblock.NewSystemText(fmt.Sprintf("User background: %s", background)))
	}

	// 3. Short-term memory replay, one chat_id at a time, in order. A
	// chat_id that no longer resolves to a persisted turn contributes zero
	// messages rather than failing the whole assembly.
	for _, chatID := range in.ShortTermMemory {
		replayed, err := a.replayTurn(ctx, chatID, in.Multimodal)
		if errors.Is(err, ErrTurnNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("prompt: replay turn %q: %w", chatID, err)
		}
		messages = append(messages, replayed...)
	}

	// 4. Current-turn multimodal attachments.
	if in.Multimodal && len(in.Images) > 0 {
		imageMsg, err := a.attachmentMessage(ctx, in.Images)
		if err != nil {
			return nil, fmt.Errorf("prompt: current turn attachments: %w", err)
		}
		messages = append(messages, imageMsg)
	}

	// 5. Knowledge-base retrieval, skipped when no KnowledgeBase is wired.
	if a.kb != nil && in.KnowledgeBase != "" && in.KnowledgeBase != knowledgeBaseDefaultTag {
		injected, err := a.knowledgeBaseMessage(ctx, in.KnowledgeBase, in.Message)
		if err != nil {
			return nil, fmt.Errorf("prompt: knowledge base retrieval: %w", err)
		}
		if injected != nil {
			messages = append(messages, *injected)
		}
	}

	// 6. Current user message.
	messages = append(messages, contentblock.NewUserText(in.Message))

	return messages, nil
}

// replayTurn reconstructs the user/[image]/assistant Message triple for one
// past chat_id per step 3: user text, then an image message if that turn
// had attachments and the model is multimodal, then an assistant message
// whose blocks are reasoning (if any) followed by text.
func (a *Assembler) replayTurn(ctx context.Context, chatID string, multimodal bool) ([]contentblock.Message, error) {
	record, err := a.turns.GetTurn(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var out []contentblock.Message
	out = append(out, contentblock.NewUserText(record.UserInput))

	if multimodal && len(record.ImageURIs) > 0 {
		imageMsg, err := a.attachmentMessage(ctx, record.ImageURIs)
		if err != nil {
			return nil, err
		}
		out = append(out, imageMsg)
	}

	var assistantBlocks []contentblock.Block
	if record.AIReasoning != "" {
		assistantBlocks = append(assistantBlocks, contentblock.Reasoning(record.AIReasoning, nil))
	}
	if record.AIResponse != "" {
		assistantBlocks = append(assistantBlocks, contentblock.Text(record.AIResponse))
	}
	if len(assistantBlocks) > 0 {
		out = append(out, contentblock.Message{Role: contentblock.RoleAssistant, Blocks: assistantBlocks})
	}

	return out, nil
}

// attachmentMessage downloads each URI and mime-types it from its file
// extension, matching the teacher's file-extension-based content typing in
// getContextFromPaths.
func (a *Assembler) attachmentMessage(ctx context.Context, uris []string) (contentblock.Message, error) {
	blocks := make([]contentblock.Block, 0, len(uris))
	for _, uri := range uris {
		data, err := a.objects.Fetch(ctx, uri)
		if err != nil {
			return contentblock.Message{}, fmt.Errorf("fetch attachment %q: %w", uri, err)
		}
		blocks = append(blocks, contentblock.Image(mimeTypeFromExt(uri), data))
	}
	return contentblock.Message{Role: contentblock.RoleUser, Blocks: blocks}, nil
}

func mimeTypeFromExt(uri string) string {
	switch strings.ToLower(filepath.Ext(uri)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// knowledgeBaseMessage retrieves top-k chunks scoring at or above the
// minimum threshold and renders them as a single system message, or nil if
// nothing clears the threshold.
func (a *Assembler) knowledgeBaseMessage(ctx context.Context, collection, query string) (*contentblock.Message, error) {
	chunks, err := a.kb.SimilaritySearch(ctx, collection, query, knowledgeBaseTopK)
	if err != nil {
		return nil, err
	}

	var relevant []string
	for _, c := range chunks {
		if c.Score >= knowledgeBaseMinScore {
			relevant = append(relevant, c.Text)
		}
	}
	if len(relevant) == 0 {
		return nil, nil
	}

	msg := contentblock.NewSystemText("Knowledge Base Context:\n" + strings.Join(relevant, "\n---\n"))
	return &msg, nil
}
