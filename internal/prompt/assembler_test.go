package prompt_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"convoengine/internal/contentblock"
	"convoengine/internal/prompt"
)

type fakeTurnStore struct {
	turns map[string]prompt.TurnRecord
}

func (f fakeTurnStore) GetTurn(ctx context.Context, chatID string) (prompt.TurnRecord, error) {
	record, ok := f.turns[chatID]
	if !ok {
		return prompt.TurnRecord{}, prompt.ErrTurnNotFound
	}
	return record, nil
}

type fakeObjectStore struct {
	data map[string][]byte
}

func (f fakeObjectStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f.data[uri], nil
}

type fakeKnowledgeBase struct {
	chunks []prompt.ScoredChunk
}

func (f fakeKnowledgeBase) SimilaritySearch(ctx context.Context, collection, query string, topK int) ([]prompt.ScoredChunk, error) {
	return f.chunks, nil
}

func TestAssembleOrdering(t *testing.T) {
	t.Run("minimal input produces system prompt then user message", func(t *testing.T) {
		a := prompt.NewAssembler(fakeTurnStore{}, fakeObjectStore{}, nil)
		msgs, err := a.Assemble(context.Background(), prompt.Input{Message: "hello"})
		assert.NoError(t, err)
		assert.Len(t, msgs, 2)
		assert.Equal(t, contentblock.RoleSystem, msgs[0].Role)
		assert.Equal(t, "You are a helpful assistant.", msgs[0].Text())
		assert.Equal(t, contentblock.RoleUser, msgs[1].Role)
		assert.Equal(t, "hello", msgs[1].Text())
	})

	t.Run("long term memory adds a second system message", func(t *testing.T) {
		a := prompt.NewAssembler(fakeTurnStore{}, fakeObjectStore{}, nil)
		msgs, err := a.Assemble(context.Background(), prompt.Input{
			Message:        "hello",
			LongTermMemory: []string{"likes go", "works nights"},
		})
		assert.NoError(t, err)
		assert.Len(t, msgs, 3)
		assert.Contains(t, msgs[1].Text(), "likes go")
		assert.Contains(t, msgs[1].Text(), "works nights")
	})

	t.Run("short term memory replays prior turns before the current message", func(t *testing.T) {
		store := fakeTurnStore{turns: map[string]prompt.TurnRecord{
			"chat-1": {UserInput: "what's the capital of france?", AIResponse: "Paris."},
		}}
		a := prompt.NewAssembler(store, fakeObjectStore{}, nil)
		msgs, err := a.Assemble(context.Background(), prompt.Input{
			Message:         "and italy?",
			ShortTermMemory: []string{"chat-1"},
		})
		assert.NoError(t, err)
		// system, replayed user, replayed assistant, current user
		assert.Len(t, msgs, 4)
		assert.Equal(t, contentblock.RoleUser, msgs[1].Role)
		assert.Equal(t, "what's the capital of france?", msgs[1].Text())
		assert.Equal(t, contentblock.RoleAssistant, msgs[2].Role)
		assert.Equal(t, "Paris.", msgs[2].Text())
		assert.Equal(t, "and italy?", msgs[3].Text())
	})

	t.Run("an unresolvable chat_id contributes zero messages and no error", func(t *testing.T) {
		store := fakeTurnStore{turns: map[string]prompt.TurnRecord{
			"chat-1": {UserInput: "what's the capital of france?", AIResponse: "Paris."},
		}}
		a := prompt.NewAssembler(store, fakeObjectStore{}, nil)
		msgs, err := a.Assemble(context.Background(), prompt.Input{
			Message:         "and italy?",
			ShortTermMemory: []string{"chat-expired", "chat-1"},
		})
		assert.NoError(t, err)
		// system, replayed user, replayed assistant, current user — the
		// missing "chat-expired" slot contributes nothing.
		assert.Len(t, msgs, 4)
		assert.Equal(t, "what's the capital of france?", msgs[1].Text())
	})

	t.Run("current turn attachments are skipped for non-multimodal models", func(t *testing.T) {
		objects := fakeObjectStore{data: map[string][]byte{"s3://bucket/a.png": []byte("png-bytes")}}
		a := prompt.NewAssembler(fakeTurnStore{}, objects, nil)
		msgs, err := a.Assemble(context.Background(), prompt.Input{
			Message:    "describe this",
			Multimodal: false,
			Images:     []string{"s3://bucket/a.png"},
		})
		assert.NoError(t, err)
		assert.Len(t, msgs, 2) // system + user text only, no image message
	})

	t.Run("current turn attachments are inlined for multimodal models", func(t *testing.T) {
		objects := fakeObjectStore{data: map[string][]byte{"s3://bucket/a.png": []byte("png-bytes")}}
		a := prompt.NewAssembler(fakeTurnStore{}, objects, nil)
		msgs, err := a.Assemble(context.Background(), prompt.Input{
			Message:    "describe this",
			Multimodal: true,
			Images:     []string{"s3://bucket/a.png"},
		})
		assert.NoError(t, err)
		assert.Len(t, msgs, 3)
		assert.Equal(t, contentblock.KindImage, msgs[1].Blocks[0].Kind)
		assert.Equal(t, "image/png", msgs[1].Blocks[0].MimeType)
	})

	t.Run("knowledge base chunks below the score threshold are dropped", func(t *testing.T) {
		kb := fakeKnowledgeBase{chunks: []prompt.ScoredChunk{
			{Text: "irrelevant", Score: 0.1},
		}}
		a := prompt.NewAssembler(fakeTurnStore{}, fakeObjectStore{}, kb)
		msgs, err := a.Assemble(context.Background(), prompt.Input{
			Message:       "tell me about go",
			KnowledgeBase: "docs",
		})
		assert.NoError(t, err)
		assert.Len(t, msgs, 2) // no KB message injected
	})

	t.Run("knowledge base chunks at or above the threshold are injected before the user message", func(t *testing.T) {
		kb := fakeKnowledgeBase{chunks: []prompt.ScoredChunk{
			{Text: "goroutines are cheap", Score: 0.9},
			{Text: "irrelevant", Score: 0.1},
		}}
		a := prompt.NewAssembler(fakeTurnStore{}, fakeObjectStore{}, kb)
		msgs, err := a.Assemble(context.Background(), prompt.Input{
			Message:       "tell me about go",
			KnowledgeBase: "docs",
		})
		assert.NoError(t, err)
		assert.Len(t, msgs, 3)
		assert.Contains(t, msgs[1].Text(), "goroutines are cheap")
		assert.NotContains(t, msgs[1].Text(), "irrelevant")
		assert.Equal(t, "tell me about go", msgs[2].Text())
	})

	t.Run("the default knowledge base tag skips retrieval entirely", func(t *testing.T) {
		kb := fakeKnowledgeBase{chunks: []prompt.ScoredChunk{{Text: "should not appear", Score: 0.99}}}
		a := prompt.NewAssembler(fakeTurnStore{}, fakeObjectStore{}, kb)
		msgs, err := a.Assemble(context.Background(), prompt.Input{
			Message:       "hi",
			KnowledgeBase: "default",
		})
		assert.NoError(t, err)
		assert.Len(t, msgs, 2)
	})
}
