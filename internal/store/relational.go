package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"convoengine/internal/prompt"
)

// expireAfter is the retention window applied to every row this store
// writes, matching original_source/server/services/peng_agent.py's
// save_chat/save_tool_call expire_at of seven days — a TTL a background
// reaper (outside this repository's scope) is expected to honor.
const expireAfter = 7 * 24 * time.Hour

// Chat is the top-level persisted turn record, spec §3's ChatRecord.
type Chat struct {
	ChatID      string `gorm:"primaryKey;column:chat_id"`
	User        string `gorm:"column:user"`
	Model       string `gorm:"column:model"`
	HumanInput  string `gorm:"column:human_input"`
	CreatedAt   time.Time
	ExpireAt    time.Time
}

func (Chat) TableName() string { return "chat" }

// UserInput is the child row keyed by chat_id holding the raw user turn
// text, truncated to InputMaxLength at write time.
type UserInput struct {
	ChatID string `gorm:"primaryKey;column:chat_id"`
	Text   string `gorm:"column:text"`
}

func (UserInput) TableName() string { return "user_input" }

// AIResponse holds a flushed run of output_text content, one row per
// contiguous text segment per spec §4.6's segmentation rule.
type AIResponse struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	ChatID string `gorm:"column:chat_id;index"`
	Text   string `gorm:"column:text"`
}

func (AIResponse) TableName() string { return "ai_response" }

// AIReasoning holds a flushed run of reasoning_summary content.
type AIReasoning struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	ChatID string `gorm:"column:chat_id;index"`
	Text   string `gorm:"column:text"`
}

func (AIReasoning) TableName() string { return "ai_reasoning" }

// ToolCall is a persisted tool invocation request, spec §3's
// ToolCall(call_id, tool_name, args, problem).
type ToolCall struct {
	CallID   string `gorm:"primaryKey;column:call_id"`
	ChatID   string `gorm:"column:chat_id;index"`
	ToolName string `gorm:"column:tool_name"`
	Args     string `gorm:"column:args"` // JSON-encoded
	Problem  string `gorm:"column:problem"`
}

func (ToolCall) TableName() string { return "tool_call" }

// ToolOutput is a persisted tool result, keyed to its ToolCall by CallID
// per the invariant "every persisted ToolOutput.call_id has a matching
// ToolCall.call_id in the same chat_id" (spec §3).
type ToolOutput struct {
	CallID  string `gorm:"primaryKey;column:call_id"`
	ChatID  string `gorm:"column:chat_id;index"`
	Content string `gorm:"column:content"`
}

func (ToolOutput) TableName() string { return "tool_output" }

// Relational is the GORM/MySQL-backed repository satisfying
// transcript.Store (persisted row writes) and prompt.TurnStore (short-term
// memory replay reads). One row insert per call, no long-lived transaction
// spanning a suspension point, per SPEC_FULL.md §6's concrete binding.
type Relational struct {
	db              *gorm.DB
	inputMaxLength  int
	outputMaxLength int
}

// Config configures truncation caps for input/output bodies, sourced from
// the process Config.
type Config struct {
	InputMaxLength  int
	OutputMaxLength int
}

// Open connects to MySQL at dsn and auto-migrates the schema above.
func Open(dsn string, cfg Config) (*Relational, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	if err := db.AutoMigrate(&Chat{}, &UserInput{}, &AIResponse{}, &AIReasoning{}, &ToolCall{}, &ToolOutput{}); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	if cfg.InputMaxLength <= 0 {
		cfg.InputMaxLength = 10240
	}
	if cfg.OutputMaxLength <= 0 {
		cfg.OutputMaxLength = 10240
	}
	return &Relational{db: db, inputMaxLength: cfg.InputMaxLength, outputMaxLength: cfg.OutputMaxLength}, nil
}

// DB exposes the underlying *gorm.DB so the operator/model/tool Registry
// can share this same connection pool rather than opening a second one.
func (r *Relational) DB() *gorm.DB { return r.db }

// SaveChat inserts the top-level chat row, truncating human_input to the
// configured input cap.
func (r *Relational) SaveChat(ctx context.Context, chatID, user, model, humanInput string) error {
	now := time.Now()
	chat := Chat{
		ChatID:     chatID,
		User:       user,
		Model:      model,
		HumanInput: truncateTo(humanInput, r.inputMaxLength),
		CreatedAt:  now,
		ExpireAt:   now.Add(expireAfter),
	}
	if err := r.db.WithContext(ctx).Create(&chat).Error; err != nil {
		return fmt.Errorf("store: save chat: %w", err)
	}
	return r.db.WithContext(ctx).Create(&UserInput{ChatID: chatID, Text: chat.HumanInput}).Error
}

// SaveAIResponse implements transcript.Store.
func (r *Relational) SaveAIResponse(ctx context.Context, chatID, text string) error {
	return r.db.WithContext(ctx).Create(&AIResponse{ChatID: chatID, Text: truncateTo(text, r.outputMaxLength)}).Error
}

// SaveAIReasoning implements transcript.Store.
func (r *Relational) SaveAIReasoning(ctx context.Context, chatID, text string) error {
	return r.db.WithContext(ctx).Create(&AIReasoning{ChatID: chatID, Text: truncateTo(text, r.outputMaxLength)}).Error
}

// SaveToolCall implements transcript.Store. args is stored JSON-encoded.
func (r *Relational) SaveToolCall(ctx context.Context, chatID, callID, name string, args map[string]any) error {
	return r.db.WithContext(ctx).Create(&ToolCall{
		CallID:   callID,
		ChatID:   chatID,
		ToolName: name,
		Args:     encodeArgs(args),
	}).Error
}

// SaveToolOutput implements transcript.Store.
func (r *Relational) SaveToolOutput(ctx context.Context, chatID, callID, content string) error {
	return r.db.WithContext(ctx).Create(&ToolOutput{
		CallID:  callID,
		ChatID:  chatID,
		Content: truncateTo(content, r.outputMaxLength),
	}).Error
}

// GetTurn implements prompt.TurnStore, reconstructing one past turn's user
// input, reasoning, and response text. Image attachments are not persisted
// by this store, so the returned ImageURIs is always empty and a replayed
// turn carries no images. A chat_id with no matching row returns prompt.ErrTurnNotFound
// rather than a wrapped gorm error, so callers can distinguish "expired or
// never existed" from a genuine infrastructure failure.
func (r *Relational) GetTurn(ctx context.Context, chatID string) (prompt.TurnRecord, error) {
	var chat Chat
	if err := r.db.WithContext(ctx).First(&chat, "chat_id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return prompt.TurnRecord{}, prompt.ErrTurnNotFound
		}
		return prompt.TurnRecord{}, fmt.Errorf("store: get chat %q: %w", chatID, err)
	}

	var reasoningRows []AIReasoning
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id").Find(&reasoningRows).Error; err != nil {
		return prompt.TurnRecord{}, fmt.Errorf("store: get reasoning %q: %w", chatID, err)
	}
	var responseRows []AIResponse
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id").Find(&responseRows).Error; err != nil {
		return prompt.TurnRecord{}, fmt.Errorf("store: get response %q: %w", chatID, err)
	}

	var reasoning, response string
	for _, row := range reasoningRows {
		reasoning += row.Text
	}
	for _, row := range responseRows {
		response += row.Text
	}

	return prompt.TurnRecord{
		ChatID:      chatID,
		UserInput:   chat.HumanInput,
		AIReasoning: reasoning,
		AIResponse:  response,
	}, nil
}

func truncateTo(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
