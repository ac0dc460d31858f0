package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// registryTTL is how long a resolved operator/model/tool record is cached
// in Redis before a refill is attempted, per SPEC_FULL.md §6's
// "read-through cached in Redis ... with a singleflight-guarded refill on
// miss" binding — grounded on the Redis usage in goadesign-goa-ai and
// taipm-go-deep-agent, neither of which the teacher itself reaches for.
const registryTTL = 5 * time.Minute

// OperatorRecord is the persisted row naming a runtime family, endpoint,
// and credential set an agent definition can select, per spec §6.
type OperatorRecord struct {
	ID      string `gorm:"primaryKey;column:id"`
	Runtime string `gorm:"column:runtime"`
	Family  string `gorm:"column:family"`
	APIKey  string `gorm:"column:api_key"`
	BaseURL string `gorm:"column:base_url"`
	Model   string `gorm:"column:model"`
}

func (OperatorRecord) TableName() string { return "operator" }

// ModelRecord names a model, its operator, and its multimodality flag,
// consulted by the prompt assembler when deciding whether to inline image
// attachments (spec §4.4 steps 3/4's "subject to model multimodality").
type ModelRecord struct {
	Name       string `gorm:"primaryKey;column:name"`
	OperatorID string `gorm:"column:operator_id"`
	Multimodal bool   `gorm:"column:multimodal"`
}

func (ModelRecord) TableName() string { return "model" }

// ToolRecord is the DB-backed remote tool endpoint record spec §4.3(b)
// describes: a `get(tool_name) -> {type, url, headers}` contract, here
// resolving to an MCP server descriptor.
type ToolRecord struct {
	Name    string `gorm:"primaryKey;column:name"`
	Type    string `gorm:"column:type"` // "stdio" | "sse"
	Command string `gorm:"column:command"`
	Args    string `gorm:"column:args"` // JSON-encoded []string
	URL     string `gorm:"column:url"`
	Headers string `gorm:"column:headers"` // JSON-encoded map[string]string
}

func (ToolRecord) TableName() string { return "tool" }

// Registry is the read-through Redis cache in front of the MySQL
// operator/model/tool tables. Concurrent misses for the same key collapse
// onto a single database query via singleflight, so a cold cache under
// concurrent load issues one query per key, not one per caller.
type Registry struct {
	db    *gorm.DB
	cache *redis.Client
	group singleflight.Group
}

// NewRegistry builds a Registry over db and cache.
func NewRegistry(db *gorm.DB, cache *redis.Client) *Registry {
	return &Registry{db: db, cache: cache}
}

// Operator resolves an operator by id, serving from cache when warm.
func (r *Registry) Operator(ctx context.Context, id string) (OperatorRecord, error) {
	return readThrough(r, ctx, "operator:"+id, func() (OperatorRecord, error) {
		var row OperatorRecord
		err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
		return row, err
	})
}

// Model resolves a model's metadata by name.
func (r *Registry) Model(ctx context.Context, name string) (ModelRecord, error) {
	return readThrough(r, ctx, "model:"+name, func() (ModelRecord, error) {
		var row ModelRecord
		err := r.db.WithContext(ctx).First(&row, "name = ?", name).Error
		return row, err
	})
}

// Tool resolves a DB-backed remote tool endpoint by name.
func (r *Registry) Tool(ctx context.Context, name string) (ToolRecord, error) {
	return readThrough(r, ctx, "tool:"+name, func() (ToolRecord, error) {
		var row ToolRecord
		err := r.db.WithContext(ctx).First(&row, "name = ?", name).Error
		return row, err
	})
}

// readThrough serves key from r.cache, falling back to load on a miss or a
// cache-read failure. Redis being unavailable degrades to calling load
// directly on every call rather than making the registry itself unusable.
func readThrough[T any](r *Registry, ctx context.Context, key string, load func() (T, error)) (T, error) {
	var zero T

	if raw, err := r.cache.Get(ctx, key).Bytes(); err == nil {
		var cached T
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
	}

	val, err, _ := r.group.Do(key, func() (any, error) {
		return load()
	})
	if err != nil {
		return zero, fmt.Errorf("store: load %q: %w", key, err)
	}
	result := val.(T)

	if raw, marshalErr := json.Marshal(result); marshalErr == nil {
		_ = r.cache.Set(ctx, key, raw, registryTTL).Err()
	}

	return result, nil
}
