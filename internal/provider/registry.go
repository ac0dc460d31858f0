package provider

import (
	"context"
	"fmt"
	"sync"
)

// Operator names a configured endpoint an agent definition can select: a
// runtime family plus the endpoint/credentials/model that family resolves
// to, per spec §6's operator registry contract.
type Operator struct {
	ID      string
	Runtime Runtime
	// Family further distinguishes an openai_completion operator among
	// OpenAI itself, Groq, and OpenRouter; ignored for other runtimes.
	Family  CompletionsFamily
	APIKey  string
	BaseURL string
	Model   string
}

// Registry builds and caches Adapters keyed by operator id. Adapters are
// cheap to hold (they wrap a single HTTP client each) but expensive enough
// to construct — Gemini's client performs a discovery round-trip — that
// callers resolving the same operator repeatedly should share one.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Resolve returns the Adapter for operator, constructing and caching it on
// first use.
func (r *Registry) Resolve(ctx context.Context, op Operator) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[op.ID]; ok {
		return a, nil
	}

	a, err := build(ctx, op)
	if err != nil {
		return nil, err
	}
	a = newTracedAdapter(a)
	r.adapters[op.ID] = a
	return a, nil
}

func build(ctx context.Context, op Operator) (Adapter, error) {
	switch op.Runtime {
	case RuntimeOpenAIResponse:
		return NewOpenAIResponses(op.APIKey, op.BaseURL, op.Model), nil
	case RuntimeOpenAICompletion:
		family := op.Family
		if family == "" {
			family = FamilyOpenAI
		}
		return NewOpenAICompletions(op.APIKey, family, op.Model, op.BaseURL), nil
	case RuntimeAnthropic:
		return NewAnthropic(op.APIKey, op.Model), nil
	case RuntimeGemini:
		return NewGemini(ctx, op.APIKey, op.Model)
	case RuntimeXAI:
		return NewXAI(op.APIKey, op.Model), nil
	default:
		return nil, fmt.Errorf("provider: unknown runtime family %q", op.Runtime)
	}
}
