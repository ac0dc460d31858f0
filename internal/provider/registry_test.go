package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"convoengine/internal/provider"
)

func TestRegistryResolve(t *testing.T) {
	t.Run("constructs and caches an adapter per operator id", func(t *testing.T) {
		r := provider.NewRegistry()
		op := provider.Operator{ID: "op-1", Runtime: provider.RuntimeOpenAIResponse, APIKey: "test-key", Model: "gpt-test"}

		first, err := r.Resolve(context.Background(), op)
		assert.NoError(t, err)
		assert.Equal(t, provider.RuntimeOpenAIResponse, first.Runtime())

		second, err := r.Resolve(context.Background(), op)
		assert.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("openai_completion defaults to the OpenAI family when unset", func(t *testing.T) {
		r := provider.NewRegistry()
		adapter, err := r.Resolve(context.Background(), provider.Operator{
			ID: "op-2", Runtime: provider.RuntimeOpenAICompletion, APIKey: "test-key", Model: "gpt-test",
		})
		assert.NoError(t, err)
		assert.Equal(t, provider.RuntimeOpenAICompletion, adapter.Runtime())
	})

	t.Run("distinct operator ids resolve to distinct adapters", func(t *testing.T) {
		r := provider.NewRegistry()
		a, err := r.Resolve(context.Background(), provider.Operator{ID: "a", Runtime: provider.RuntimeAnthropic, APIKey: "k", Model: "m"})
		assert.NoError(t, err)
		b, err := r.Resolve(context.Background(), provider.Operator{ID: "b", Runtime: provider.RuntimeXAI, APIKey: "k", Model: "m"})
		assert.NoError(t, err)
		assert.NotSame(t, a, b)
	})

	t.Run("an unknown runtime returns an error", func(t *testing.T) {
		r := provider.NewRegistry()
		_, err := r.Resolve(context.Background(), provider.Operator{ID: "op-x", Runtime: "not-a-runtime"})
		assert.Error(t, err)
	})
}
