package provider

// xaiBaseURL is xAI's OpenAI-compatible endpoint.
const xaiBaseURL = "https://api.x.ai/v1"

// FamilyXAI reuses the Chat Completions wire format. Reasoning effort is
// mapped exactly as for OpenAI (minimal/low -> low, medium -> medium,
// high -> high); nothing narrows it for this family.
const FamilyXAI CompletionsFamily = "xai"

// NewXAI builds an adapter for Grok models. xAI publishes an
// OpenAI-Chat-Completions-compatible surface, the same pattern the teacher
// uses to reach Groq by pointing an openai.Client at a different base URL.
func NewXAI(apiKey, model string) *OpenAICompletions {
	return NewOpenAICompletions(apiKey, FamilyXAI, model, xaiBaseURL)
}
