package providers

import "strings"

func augmentProviderError(providerName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	switch NormalizeProviderName(providerName) {
	case ProviderOpenAI:
		if strings.Contains(lower, "incorrect api key provided") {
			return msg + " Hint: provider openai expects a Platform API key (providers.openai.api_key or OPENAI_API_KEY)."
		}
		if strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "exceeded your current quota") {
			return msg + " Hint: the OpenAI project has no remaining credit; transcription and replies will fail until billing is fixed."
		}
	case ProviderOpenRouter:
		if strings.Contains(lower, "no endpoints found") {
			return msg + " Hint: OpenRouter model ids are vendor-prefixed, e.g. openai/gpt-4o-mini."
		}
	case ProviderAnthropic:
		if strings.Contains(lower, "invalid x-api-key") {
			return msg + " Hint: set providers.anthropic.api_key to a Console API key."
		}
	}
	return msg
}
