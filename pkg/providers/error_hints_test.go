package providers

import (
	"strings"
	"testing"
)

func TestAugmentProviderError_OpenAIIncorrectAPIKeyHint(t *testing.T) {
	msg := augmentProviderError(ProviderOpenAI, "Incorrect API key provided")
	if !strings.Contains(msg, "Platform API key") {
		t.Fatalf("expected platform key hint, got %q", msg)
	}
}

func TestAugmentProviderError_OpenAIQuotaHint(t *testing.T) {
	msg := augmentProviderError(ProviderOpenAI, "You exceeded your current quota, please check your plan")
	if !strings.Contains(msg, "billing") {
		t.Fatalf("expected billing hint, got %q", msg)
	}
}

func TestAugmentProviderError_OpenRouterModelHint(t *testing.T) {
	msg := augmentProviderError(ProviderOpenRouter, "No endpoints found for gpt-4o-mini.")
	if !strings.Contains(msg, "openai/gpt-4o-mini") {
		t.Fatalf("expected vendor prefix hint, got %q", msg)
	}
}

func TestAugmentProviderError_AnthropicKeyHint(t *testing.T) {
	msg := augmentProviderError(ProviderAnthropic, "invalid x-api-key")
	if !strings.Contains(msg, "providers.anthropic.api_key") {
		t.Fatalf("expected anthropic key hint, got %q", msg)
	}
}

func TestAugmentProviderError_PassThrough(t *testing.T) {
	if got := augmentProviderError(ProviderOpenAI, "  rate limited  "); got != "rate limited" {
		t.Fatalf("expected trimmed passthrough, got %q", got)
	}
}
