package providers

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

const (
	defaultOpenAIAPIBase = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

func init() {
	Register(ProviderOpenAI, Factory{
		Build:    newOpenAIProviderFromConfig,
		Validate: validateOpenAIConfig,
		Status:   openAICredentialStatus,
	})
}

func validateOpenAIConfig(cfg *config.Config) error {
	cred, err := openAICredential(cfg)
	if err != nil {
		return err
	}
	return cred.checkTokenFile("OpenAI")
}

func openAICredentialStatus(cfg *config.Config) (bool, string) {
	cred, err := openAICredential(cfg)
	if err != nil {
		return false, ""
	}
	return true, cred.mode
}

func newOpenAIProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateOpenAIConfig(cfg); err != nil {
		return nil, err
	}
	auth, err := resolveOpenAIAuthStrategy(cfg)
	if err != nil {
		return nil, err
	}
	return newChatCompletionsProvider(
		ProviderOpenAI,
		openAIAPIBase(cfg),
		defaultOpenAIModel,
		strings.TrimSpace(cfg.Providers.OpenAI.Proxy),
		auth,
		openAIHeaders(cfg),
	)
}

func openAIAPIBase(cfg *config.Config) string {
	if base := strings.TrimSpace(cfg.Providers.OpenAI.APIBase); base != "" {
		return base
	}
	return defaultOpenAIAPIBase
}

func openAIHeaders(cfg *config.Config) map[string]string {
	return map[string]string{
		"OpenAI-Organization": cfg.Providers.OpenAI.Organization,
		"OpenAI-Project":      cfg.Providers.OpenAI.Project,
	}
}

func resolveOpenAIAuthStrategy(cfg *config.Config) (AuthStrategy, error) {
	cred, err := openAICredential(cfg)
	if err != nil {
		return nil, err
	}
	switch cred.mode {
	case modeAPIKey:
		return NewAPIKeyAuth(NewStaticTokenSource(cred.value, cred.origin)), nil
	case modeOAuthAccessToken:
		return NewBearerTokenAuth(NewStaticTokenSource(cred.value, cred.origin)), nil
	default:
		return NewBearerTokenAuth(NewFileTokenSource(cred.value)), nil
	}
}

func openAICredential(cfg *config.Config) (credential, error) {
	if cfg == nil {
		return credential{}, fmt.Errorf("config is required")
	}
	oa := cfg.Providers.OpenAI
	set := newCredentialSet("OpenAI", "set providers.openai.api_key or OPENAI_API_KEY")
	set.add(modeAPIKey, oa.APIKey, "providers.openai.api_key")
	set.add(modeOAuthAccessToken, oa.OAuthAccessToken, "providers.openai.oauth_access_token")
	set.add(modeOAuthTokenFile, oa.OAuthTokenFile, "providers.openai.oauth_token_file")
	return set.pick()
}
