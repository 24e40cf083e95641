package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

func TestCreateProvider_OpenAI_DefaultSelection(t *testing.T) {
	var seenAuth, seenPath string
	var seenBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&seenBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":1,"total_tokens":8}}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ""
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenAI.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Chat(context.Background(), []Message{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "hi"},
	}, "", map[string]interface{}{"temperature": 0.8, "max_tokens": 256})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected response content ok, got %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 8 {
		t.Fatalf("expected usage to be parsed, got %+v", resp.Usage)
	}
	if seenAuth != "Bearer sk-openai" {
		t.Fatalf("expected bearer auth, got %q", seenAuth)
	}
	if seenPath != "/chat/completions" {
		t.Fatalf("expected /chat/completions path, got %q", seenPath)
	}
	if got := seenBody["model"]; got != defaultOpenAIModel {
		t.Fatalf("expected default model %q, got %v", defaultOpenAIModel, got)
	}
	if got := seenBody["temperature"]; got != 0.8 {
		t.Fatalf("expected temperature 0.8, got %v", got)
	}
	msgs, _ := seenBody["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", seenBody["messages"])
	}
}

func TestCreateProvider_OpenAI_ProjectHeaders(t *testing.T) {
	var seenOrg, seenProject string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOrg = r.Header.Get("OpenAI-Organization")
		seenProject = r.Header.Get("OpenAI-Project")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":[{"type":"text","text":"multi"},{"type":"text","text":"part"}]},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.Organization = "org_123"
	cfg.Providers.OpenAI.Project = "proj_456"

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "gpt-4o", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "multipart" {
		t.Fatalf("expected flattened content, got %q", resp.Content)
	}
	if seenOrg != "org_123" || seenProject != "proj_456" {
		t.Fatalf("expected org/project headers, got %q/%q", seenOrg, seenProject)
	}
}

func TestCreateProvider_OpenRouter(t *testing.T) {
	var seenAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = ProviderOpenRouter
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if provider.GetDefaultModel() != defaultOpenRouterModel {
		t.Fatalf("unexpected default model %q", provider.GetDefaultModel())
	}
	if _, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if seenAuth != "Bearer or-key" {
		t.Fatalf("expected openrouter auth bearer, got %q", seenAuth)
	}
}

func TestChat_ErrorStatusCarriesAPIMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenAI.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status=429") || !strings.Contains(err.Error(), "Rate limit reached") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChat_EmptyCompletionIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenAI.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if _, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil); err == nil {
		t.Fatal("expected empty completion error")
	}
}

func TestOpenAICredential_RejectsMultipleCredentialSources(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token.txt")
	if err := os.WriteFile(tokenFile, []byte("from-file"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "api-key"
	cfg.Providers.OpenAI.OAuthTokenFile = tokenFile

	cred, err := openAICredential(cfg)
	if err == nil {
		t.Fatalf("expected multi-credential configuration error")
	}
	if cred.mode != "" || cred.value != "" {
		t.Fatalf("expected empty credential on error, got %+v", cred)
	}
	if want := "multiple OpenAI credential sources configured"; !strings.Contains(err.Error(), want) {
		t.Fatalf("expected error containing %q, got %v", want, err)
	}
	if !strings.Contains(err.Error(), "providers.openai.api_key, providers.openai.oauth_token_file") {
		t.Fatalf("expected sorted origins in error, got %v", err)
	}
}

func TestCredentialSet_MissingAndTokenFile(t *testing.T) {
	set := newCredentialSet("Example", "set example.key")
	set.add(modeAPIKey, "   ", "example.key")
	if _, err := set.pick(); err == nil || !strings.Contains(err.Error(), "Example credentials are required (set example.key)") {
		t.Fatalf("expected missing credential error, got %v", err)
	}

	missing := credential{mode: modeOAuthTokenFile, value: filepath.Join(t.TempDir(), "absent.txt")}
	if err := missing.checkTokenFile("Example"); err == nil {
		t.Fatalf("expected error for missing token file")
	}
	if err := (credential{mode: modeAPIKey, value: "k"}).checkTokenFile("Example"); err != nil {
		t.Fatalf("api key credential should not touch the filesystem: %v", err)
	}
}

func TestCreateProvider_OpenAI_UsesOAuthTokenFile(t *testing.T) {
	var seenAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	tokenFile := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(tokenFile, []byte(`{"tokens":{"access_token":"oauth-token-from-file"}}`), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.OAuthTokenFile = tokenFile

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if _, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, "", nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if seenAuth != "Bearer oauth-token-from-file" {
		t.Fatalf("expected oauth bearer from file, got %q", seenAuth)
	}
}

func TestCreateProvider_UnsupportedProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Provider = "does-not-exist"

	if _, err := CreateProvider(cfg); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestValidateProviderConfig_MissingCredentials(t *testing.T) {
	for _, name := range []string{ProviderOpenAI, ProviderOpenRouter, ProviderAnthropic} {
		cfg := config.DefaultConfig()
		cfg.Agent.Provider = name
		if err := ValidateProviderConfig(cfg); err == nil {
			t.Fatalf("expected missing credentials error for %s", name)
		}
		_, configured, _, err := ProviderCredentialStatus(cfg)
		if err != nil || configured {
			t.Fatalf("%s: expected unconfigured status, got configured=%v err=%v", name, configured, err)
		}
	}
}

func TestSupportedProviders(t *testing.T) {
	got := strings.Join(SupportedProviders(), ",")
	if got != "anthropic,openai,openrouter" {
		t.Fatalf("unexpected providers %q", got)
	}
}

func TestRegistry_InvalidRegistrationPoisonsLookups(t *testing.T) {
	r := newRegistry()
	r.register("Echo", Factory{Build: func(*config.Config) (LLMProvider, error) { return nil, nil }})
	if got := strings.Join(r.names(), ","); got != "echo" {
		t.Fatalf("expected normalized name, got %q", got)
	}
	if _, err := r.lookup("echo"); err != nil {
		t.Fatalf("lookup echo: %v", err)
	}
	if _, err := r.lookup("missing"); err == nil || !strings.Contains(err.Error(), "supported providers are echo") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}

	r.register("", Factory{})
	if _, err := r.lookup("echo"); err == nil || !strings.Contains(err.Error(), "registered without a build func") {
		t.Fatalf("expected registration error, got %v", err)
	}
}

func TestProviderCredentialStatus(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.OAuthAccessToken = "tok"
	name, configured, mode, err := ProviderCredentialStatus(cfg)
	if err != nil || name != ProviderOpenAI || !configured || mode != modeOAuthAccessToken {
		t.Fatalf("unexpected status name=%q configured=%v mode=%q err=%v", name, configured, mode, err)
	}

	cfg.Agent.Provider = "nope"
	if _, _, _, err := ProviderCredentialStatus(cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
