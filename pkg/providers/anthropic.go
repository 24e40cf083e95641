package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

func init() {
	Register(ProviderAnthropic, Factory{
		Build:    newAnthropicProviderFromConfig,
		Validate: validateAnthropicConfig,
		Status:   anthropicCredentialStatus,
	})
}

func validateAnthropicConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.Anthropic.APIKey) == "" {
		return fmt.Errorf("Anthropic API key is required (set providers.anthropic.api_key or PERSONARELAY_PROVIDERS_ANTHROPIC_API_KEY)")
	}
	return nil
}

func anthropicCredentialStatus(cfg *config.Config) (bool, string) {
	if validateAnthropicConfig(cfg) != nil {
		return false, ""
	}
	return true, authModeAPIKey
}

type anthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

func newAnthropicProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateAnthropicConfig(cfg); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.Providers.Anthropic.APIKey)),
		option.WithHTTPClient(&http.Client{Timeout: defaultHTTPTimeout}),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.Providers.Anthropic.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return newAnthropicProvider(opts...), nil
}

func newAnthropicProvider(opts ...option.RequestOption) *anthropicProvider {
	return &anthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultAnthropicModel,
	}
}

func (p *anthropicProvider) GetDefaultModel() string {
	return p.defaultModel
}

func (p *anthropicProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.defaultModel
	}

	system, conv := toAnthropicMessages(messages)
	if len(conv) == 0 {
		return nil, fmt.Errorf("anthropic: no user message to answer")
	}

	opts := samplingFrom(options)
	maxTokens := defaultAnthropicMaxTokens
	if opts.maxTokens > 0 {
		maxTokens = opts.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  conv,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.temperature != nil {
		// the Messages API caps temperature at 1.0
		params.Temperature = anthropic.Float(min(*opts.temperature, 1))
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API request failed: %s", augmentProviderError(ProviderAnthropic, err.Error()))
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, fmt.Errorf("anthropic returned an empty completion (stop_reason=%s)", msg.StopReason)
	}

	input, output := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &LLMResponse{
		Content:      content,
		FinishReason: string(msg.StopReason),
		Usage:        &UsageInfo{PromptTokens: input, CompletionTokens: output, TotalTokens: input + output},
	}, nil
}

// toAnthropicMessages lifts system messages into the system prompt and folds
// the rest into the strict user/assistant alternation the Messages API wants.
// A trimmed history can start with an assistant turn; such leading turns are dropped.
func toAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system []string
	type folded struct {
		role string
		text []string
	}
	var turns []folded
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case "system":
			system = append(system, text)
			continue
		case "user", "assistant":
		default:
			continue
		}
		if len(turns) == 0 && m.Role == "assistant" {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == m.Role {
			turns[n-1].text = append(turns[n-1].text, text)
			continue
		}
		turns = append(turns, folded{role: m.Role, text: []string{text}})
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return strings.Join(system, "\n\n"), out
}
