package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBodyLen    = 2000
)

// chatCompletionsProvider talks to any OpenAI-compatible /chat/completions endpoint.
type chatCompletionsProvider struct {
	name         string
	endpoint     string
	defaultModel string
	auth         AuthStrategy
	client       *http.Client
	headers      map[string]string
}

func newHTTPClient(providerName, proxy string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &http.Client{Timeout: timeout}
	if proxy = strings.TrimSpace(proxy); proxy == "" {
		return client, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse %s proxy: %w", providerName, err)
	}
	client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	return client, nil
}

// cleanHeaders drops headers whose name or value is blank.
func cleanHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func newChatCompletionsProvider(providerName, apiBase, defaultModel, proxy string, auth AuthStrategy, extraHeaders map[string]string) (*chatCompletionsProvider, error) {
	name := strings.ToLower(strings.TrimSpace(providerName))
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	switch {
	case name == "":
		return nil, fmt.Errorf("provider name is required")
	case base == "":
		return nil, fmt.Errorf("%s API base not configured", name)
	case auth == nil:
		return nil, fmt.Errorf("%s auth is not configured", name)
	}

	client, err := newHTTPClient(name, proxy, defaultHTTPTimeout)
	if err != nil {
		return nil, err
	}
	return &chatCompletionsProvider{
		name:         name,
		endpoint:     base + "/chat/completions",
		defaultModel: strings.TrimSpace(defaultModel),
		auth:         auth,
		client:       client,
		headers:      cleanHeaders(extraHeaders),
	}, nil
}

// sampling holds the generation options the relay passes to providers.
type sampling struct {
	maxTokens   int
	temperature *float64
}

func samplingFrom(opts map[string]interface{}) sampling {
	var s sampling
	switch v := opts["max_tokens"].(type) {
	case int:
		s.maxTokens = v
	case int64:
		s.maxTokens = int(v)
	case float64:
		s.maxTokens = int(v)
	}
	var t float64
	switch v := opts["temperature"].(type) {
	case float64:
		t = v
	case float32:
		t = float64(v)
	case int:
		t = float64(v)
	default:
		return s
	}
	s.temperature = &t
	return s
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *UsageInfo `json:"usage"`
}

func (p *chatCompletionsProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("provider not initialized")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = p.defaultModel
	}
	opts := samplingFrom(options)
	req := chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.temperature,
	}
	if opts.maxTokens > 0 {
		req.MaxTokens = opts.maxTokens
	}

	body, err := p.post(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := parseChatCompletionsResponse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s response: %w", p.name, err)
	}
	if strings.TrimSpace(result.Content) == "" {
		return nil, fmt.Errorf("%s returned an empty completion (finish_reason=%s)", p.name, result.FinishReason)
	}
	return result, nil
}

func (p *chatCompletionsProvider) post(ctx context.Context, payload chatCompletionRequest) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := p.auth.Apply(ctx, req); err != nil {
		return nil, fmt.Errorf("apply %s auth: %w", p.name, err)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", p.name, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s API request failed: status=%d error=%s",
			p.name, resp.StatusCode, augmentProviderError(p.name, apiErrorMessage(body)))
	}
	return body, nil
}

func (p *chatCompletionsProvider) GetDefaultModel() string {
	if p == nil {
		return ""
	}
	return p.defaultModel
}

func parseChatCompletionsResponse(body []byte) (*LLMResponse, error) {
	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	out := &LLMResponse{FinishReason: "stop", Usage: parsed.Usage}
	if len(parsed.Choices) == 0 {
		return out, nil
	}
	choice := parsed.Choices[0]
	out.Content = contentText(choice.Message.Content)
	out.FinishReason = choice.FinishReason
	return out, nil
}

// contentText accepts both a plain string and an array of content parts.
func contentText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// apiErrorMessage pulls the human-readable message out of an error body,
// falling back to the (truncated) body itself.
func apiErrorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error   json.RawMessage `json:"error"`
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
		for _, candidate := range []string{payload.Message, contentText(payload.Detail), contentText(payload.Error)} {
			if c := strings.TrimSpace(candidate); c != "" {
				return c
			}
		}
	}

	if len(trimmed) > maxErrorBodyLen {
		return trimmed[:maxErrorBodyLen] + "..."
	}
	return trimmed
}
