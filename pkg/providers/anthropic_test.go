package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	status int
	body   string
	seen   []byte
	header http.Header
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.seen, _ = io.ReadAll(req.Body)
	_ = req.Body.Close()
	f.header = req.Header.Clone()
	resp := &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(f.body))),
		Header:     make(http.Header),
		Request:    req,
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

func TestAnthropicProvider_Chat(t *testing.T) {
	rt := &fakeTransport{status: 200, body: `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
		"content":[{"type":"text","text":"salom!"}],
		"stop_reason":"end_turn",
		"usage":{"input_tokens":11,"output_tokens":2}
	}`}
	p := newAnthropicProvider(
		option.WithHTTPClient(&http.Client{Transport: rt}),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)

	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "You are Doniyor."},
		{Role: "assistant", Content: "orphaned by trimming"},
		{Role: "user", Content: "hi"},
		{Role: "user", Content: "are you there?"},
	}, "", map[string]interface{}{"temperature": 1.3, "max_tokens": 200})
	require.NoError(t, err)
	assert.Equal(t, "salom!", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
	assert.Equal(t, "test-key", rt.header.Get("X-Api-Key"))

	var sent struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		System      []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rt.seen, &sent))
	assert.Equal(t, defaultAnthropicModel, sent.Model)
	assert.Equal(t, 200, sent.MaxTokens)
	assert.Equal(t, 1.0, sent.Temperature)
	require.Len(t, sent.System, 1)
	assert.Equal(t, "You are Doniyor.", sent.System[0].Text)
	require.Len(t, sent.Messages, 1, "leading assistant dropped and consecutive user turns folded")
	assert.Equal(t, "user", sent.Messages[0].Role)
	assert.Equal(t, "hi\n\nare you there?", sent.Messages[0].Content[0].Text)
}

func TestAnthropicProvider_ErrorStatus(t *testing.T) {
	rt := &fakeTransport{status: 401, body: `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`}
	p := newAnthropicProvider(
		option.WithHTTPClient(&http.Client{Transport: rt}),
		option.WithAPIKey("bad"),
		option.WithMaxRetries(0),
	)
	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.anthropic.api_key")
}

func TestAnthropicProvider_NoUserMessage(t *testing.T) {
	p := newAnthropicProvider(option.WithAPIKey("k"))
	_, err := p.Chat(context.Background(), []Message{{Role: "system", Content: "only system"}}, "", nil)
	assert.Error(t, err)
}
