package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

const defaultTranscriptionModel = "whisper-1"

// whisperTranscriber sends audio to an OpenAI-compatible /audio/transcriptions
// endpoint through the openai-go client.
type whisperTranscriber struct {
	client   openai.Client
	model    string
	language string
}

// NewTranscriberFromConfig builds the transcriber. Credentials default to the
// OpenAI provider's when transcription has none of its own.
func NewTranscriberFromConfig(cfg *config.Config) (Transcriber, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	tc := cfg.Transcription

	var auth AuthStrategy
	if key := strings.TrimSpace(tc.APIKey); key != "" {
		auth = NewAPIKeyAuth(NewStaticTokenSource(key, "transcription.api_key"))
	} else {
		var err error
		auth, err = resolveOpenAIAuthStrategy(cfg)
		if err != nil {
			return nil, fmt.Errorf("transcription credentials: %w", err)
		}
	}

	apiBase := strings.TrimSpace(tc.APIBase)
	if apiBase == "" {
		apiBase = openAIAPIBase(cfg)
	}
	client, err := newHTTPClient("transcription", cfg.Providers.OpenAI.Proxy, defaultHTTPTimeout)
	if err != nil {
		return nil, err
	}
	return newWhisperTranscriber(apiBase, tc.Model, tc.Language, auth, openAIHeaders(cfg), client), nil
}

func newWhisperTranscriber(apiBase, model, language string, auth AuthStrategy, headers map[string]string, client *http.Client) *whisperTranscriber {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultTranscriptionModel
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(apiBase), "/") + "/"),
		option.WithHTTPClient(client),
		option.WithMaxRetries(0),
		option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
			if auth == nil {
				return nil, fmt.Errorf("auth strategy is nil")
			}
			if err := auth.Apply(req.Context(), req); err != nil {
				return nil, fmt.Errorf("apply auth: %w", err)
			}
			return next(req)
		}),
	}
	for name, value := range cleanHeaders(headers) {
		opts = append(opts, option.WithHeader(name, value))
	}

	return &whisperTranscriber{
		client:   openai.NewClient(opts...),
		model:    model,
		language: strings.TrimSpace(language),
	}
}

func (w *whisperTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("transcription: audio is empty")
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		filename = "voice.ogg"
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(audio), filename, contentType),
		Model:          openai.AudioModel(w.model),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if w.language != "" {
		params.Language = openai.String(w.language)
	}

	res, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := strings.TrimSpace(apiErr.Message)
			if msg == "" {
				msg = apiErrorMessage([]byte(apiErr.RawJSON()))
			}
			return "", fmt.Errorf("transcription request failed: status=%d error=%s",
				apiErr.StatusCode, augmentProviderError(ProviderOpenAI, msg))
		}
		return "", fmt.Errorf("transcription: %w", err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("transcription: no speech recognized")
	}
	return text, nil
}
