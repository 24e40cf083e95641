// Package speech synthesizes reply audio through the ElevenLabs text-to-speech API.
package speech

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

	"github.com/dotsetgreg/personarelay/pkg/config"
	"github.com/dotsetgreg/personarelay/pkg/providers"
)

const (
	DefaultAPIBase         = "https://api.elevenlabs.io"
	DefaultModelID         = "eleven_multilingual_v2"
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75

	defaultTimeout = 60 * time.Second
	maxErrorBody   = 4096
)

// Synthesizer converts reply text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

type Audio struct {
	Data        []byte
	ContentType string
}

// APIError is returned for any non-200 synthesis response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs: status=%d body=%s", e.StatusCode, e.Body)
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

type Options struct {
	APIBase  string
	VoiceID  string
	ModelID  string
	Settings VoiceSettings
	Auth     providers.AuthStrategy
	Client   *http.Client
}

type ElevenLabs struct {
	endpoint string
	modelID  string
	settings VoiceSettings
	auth     providers.AuthStrategy
	client   *http.Client
}

func New(opts Options) (*ElevenLabs, error) {
	voice := strings.TrimSpace(opts.VoiceID)
	if voice == "" {
		return nil, fmt.Errorf("elevenlabs: voice id is required")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("elevenlabs: auth is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if base == "" {
		base = DefaultAPIBase
	}
	model := strings.TrimSpace(opts.ModelID)
	if model == "" {
		model = DefaultModelID
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &ElevenLabs{
		endpoint: base + "/v1/text-to-speech/" + url.PathEscape(voice),
		modelID:  model,
		settings: opts.Settings,
		auth:     opts.Auth,
		client:   client,
	}, nil
}

// NewFromConfig returns nil, nil when speech is not configured; callers then
// answer voice messages with text.
func NewFromConfig(cfg *config.Config) (*ElevenLabs, error) {
	sc := cfg.Speech
	if strings.TrimSpace(sc.APIKey) == "" && strings.TrimSpace(sc.VoiceID) == "" {
		return nil, nil
	}
	if strings.TrimSpace(sc.APIKey) == "" {
		return nil, fmt.Errorf("speech.api_key (or ELEVENLABS_API_KEY) is required when speech.voice_id is set")
	}
	return New(Options{
		APIBase: sc.APIBase,
		VoiceID: sc.VoiceID,
		ModelID: sc.ModelID,
		Settings: VoiceSettings{
			Stability:       sc.Stability,
			SimilarityBoost: sc.SimilarityBoost,
		},
		Auth: providers.NewHeaderAuth("xi-api-key", providers.NewStaticTokenSource(sc.APIKey, "speech.api_key")),
	})
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("elevenlabs: text is empty")
	}

	payload, err := json.Marshal(synthesisRequest{Text: text, ModelID: e.modelID, VoiceSettings: e.settings})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	if err := e.auth.Apply(ctx, req); err != nil {
		return nil, fmt.Errorf("elevenlabs: apply auth: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio response")
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return &Audio{Data: data, ContentType: ct}, nil
}
