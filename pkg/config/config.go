package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent         AgentConfig         `json:"agent"`
	Channels      ChannelsConfig      `json:"channels"`
	Providers     ProvidersConfig     `json:"providers"`
	Transcription TranscriptionConfig `json:"transcription"`
	Speech        SpeechConfig        `json:"speech"`
	Memory        MemoryConfig        `json:"memory"`
	Personas      PersonasConfig      `json:"personas"`
	Reply         ReplyConfig         `json:"reply"`
	Gateway       GatewayConfig       `json:"gateway"`
	mu            sync.RWMutex
}

type AgentConfig struct {
	Provider              string  `json:"provider" env:"PERSONARELAY_AGENT_PROVIDER"`
	Model                 string  `json:"model" env:"PERSONARELAY_AGENT_MODEL"`
	MaxTokens             int     `json:"max_tokens" env:"PERSONARELAY_AGENT_MAX_TOKENS"`
	Temperature           float64 `json:"temperature" env:"PERSONARELAY_AGENT_TEMPERATURE"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds" env:"PERSONARELAY_AGENT_REQUEST_TIMEOUT_SECONDS"`
	DedupeWindowSeconds   int     `json:"dedupe_window_seconds" env:"PERSONARELAY_AGENT_DEDUPE_WINDOW_SECONDS"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Token              string              `json:"token" env:"PERSONARELAY_CHANNELS_TELEGRAM_TOKEN"`
	APIBase            string              `json:"api_base" env:"PERSONARELAY_CHANNELS_TELEGRAM_API_BASE"`
	AllowFrom          FlexibleStringSlice `json:"allow_from" env:"PERSONARELAY_CHANNELS_TELEGRAM_ALLOW_FROM"`
	BusinessOnly       bool                `json:"business_only" env:"PERSONARELAY_CHANNELS_TELEGRAM_BUSINESS_ONLY"`
	PollTimeoutSeconds int                 `json:"poll_timeout_seconds" env:"PERSONARELAY_CHANNELS_TELEGRAM_POLL_TIMEOUT_SECONDS"`
	SendsPerMinute     int                 `json:"sends_per_minute" env:"PERSONARELAY_CHANNELS_TELEGRAM_SENDS_PER_MINUTE"`
}

type DiscordConfig struct {
	Token          string              `json:"token" env:"PERSONARELAY_CHANNELS_DISCORD_TOKEN"`
	AllowFrom      FlexibleStringSlice `json:"allow_from" env:"PERSONARELAY_CHANNELS_DISCORD_ALLOW_FROM"`
	SendsPerMinute int                 `json:"sends_per_minute" env:"PERSONARELAY_CHANNELS_DISCORD_SENDS_PER_MINUTE"`
}

type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `json:"openrouter"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Anthropic  AnthropicConfig  `json:"anthropic"`
}

type OpenRouterConfig struct {
	APIKey  string `json:"api_key" env:"PERSONARELAY_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"PERSONARELAY_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"PERSONARELAY_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIConfig struct {
	APIKey           string `json:"api_key" env:"PERSONARELAY_PROVIDERS_OPENAI_API_KEY"`
	OAuthAccessToken string `json:"oauth_access_token,omitempty" env:"PERSONARELAY_PROVIDERS_OPENAI_OAUTH_ACCESS_TOKEN"`
	OAuthTokenFile   string `json:"oauth_token_file,omitempty" env:"PERSONARELAY_PROVIDERS_OPENAI_OAUTH_TOKEN_FILE"`
	APIBase          string `json:"api_base" env:"PERSONARELAY_PROVIDERS_OPENAI_API_BASE"`
	Organization     string `json:"organization,omitempty" env:"PERSONARELAY_PROVIDERS_OPENAI_ORGANIZATION"`
	Project          string `json:"project,omitempty" env:"PERSONARELAY_PROVIDERS_OPENAI_PROJECT"`
	Proxy            string `json:"proxy,omitempty" env:"PERSONARELAY_PROVIDERS_OPENAI_PROXY"`
}

type AnthropicConfig struct {
	APIKey  string `json:"api_key" env:"PERSONARELAY_PROVIDERS_ANTHROPIC_API_KEY"`
	APIBase string `json:"api_base" env:"PERSONARELAY_PROVIDERS_ANTHROPIC_API_BASE"`
}

// TranscriptionConfig points at an OpenAI-compatible /audio/transcriptions endpoint.
// Empty credentials fall back to providers.openai.
type TranscriptionConfig struct {
	Model    string `json:"model" env:"PERSONARELAY_TRANSCRIPTION_MODEL"`
	APIKey   string `json:"api_key,omitempty" env:"PERSONARELAY_TRANSCRIPTION_API_KEY"`
	APIBase  string `json:"api_base,omitempty" env:"PERSONARELAY_TRANSCRIPTION_API_BASE"`
	Language string `json:"language,omitempty" env:"PERSONARELAY_TRANSCRIPTION_LANGUAGE"`
}

type SpeechConfig struct {
	APIKey          string  `json:"api_key" env:"PERSONARELAY_SPEECH_API_KEY"`
	APIBase         string  `json:"api_base" env:"PERSONARELAY_SPEECH_API_BASE"`
	VoiceID         string  `json:"voice_id" env:"PERSONARELAY_SPEECH_VOICE_ID"`
	ModelID         string  `json:"model_id" env:"PERSONARELAY_SPEECH_MODEL_ID"`
	Stability       float64 `json:"stability" env:"PERSONARELAY_SPEECH_STABILITY"`
	SimilarityBoost float64 `json:"similarity_boost" env:"PERSONARELAY_SPEECH_SIMILARITY_BOOST"`
}

type MemoryConfig struct {
	MaxContextMessages int `json:"max_context_messages" env:"PERSONARELAY_MEMORY_MAX_CONTEXT_MESSAGES"`
}

type PersonasConfig struct {
	File         string              `json:"file" env:"PERSONARELAY_PERSONAS_FILE"`
	Base         string              `json:"base"`
	FallbackName string              `json:"fallback_name" env:"PERSONARELAY_PERSONAS_FALLBACK_NAME"`
	Alternates   []*AlternatePersona `json:"alternates"`
}

type AlternatePersona struct {
	UserIDs     FlexibleStringSlice `json:"user_ids"`
	Counterpart string              `json:"counterpart"`
	Template    string              `json:"template"`
}

type ReplyConfig struct {
	DelayEnabled    bool   `json:"delay_enabled" env:"PERSONARELAY_REPLY_DELAY_ENABLED"`
	DelayMinSeconds int    `json:"delay_min_seconds" env:"PERSONARELAY_REPLY_DELAY_MIN_SECONDS"`
	DelayMaxSeconds int    `json:"delay_max_seconds" env:"PERSONARELAY_REPLY_DELAY_MAX_SECONDS"`
	ResetText       string `json:"reset_text" env:"PERSONARELAY_REPLY_RESET_TEXT"`
	TextApology     string `json:"text_apology" env:"PERSONARELAY_REPLY_TEXT_APOLOGY"`
	VoiceApology    string `json:"voice_apology" env:"PERSONARELAY_REPLY_VOICE_APOLOGY"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"PERSONARELAY_GATEWAY_HOST"`
	Port int    `json:"port" env:"PERSONARELAY_GATEWAY_PORT"`
}

const DefaultBasePersona = `You are {{.Name}}'s friend, chatting in a messenger. Reply briefly and casually, in the language of the last message, the way a real person types on a phone. Never say you are an assistant or a model.`

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:              "openai",
			Model:                 "gpt-4o-mini",
			MaxTokens:             1024,
			Temperature:           0.8,
			RequestTimeoutSeconds: 120,
			DedupeWindowSeconds:   600,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				AllowFrom:          FlexibleStringSlice{},
				BusinessOnly:       true,
				PollTimeoutSeconds: 30,
				SendsPerMinute:     20,
			},
			Discord: DiscordConfig{
				AllowFrom:      FlexibleStringSlice{},
				SendsPerMinute: 30,
			},
		},
		Transcription: TranscriptionConfig{
			Model: "whisper-1",
		},
		Speech: SpeechConfig{
			APIBase:         "https://api.elevenlabs.io",
			ModelID:         "eleven_multilingual_v2",
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		Memory: MemoryConfig{
			MaxContextMessages: 10,
		},
		Personas: PersonasConfig{
			Base:         DefaultBasePersona,
			FallbackName: "friend",
			Alternates:   []*AlternatePersona{},
		},
		Reply: ReplyConfig{
			DelayEnabled:    true,
			DelayMinSeconds: 3,
			DelayMaxSeconds: 45,
			ResetText:       "Memory cleared. Starting from a clean slate! 👋",
			TextApology:     "Sorry, I'm busy right now and couldn't reply. 😥",
			VoiceApology:    "Sorry, I couldn't answer with a voice message right now. 😥",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18790,
		},
	}
}

// legacyEnv maps the variable names used by earlier single-file deployments.
var legacyEnv = []struct {
	name  string
	apply func(*Config, string)
}{
	{"TELEGRAM_BOT_TOKEN", func(c *Config, v string) { c.Channels.Telegram.Token = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.Providers.OpenAI.APIKey = v }},
	{"ELEVENLABS_API_KEY", func(c *Config, v string) { c.Speech.APIKey = v }},
	{"ELEVENLABS_VOICE_ID", func(c *Config, v string) { c.Speech.VoiceID = v }},
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	for _, item := range legacyEnv {
		if v := strings.TrimSpace(os.Getenv(item.name)); v != "" {
			item.apply(cfg, v)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the relay cannot run with. Missing credentials are
// reported by the components that need them.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Memory.MaxContextMessages < 1 {
		return fmt.Errorf("memory.max_context_messages must be at least 1, got %d", c.Memory.MaxContextMessages)
	}
	if c.Reply.DelayMinSeconds < 0 || c.Reply.DelayMaxSeconds < c.Reply.DelayMinSeconds {
		return fmt.Errorf("reply delay range [%d, %d] is invalid", c.Reply.DelayMinSeconds, c.Reply.DelayMaxSeconds)
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// HomeDir is the directory holding config.json and personas.yaml.
func HomeDir() string {
	return ExpandHome("~/.personarelay")
}

func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.json")
}

func (c *Config) PersonaFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Personas.File)
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
