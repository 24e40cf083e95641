package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig_RelayDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Agent.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want %q", cfg.Agent.Model, "gpt-4o-mini")
	}
	if cfg.Agent.Temperature != 0.8 {
		t.Errorf("Temperature = %v, want 0.8", cfg.Agent.Temperature)
	}
	if cfg.Memory.MaxContextMessages != 10 {
		t.Errorf("MaxContextMessages = %d, want 10", cfg.Memory.MaxContextMessages)
	}
	if cfg.Transcription.Model != "whisper-1" {
		t.Errorf("transcription model = %q", cfg.Transcription.Model)
	}
	if cfg.Personas.FallbackName != "friend" {
		t.Errorf("FallbackName = %q, want friend", cfg.Personas.FallbackName)
	}
}

func TestDefaultConfig_SpeechSettings(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Speech.ModelID != "eleven_multilingual_v2" {
		t.Errorf("ModelID = %q", cfg.Speech.ModelID)
	}
	if cfg.Speech.Stability != 0.5 || cfg.Speech.SimilarityBoost != 0.75 {
		t.Errorf("voice settings = %v/%v, want 0.5/0.75", cfg.Speech.Stability, cfg.Speech.SimilarityBoost)
	}
	if cfg.Speech.APIKey != "" || cfg.Speech.VoiceID != "" {
		t.Error("speech credentials should be empty by default")
	}
}

func TestDefaultConfig_Gateway(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Error("Gateway host should have default value")
	}
	if cfg.Gateway.Port == 0 {
		t.Error("Gateway port should have default value")
	}
}

func TestDefaultConfig_Channels(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Channels.Telegram.Token != "" || cfg.Channels.Discord.Token != "" {
		t.Error("channel tokens should be empty by default")
	}
	if !cfg.Channels.Telegram.BusinessOnly {
		t.Error("telegram should default to business-only mode")
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := SaveConfig(path, DefaultConfig()); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_RoundTripsSavedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Memory.MaxContextMessages = 30
	cfg.Personas.Alternates = []*AlternatePersona{{UserIDs: FlexibleStringSlice{"42"}, Counterpart: "Aziza", Template: "hi {{.Name}}"}}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Memory.MaxContextMessages != 30 {
		t.Fatalf("MaxContextMessages = %d, want 30", loaded.Memory.MaxContextMessages)
	}
	if len(loaded.Personas.Alternates) != 1 || loaded.Personas.Alternates[0].Counterpart != "Aziza" {
		t.Fatalf("alternates not loaded: %+v", loaded.Personas.Alternates)
	}
}

func TestLoadConfig_NumericAllowFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"channels":{"telegram":{"allow_from":[12345,"@someone"]}}}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	got := cfg.Channels.Telegram.AllowFrom
	if len(got) != 2 || got[0] != "12345" || got[1] != "@someone" {
		t.Fatalf("allow_from = %v", got)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("PERSONARELAY_AGENT_MODEL", "env/model")
	t.Setenv("PERSONARELAY_MEMORY_MAX_CONTEXT_MESSAGES", "40")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Agent.Model; got != "env/model" {
		t.Fatalf("expected env override model, got %q", got)
	}
	if got := cfg.Memory.MaxContextMessages; got != 40 {
		t.Fatalf("expected max context 40, got %d", got)
	}
}

func TestLoadConfig_LegacyEnvNames(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ELEVENLABS_VOICE_ID", "voice-1")
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("PERSONARELAY_PROVIDERS_OPENAI_API_KEY", "sk-new")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Fatalf("telegram token = %q", cfg.Channels.Telegram.Token)
	}
	if cfg.Speech.VoiceID != "voice-1" {
		t.Fatalf("voice id = %q", cfg.Speech.VoiceID)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-new" {
		t.Fatalf("prefixed env should win over legacy name, got %q", cfg.Providers.OpenAI.APIKey)
	}
}

func TestLoadConfig_RejectsInvalidBounds(t *testing.T) {
	t.Setenv("PERSONARELAY_MEMORY_MAX_CONTEXT_MESSAGES", "0")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatal("expected error for zero max_context_messages")
	}
}

func TestLoadConfig_RejectsInvertedDelay(t *testing.T) {
	t.Setenv("PERSONARELAY_REPLY_DELAY_MIN_SECONDS", "10")
	t.Setenv("PERSONARELAY_REPLY_DELAY_MAX_SECONDS", "5")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatal("expected error for inverted delay range")
	}
}
