package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/personarelay/pkg/agent"
	"github.com/dotsetgreg/personarelay/pkg/config"
	"github.com/dotsetgreg/personarelay/pkg/memory"
	"github.com/dotsetgreg/personarelay/pkg/persona"
	"github.com/dotsetgreg/personarelay/pkg/providers"
	"github.com/dotsetgreg/personarelay/pkg/speech"
)

func onboard(out io.Writer, configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	personaPath := filepath.Join(filepath.Dir(configPath), "personas.yaml")
	cfg.Personas.File = personaPath

	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	spec := persona.Spec{
		Base:         cfg.Personas.Base,
		FallbackName: cfg.Personas.FallbackName,
	}
	if _, err := os.Stat(personaPath); err == nil && !force {
		fmt.Fprintf(out, "Keeping existing persona file %s\n", personaPath)
	} else if err := persona.SaveFile(personaPath, spec); err != nil {
		return fmt.Errorf("save persona file: %w", err)
	}

	fmt.Fprintf(out, "%s is ready!\n\n", appName)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Set channels.telegram.token (or TELEGRAM_BOT_TOKEN) in", configPath)
	fmt.Fprintln(out, "  2. Set providers.openai.api_key (or OPENAI_API_KEY)")
	fmt.Fprintln(out, "  3. Optional: speech.api_key and speech.voice_id for voice replies")
	fmt.Fprintln(out, "  4. Edit the persona in", personaPath)
	fmt.Fprintf(out, "  5. Run: %s gateway\n", appName)
	return nil
}

func showPersona(out io.Writer, userID, name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	set, err := persona.Load(cfg)
	if err != nil {
		return err
	}
	resolved, err := set.Resolve(userID, name)
	if err != nil {
		return err
	}

	kind := "base"
	if resolved.Alternate {
		kind = "alternate"
	}
	fmt.Fprintf(out, "Persona: %s (addressing %s)\n\n", kind, resolved.Name)
	fmt.Fprintln(out, resolved.Prompt)
	return nil
}

func statusCmd(out io.Writer) error {
	configPath := getConfigPath()
	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n\n", formatVersion())

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintln(out, "Config:", configPath, "✓")
	} else {
		fmt.Fprintln(out, "Config:", configPath, "✗ (defaults and environment only)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if path := cfg.PersonaFilePath(); path != "" {
		mark := "✓"
		if _, err := os.Stat(path); err != nil {
			mark = "✗"
		}
		fmt.Fprintln(out, "Personas:", path, mark)
	}
	if set, err := persona.Load(cfg); err != nil {
		fmt.Fprintf(out, "Persona templates: ✗ %v\n", err)
	} else {
		fmt.Fprintf(out, "Persona templates: ✓ (%d reserved users)\n", set.ReservedCount())
	}

	name, configured, mode, err := providers.ProviderCredentialStatus(cfg)
	switch {
	case err != nil:
		fmt.Fprintf(out, "Provider: ✗ %v\n", err)
	case configured:
		fmt.Fprintf(out, "Provider: %s ✓ (%s, model %s)\n", name, mode, cfg.Agent.Model)
	default:
		fmt.Fprintf(out, "Provider: %s ✗ not configured\n", name)
	}

	if _, err := providers.NewTranscriberFromConfig(cfg); err != nil {
		fmt.Fprintln(out, "Transcription: ✗", err)
	} else {
		fmt.Fprintln(out, "Transcription:", cfg.Transcription.Model, "✓")
	}
	if synth, err := speech.NewFromConfig(cfg); err != nil {
		fmt.Fprintln(out, "Speech: ✗", err)
	} else if synth == nil {
		fmt.Fprintln(out, "Speech: not configured (voice messages are answered with text)")
	} else {
		fmt.Fprintln(out, "Speech: ElevenLabs ✓")
	}

	fmt.Fprintln(out, "Telegram:", markToken(cfg.Channels.Telegram.Token), "business_only:", cfg.Channels.Telegram.BusinessOnly)
	fmt.Fprintln(out, "Discord:", markToken(cfg.Channels.Discord.Token))
	fmt.Fprintf(out, "Memory: last %d messages per user\n", cfg.Memory.MaxContextMessages)
	if cfg.Reply.DelayEnabled {
		fmt.Fprintf(out, "Reply delay: %d-%ds\n", cfg.Reply.DelayMinSeconds, cfg.Reply.DelayMaxSeconds)
	} else {
		fmt.Fprintln(out, "Reply delay: off")
	}
	return nil
}

func markToken(token string) string {
	if strings.TrimSpace(token) == "" {
		return "✗"
	}
	return "✓"
}

type chatOptions struct {
	message string
	userID  string
	name    string
	debug   bool
}

// newConsoleRelay wires a relay without channels or a bus for local use.
func newConsoleRelay(cfg *config.Config) (*agent.Relay, error) {
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	set, err := persona.Load(cfg)
	if err != nil {
		return nil, err
	}
	mem := memory.NewManager(cfg.Memory.MaxContextMessages, set)
	return agent.NewRelay(cfg, nil, mem, provider, agent.WithDelayer(agent.NoDelay{}))
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, opts chatOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	relay, err := newConsoleRelay(cfg)
	if err != nil {
		return err
	}

	if strings.TrimSpace(opts.message) != "" {
		reply, err := relay.ProcessDirect(ctx, opts.userID, opts.name, opts.message)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
		return nil
	}

	fmt.Fprintf(out, "%s console (Ctrl+C or 'exit' to quit, /start to reset)\n\n", appName)
	return interactiveMode(ctx, in, out, relay, opts)
}

func interactiveMode(ctx context.Context, in io.Reader, out io.Writer, relay *agent.Relay, opts chatOptions) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".personarelay_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           io.NopCloser(in),
		Stdout:          out,
	})
	if err != nil {
		fmt.Fprintf(out, "Readline unavailable (%v), falling back to simple input\n", err)
		return simpleInteractiveMode(ctx, in, out, relay, opts)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return err
		}
		if done := consoleTurn(ctx, out, relay, opts, line); done {
			return nil
		}
	}
}

func simpleInteractiveMode(ctx context.Context, in io.Reader, out io.Writer, relay *agent.Relay, opts chatOptions) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out, "\nGoodbye!")
			return scanner.Err()
		}
		if done := consoleTurn(ctx, out, relay, opts, scanner.Text()); done {
			return nil
		}
	}
}

// consoleTurn handles one console line and reports whether the session ended.
func consoleTurn(ctx context.Context, out io.Writer, relay *agent.Relay, opts chatOptions, line string) bool {
	input := strings.TrimSpace(line)
	switch input {
	case "":
		return false
	case "exit", "quit":
		fmt.Fprintln(out, "Goodbye!")
		return true
	}

	reply, err := relay.ProcessDirect(ctx, opts.userID, opts.name, input)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return false
	}
	fmt.Fprintf(out, "\n%s\n\n", reply)
	return false
}
