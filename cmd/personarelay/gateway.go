package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dotsetgreg/personarelay/pkg/agent"
	"github.com/dotsetgreg/personarelay/pkg/bus"
	"github.com/dotsetgreg/personarelay/pkg/channels"
	"github.com/dotsetgreg/personarelay/pkg/health"
	"github.com/dotsetgreg/personarelay/pkg/logger"
	"github.com/dotsetgreg/personarelay/pkg/memory"
	"github.com/dotsetgreg/personarelay/pkg/persona"
	"github.com/dotsetgreg/personarelay/pkg/providers"
	"github.com/dotsetgreg/personarelay/pkg/speech"
)

const shutdownTimeout = 15 * time.Second

func runGateway(parent context.Context, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	personas, err := persona.Load(cfg)
	if err != nil {
		return err
	}
	mem := memory.NewManager(cfg.Memory.MaxContextMessages, personas)

	var opts []agent.Option
	if transcriber, err := providers.NewTranscriberFromConfig(cfg); err != nil {
		logger.WarnCF("gateway", "Voice transcription disabled", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		opts = append(opts, agent.WithTranscriber(transcriber))
	}
	synth, err := speech.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("configure speech: %w", err)
	}
	if synth != nil {
		opts = append(opts, agent.WithSynthesizer(synth))
	}

	msgBus := bus.NewMessageBus()
	relay, err := agent.NewRelay(cfg, msgBus, mem, provider, opts...)
	if err != nil {
		return err
	}

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}
	enabled := channelManager.GetEnabledChannels()
	if len(enabled) == 0 {
		return fmt.Errorf("no channels configured (set channels.telegram.token or channels.discord.token)")
	}
	sort.Strings(enabled)

	info := relay.GetStartupInfo()
	logger.InfoCF("gateway", "Relay initialized", info)
	fmt.Fprintf(out, "✓ Provider: %s, model %v\n", providers.ActiveProviderName(cfg), info["model"])
	fmt.Fprintf(out, "✓ Personas: %d reserved users\n", personas.ReservedCount())
	fmt.Fprintf(out, "✓ Voice: transcription=%v speech=%v\n", info["transcription"], info["speech"])
	fmt.Fprintf(out, "✓ Channels enabled: %s\n", strings.Join(enabled, ", "))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The dispatcher outlives the signal so in-flight handlers can still
	// deliver their stop_typing; StopAll ends it.
	if err := channelManager.StartAll(parent); err != nil {
		msgBus.Close()
		return fmt.Errorf("start channels: %w", err)
	}

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	healthServer.RegisterCheck("relay", func() error {
		if !relay.IsRunning() {
			return errors.New("relay not running")
		}
		return nil
	})
	healthServer.RegisterCheck("channels", func() error {
		for name, st := range channelManager.GetStatus() {
			if running, _ := st.(map[string]interface{})["running"].(bool); !running {
				return fmt.Errorf("%s channel not running", name)
			}
		}
		return nil
	})
	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	fmt.Fprintf(out, "✓ Health and metrics at http://%s:%d/health, /ready, /metrics\n", cfg.Gateway.Host, cfg.Gateway.Port)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(ctx); err != nil {
			logger.ErrorCF("gateway", "Relay stopped with error", map[string]interface{}{"error": err.Error()})
		}
	}()
	healthServer.SetReady(true)
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	<-ctx.Done()
	fmt.Fprintln(out, "\nShutting down...")
	healthServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	select {
	case <-relayDone:
	case <-shutdownCtx.Done():
		logger.WarnC("gateway", "Timed out waiting for in-flight replies")
	}
	if err := channelManager.StopAll(shutdownCtx); err != nil {
		logger.WarnCF("gateway", "Channel shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	msgBus.Close()
	if err := healthServer.Stop(shutdownCtx); err != nil {
		logger.WarnCF("health", "Health server shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	fmt.Fprintln(out, "✓ Gateway stopped")
	return nil
}
