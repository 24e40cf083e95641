package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/personarelay/pkg/bus"
	"github.com/dotsetgreg/personarelay/pkg/config"
	"github.com/dotsetgreg/personarelay/pkg/logger"
	"github.com/dotsetgreg/personarelay/pkg/memory"
	"github.com/dotsetgreg/personarelay/pkg/metrics"
	"github.com/dotsetgreg/personarelay/pkg/providers"
	"github.com/dotsetgreg/personarelay/pkg/speech"
	"github.com/dotsetgreg/personarelay/pkg/utils"
)

// Relay answers chat events in character. Every inbound event is handled in
// its own goroutine: transcribe voice, complete with the persona prompt and
// recent history, optionally synthesize speech, then reply after a delay.
type Relay struct {
	bus         *bus.MessageBus
	memory      *memory.Manager
	provider    providers.LLMProvider
	transcriber providers.Transcriber
	synthesizer speech.Synthesizer
	delay       Delayer
	dedupe      *dedupeCache
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	replies     config.ReplyConfig
	running     atomic.Bool
	inflight    sync.WaitGroup
}

type Option func(*Relay)

func WithTranscriber(t providers.Transcriber) Option {
	return func(r *Relay) { r.transcriber = t }
}

// WithSynthesizer enables voice replies to voice messages.
func WithSynthesizer(s speech.Synthesizer) Option {
	return func(r *Relay) { r.synthesizer = s }
}

func WithDelayer(d Delayer) Option {
	return func(r *Relay) { r.delay = d }
}

func NewRelay(cfg *config.Config, msgBus *bus.MessageBus, mem *memory.Manager, provider providers.LLMProvider, opts ...Option) (*Relay, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if mem == nil {
		return nil, fmt.Errorf("memory manager is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}

	model := strings.TrimSpace(cfg.Agent.Model)
	if model == "" {
		model = provider.GetDefaultModel()
	}
	timeout := time.Duration(cfg.Agent.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	r := &Relay{
		bus:         msgBus,
		memory:      mem,
		provider:    provider,
		delay:       DelayFromConfig(cfg.Reply),
		dedupe:      newDedupeCache(time.Duration(cfg.Agent.DedupeWindowSeconds) * time.Second),
		model:       model,
		maxTokens:   cfg.Agent.MaxTokens,
		temperature: cfg.Agent.Temperature,
		timeout:     timeout,
		replies:     cfg.Reply,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.delay == nil {
		r.delay = NoDelay{}
	}
	return r, nil
}

// Run consumes inbound events until ctx is canceled or the bus closes, then
// waits for in-flight handlers to finish.
func (r *Relay) Run(ctx context.Context) error {
	if r.bus == nil {
		return fmt.Errorf("relay has no message bus")
	}
	r.running.Store(true)
	defer r.running.Store(false)

	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		r.inflight.Add(1)
		go func(msg bus.InboundMessage) {
			defer r.inflight.Done()
			r.handle(ctx, msg)
		}(msg)
	}

	r.inflight.Wait()
	logger.InfoC("relay", "Relay stopped")
	return nil
}

func (r *Relay) IsRunning() bool {
	return r.running.Load()
}

// GetStartupInfo summarizes the relay's wiring for status output.
func (r *Relay) GetStartupInfo() map[string]interface{} {
	stats := r.memory.Stats()
	return map[string]interface{}{
		"model":             r.model,
		"max_context":       r.memory.MaxTurns(),
		"transcription":     r.transcriber != nil,
		"speech":            r.synthesizer != nil,
		"tracked_users":     stats.Users,
		"stored_turns":      stats.Turns,
		"reply_delay_type":  fmt.Sprintf("%T", r.delay),
		"request_timeout_s": int(r.timeout.Seconds()),
	}
}

func (r *Relay) handle(ctx context.Context, msg bus.InboundMessage) {
	kind := string(msg.Kind)
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("relay", "Recovered from panic while handling event", map[string]interface{}{
				"channel":  msg.Channel,
				"chat_id":  msg.ChatID,
				"event_id": msg.EventID,
				"panic":    fmt.Sprint(rec),
				"stack":    string(debug.Stack()),
			})
			metrics.RecordEvent(msg.Channel, kind, metrics.OutcomePanic)
			r.publish(bus.ReplyTo(msg, bus.OutboundStopTyping, ""))
		}
	}()

	outcome := r.process(ctx, msg)
	metrics.RecordEvent(msg.Channel, kind, outcome)
	stats := r.memory.Stats()
	metrics.SetMemoryStats(stats.Users, stats.Turns)
	if r.bus != nil {
		metrics.SetBusDropped(r.bus.DroppedInbound(), r.bus.DroppedOutbound())
	}
}

// validate returns why msg cannot be routed, or "".
func validate(msg bus.InboundMessage) string {
	switch {
	case strings.TrimSpace(msg.SenderID) == "":
		return "missing sender id"
	case strings.TrimSpace(msg.ChatID) == "":
		return "missing chat id"
	case msg.Business && strings.TrimSpace(msg.BusinessConnectionID) == "":
		return "business event without connection id"
	}
	switch msg.Kind {
	case bus.InboundVoice:
		if len(msg.Audio) == 0 {
			return "voice event without audio"
		}
	case bus.InboundText, bus.InboundCommand:
		if strings.TrimSpace(msg.Content) == "" {
			return "empty text"
		}
	default:
		return "unsupported event kind"
	}
	return ""
}

func isResetCommand(name string) bool {
	return name == "start" || name == "reset"
}

func (r *Relay) process(ctx context.Context, msg bus.InboundMessage) string {
	fields := map[string]interface{}{
		"channel":   msg.Channel,
		"chat_id":   msg.ChatID,
		"sender_id": msg.SenderID,
		"business":  msg.Business,
		"kind":      string(msg.Kind),
	}

	if reason := validate(msg); reason != "" {
		fields["reason"] = reason
		logger.WarnCF("relay", "Skipping event", fields)
		return metrics.OutcomeSkipped
	}
	if !r.dedupe.firstSeen(msg) {
		fields["message_id"] = msg.MessageID
		logger.DebugCF("relay", "Skipping duplicate event", fields)
		return metrics.OutcomeDuplicate
	}

	if isResetCommand(msg.Command()) {
		r.memory.ResetHistory(msg.SenderID)
		out := bus.ReplyTo(msg, bus.OutboundText, r.replies.ResetText)
		out.Standalone = true
		if msg.Private() {
			out.ReplyTo = msg.MessageID
		}
		r.publish(out)
		logger.InfoCF("relay", "Conversation reset", fields)
		return metrics.OutcomeReset
	}

	voice := msg.Kind == bus.InboundVoice
	indicator := bus.OutboundTyping
	if voice && r.synthesizer != nil {
		indicator = bus.OutboundRecordVoice
	}
	r.publish(bus.ReplyTo(msg, indicator, ""))

	logger.InfoCF("relay", "Handling event", fields)
	out, err := r.converse(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			r.publish(bus.ReplyTo(msg, bus.OutboundStopTyping, ""))
			return metrics.OutcomeCanceled
		}
		fields["error"] = err.Error()
		logger.ErrorCF("relay", "Failed to produce reply", fields)
		apology := r.replies.TextApology
		if voice {
			apology = r.replies.VoiceApology
		}
		r.publish(bus.ReplyTo(msg, bus.OutboundText, apology))
		return metrics.OutcomeApology
	}

	waited, err := r.delay.Wait(ctx)
	if err != nil {
		r.publish(bus.ReplyTo(msg, bus.OutboundStopTyping, ""))
		return metrics.OutcomeCanceled
	}
	metrics.ReplyDelay.Observe(waited.Seconds())

	r.publish(out)
	fields["delay_ms"] = waited.Milliseconds()
	fields["reply_kind"] = string(out.Kind)
	fields["preview"] = utils.Truncate(out.Content, 60)
	logger.InfoCF("relay", "Reply sent", fields)
	return metrics.OutcomeReplied
}

// converse runs the upstream calls for one exchange and returns the reply to
// send. The assistant turn is stored only after every call succeeded.
func (r *Relay) converse(ctx context.Context, msg bus.InboundMessage) (bus.OutboundMessage, error) {
	voice := msg.Kind == bus.InboundVoice
	text := msg.Content
	if voice {
		t, err := r.transcribe(ctx, msg)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		text = t
	}

	reply, err := r.complete(ctx, msg.SenderID, msg.SenderName, text)
	if err != nil {
		return bus.OutboundMessage{}, err
	}

	out := bus.ReplyTo(msg, bus.OutboundText, reply)
	if voice && r.synthesizer != nil {
		audio, err := r.synthesize(ctx, reply)
		if err != nil {
			return bus.OutboundMessage{}, err
		}
		out.Kind = bus.OutboundVoice
		out.Audio = audio.Data
		out.AudioContentType = audio.ContentType
	}

	if err := r.memory.AppendTurn(msg.SenderID, memory.RoleAssistant, reply); err != nil {
		return bus.OutboundMessage{}, err
	}
	return out, nil
}

func (r *Relay) transcribe(ctx context.Context, msg bus.InboundMessage) (string, error) {
	if r.transcriber == nil {
		return "", errors.New("transcription is not configured")
	}
	ext := msg.AudioExt
	if ext == "" {
		ext = ".ogg"
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	text, err := r.transcriber.Transcribe(callCtx, msg.Audio, "voice"+ext)
	metrics.ObserveUpstream("transcribe", start, err)
	if err != nil {
		return "", fmt.Errorf("transcribe voice message: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("transcription returned no text")
	}
	return text, nil
}

// complete appends the user turn, builds the persona request and calls the
// model. The user turn stays in history even when the call fails.
func (r *Relay) complete(ctx context.Context, userID, displayName, text string) (string, error) {
	if err := r.memory.AppendTurn(userID, memory.RoleUser, text); err != nil {
		return "", err
	}
	turns, err := r.memory.BuildModelRequest(userID, displayName)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.provider.Chat(callCtx, toProviderMessages(turns), r.model, r.chatOptions())
	metrics.ObserveUpstream("complete", start, err)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", errors.New("model returned an empty reply")
	}
	return reply, nil
}

func (r *Relay) synthesize(ctx context.Context, text string) (*speech.Audio, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	audio, err := r.synthesizer.Synthesize(callCtx, text)
	metrics.ObserveUpstream("synthesize", start, err)
	if err != nil {
		var apiErr *speech.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("synthesize reply (status %d): %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("synthesize reply: %w", err)
	}
	return audio, nil
}

func (r *Relay) chatOptions() map[string]interface{} {
	opts := map[string]interface{}{}
	if r.maxTokens > 0 {
		opts["max_tokens"] = r.maxTokens
	}
	if r.temperature > 0 {
		opts["temperature"] = r.temperature
	}
	return opts
}

func (r *Relay) publish(msg bus.OutboundMessage) {
	if r.bus == nil {
		return
	}
	if !r.bus.PublishOutbound(msg) {
		logger.WarnCF("relay", "Outbound bus full, message dropped", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"kind":    string(msg.Kind),
		})
	}
}

// ProcessDirect runs one text exchange synchronously, without typing
// indicators or reply delay. It backs the local console.
func (r *Relay) ProcessDirect(ctx context.Context, userID, displayName, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty message")
	}
	if strings.HasPrefix(text, "/") {
		name := strings.ToLower(strings.TrimPrefix(strings.Fields(text)[0], "/"))
		if isResetCommand(name) {
			r.memory.ResetHistory(userID)
			return r.replies.ResetText, nil
		}
	}

	reply, err := r.complete(ctx, userID, displayName, text)
	if err != nil {
		return "", err
	}
	if err := r.memory.AppendTurn(userID, memory.RoleAssistant, reply); err != nil {
		return "", err
	}
	return reply, nil
}

func toProviderMessages(turns []memory.Turn) []providers.Message {
	out := make([]providers.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, providers.Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}
