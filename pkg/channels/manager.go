package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dotsetgreg/personarelay/pkg/bus"
	"github.com/dotsetgreg/personarelay/pkg/config"
	"github.com/dotsetgreg/personarelay/pkg/logger"
	"github.com/dotsetgreg/personarelay/pkg/metrics"
)

// Manager owns the configured channel adapters and drains the outbound bus
// into them.
type Manager struct {
	channels     map[string]Channel
	limiters     map[string]*chatLimiter
	bus          *bus.MessageBus
	config       *config.Config
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		limiters: make(map[string]*chatLimiter),
		bus:      messageBus,
		config:   cfg,
	}

	if err := m.initChannels(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) initChannels() error {
	logger.InfoC("channels", "Initializing channel manager")

	if tg := m.config.Channels.Telegram; strings.TrimSpace(tg.Token) != "" {
		logger.DebugC("channels", "Attempting to initialize Telegram channel")
		telegram, err := NewTelegramChannel(tg, m.bus)
		if err != nil {
			return fmt.Errorf("initialize Telegram channel: %w", err)
		}
		m.register(telegram, tg.SendsPerMinute)
		logger.InfoC("channels", "Telegram channel initialized successfully")
	}

	if dc := m.config.Channels.Discord; strings.TrimSpace(dc.Token) != "" {
		logger.DebugC("channels", "Attempting to initialize Discord channel")
		discord, err := NewDiscordChannel(dc, m.bus)
		if err != nil {
			return fmt.Errorf("initialize Discord channel: %w", err)
		}
		m.register(discord, dc.SendsPerMinute)
		logger.InfoC("channels", "Discord channel initialized successfully")
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]interface{}{
		"enabled_channels": len(m.channels),
	})

	return nil
}

func (m *Manager) register(ch Channel, sendsPerMinute int) {
	m.channels[ch.Name()] = ch
	m.limiters[ch.Name()] = newChatLimiter(sendsPerMinute, defaultSendBurst)
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	if len(m.channels) == 0 {
		m.mu.RUnlock()
		logger.WarnC("channels", "No channels enabled")
		return nil
	}
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, channel := range m.channels {
		channelsCopy[name] = channel
	}
	m.mu.RUnlock()

	logger.InfoC("channels", "Starting all channels")

	var started []string
	var startErrors []string
	for name, channel := range channelsCopy {
		logger.InfoCF("channels", "Starting channel", map[string]interface{}{"channel": name})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
			startErrors = append(startErrors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		started = append(started, name)
	}

	if len(startErrors) > 0 {
		for _, name := range started {
			if err := channelsCopy[name].Stop(ctx); err != nil {
				logger.WarnCF("channels", "Failed to stop partially-started channel", map[string]interface{}{
					"channel": name,
					"error":   err.Error(),
				})
			}
		}
		return fmt.Errorf("failed to start channels: %s", strings.Join(startErrors, "; "))
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	task := &asyncTask{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
	}
	m.dispatchTask = task
	m.mu.Unlock()

	go func() {
		defer close(task.done)
		m.dispatchOutbound(dispatchCtx)
	}()

	logger.InfoCF("channels", "All channels started", map[string]interface{}{
		"count": len(started),
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	task := m.dispatchTask
	m.dispatchTask = nil
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, channel := range m.channels {
		channelsCopy[name] = channel
	}
	m.mu.Unlock()

	logger.InfoC("channels", "Stopping all channels")

	if task != nil {
		task.cancel()
		select {
		case <-task.done:
		case <-ctx.Done():
		}
	}

	for name, channel := range channelsCopy {
		logger.InfoCF("channels", "Stopping channel", map[string]interface{}{
			"channel": name,
		})
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels stopped")
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.InfoC("channels", "Outbound dispatcher started")
	defer logger.InfoC("channels", "Outbound dispatcher stopped")

	d := newChatDispatcher(m.deliver)
	defer d.shutdown()

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			// Either ctx is done or the bus was closed.
			return
		}
		d.enqueue(ctx, msg)
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) {
	m.mu.RLock()
	channel, exists := m.channels[msg.Channel]
	limiter := m.limiters[msg.Channel]
	m.mu.RUnlock()

	if !exists {
		logger.WarnCF("channels", "Unknown channel for outbound message", map[string]interface{}{
			"channel": msg.Channel,
		})
		return
	}

	if limiter != nil {
		key := msg.ChatID + "|" + msg.BusinessConnectionID
		switch msg.Kind {
		case bus.OutboundText, bus.OutboundVoice:
			if err := limiter.Wait(ctx, key); err != nil {
				logger.WarnCF("channels", "Outbound message dropped while rate limited", map[string]interface{}{
					"channel": msg.Channel,
					"chat_id": msg.ChatID,
					"error":   err.Error(),
				})
				metrics.RecordOutbound(msg.Channel, string(msg.Kind), err)
				return
			}
		case bus.OutboundTyping, bus.OutboundRecordVoice:
			if !limiter.Allow(key) {
				logger.DebugCF("channels", "Chat action skipped by rate limit", map[string]interface{}{
					"channel": msg.Channel,
					"chat_id": msg.ChatID,
				})
				return
			}
		}
	}

	err := channel.Send(ctx, msg)
	if msg.Kind != bus.OutboundStopTyping {
		metrics.RecordOutbound(msg.Channel, string(msg.Kind), err)
	}
	if err != nil {
		logger.ErrorCF("channels", "Error sending message to channel", map[string]interface{}{
			"channel": msg.Channel,
			"kind":    string(msg.Kind),
			"error":   err.Error(),
		})
	}
}

func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{})
	for name, channel := range m.channels {
		status[name] = map[string]interface{}{
			"enabled": true,
			"running": channel.IsRunning(),
		}
	}
	return status
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// RegisterChannel adds an adapter with the default send pacing.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
	m.limiters[name] = newChatLimiter(defaultSendsPerMinute, defaultSendBurst)
}
