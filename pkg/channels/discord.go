package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dotsetgreg/personarelay/pkg/bus"
	"github.com/dotsetgreg/personarelay/pkg/config"
	"github.com/dotsetgreg/personarelay/pkg/logger"
	"github.com/dotsetgreg/personarelay/pkg/utils"
)

const (
	typingRefreshInterval = 8 * time.Second
	// Discord allows 2000 characters per message.
	discordMessageLimit    = 1900
	discordMaxDownloadSize = 20 * 1024 * 1024
)

// DiscordChannel relays direct messages sent to a Discord bot.
type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
	typing  *typingTracker
	http    *http.Client
}

func NewDiscordChannel(cfg config.DiscordConfig, mb *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", mb, cfg.AllowFrom),
		session:     session,
		config:      cfg,
		typing:      newTypingTracker(typingRefreshInterval),
		http:        &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	c.typing.stopAll()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	switch msg.Kind {
	case bus.OutboundTyping, bus.OutboundRecordVoice:
		c.typing.begin(channelID, func() { c.sendTyping(channelID) })
		return nil
	case bus.OutboundStopTyping:
		c.typing.end(channelID)
		return nil
	}

	if !msg.Standalone {
		defer c.typing.end(channelID)
	}
	if msg.Kind == bus.OutboundVoice {
		return c.sendVoice(ctx, channelID, msg)
	}
	for i, chunk := range splitMessage(msg.Content, discordMessageLimit) {
		replyTo := ""
		if i == 0 {
			replyTo = msg.ReplyTo
		}
		if err := c.sendChunk(ctx, channelID, chunk, replyTo); err != nil {
			return err
		}
	}
	return nil
}

// withSendTimeout runs a blocking discordgo call bounded by ctx and sendTimeout.
func withSendTimeout(ctx context.Context, call func() error) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- call()
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content, replyTo string) error {
	err := withSendTimeout(ctx, func() error {
		var err error
		if replyTo != "" {
			_, err = c.session.ChannelMessageSendReply(channelID, content, &discordgo.MessageReference{
				MessageID: replyTo,
				ChannelID: channelID,
			})
		} else {
			_, err = c.session.ChannelMessageSend(channelID, content)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

func (c *DiscordChannel) sendVoice(ctx context.Context, channelID string, msg bus.OutboundMessage) error {
	if len(msg.Audio) == 0 {
		return fmt.Errorf("voice message has no audio")
	}
	ext := utils.ExtensionForContentType(msg.AudioContentType)
	return utils.WithTempFile("personarelay-voice-*"+ext, msg.Audio, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return withSendTimeout(ctx, func() error {
			_, err := c.session.ChannelFileSend(channelID, "reply"+ext, f)
			if err != nil {
				return fmt.Errorf("failed to send discord voice reply: %w", err)
			}
			return nil
		})
	})
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if channelID == "" || c.session == nil {
		return
	}
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.ErrorCF("discord", "Failed to send typing indicator", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	// Guild channels are shared; personas only answer direct messages.
	if m.GuildID != "" {
		return
	}

	allowKey := m.Author.ID + "|" + m.Author.Username
	if !c.IsAllowed(allowKey) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	senderName := m.Author.GlobalName
	if senderName == "" {
		senderName = m.Author.Username
	}
	msg := bus.InboundMessage{
		SenderID:   m.Author.ID,
		SenderName: senderName,
		ChatID:     m.ChannelID,
		MessageID:  m.ID,
		Metadata: map[string]string{
			"username": m.Author.Username,
		},
	}

	for _, attachment := range m.Attachments {
		if !utils.IsAudioFile(attachment.Filename, attachment.ContentType) {
			continue
		}
		data, err := c.download(attachment.URL)
		if err != nil {
			logger.ErrorCF("discord", "Failed to download audio attachment", map[string]interface{}{
				"filename": attachment.Filename,
				"error":    err.Error(),
			})
			return
		}
		msg.Kind = bus.InboundVoice
		msg.Audio = data
		msg.AudioExt = strings.ToLower(filepath.Ext(attachment.Filename))
		c.HandleMessage(allowKey, msg)
		return
	}

	if strings.TrimSpace(m.Content) == "" {
		return
	}
	classifyText(&msg, m.Content)

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"sender_name": senderName,
		"sender_id":   m.Author.ID,
		"preview":     utils.Truncate(m.Content, 50),
	})
	c.HandleMessage(allowKey, msg)
}

func (c *DiscordChannel) download(url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment download http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, discordMaxDownloadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > discordMaxDownloadSize {
		return nil, fmt.Errorf("attachment too large (>%d bytes)", discordMaxDownloadSize)
	}
	return data, nil
}
