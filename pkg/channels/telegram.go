package channels

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/personarelay/pkg/bus"
	"github.com/dotsetgreg/personarelay/pkg/config"
	"github.com/dotsetgreg/personarelay/pkg/logger"
	"github.com/dotsetgreg/personarelay/pkg/utils"
)

const (
	telegramMessageLimit        = 4000
	telegramActionRefresh       = 4 * time.Second
	telegramPollRetryDelay      = 3 * time.Second
	telegramDefaultPollInterval = 30 * time.Second
)

// TelegramChannel long-polls the Bot API. It serves private chats with the
// bot and chats proxied through connected business accounts.
type TelegramChannel struct {
	*BaseChannel
	api         *telegramAPI
	config      config.TelegramConfig
	pollTimeout time.Duration
	typing      *typingTracker

	ownersMu sync.Mutex
	owners   map[string]int64

	botID  int64
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegramChannel(cfg config.TelegramConfig, mb *bus.MessageBus) (*TelegramChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	poll := time.Duration(cfg.PollTimeoutSeconds) * time.Second
	if poll <= 0 {
		poll = telegramDefaultPollInterval
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", mb, cfg.AllowFrom),
		api:         newTelegramAPI(nil, cfg.APIBase, cfg.Token),
		config:      cfg,
		pollTimeout: poll,
		typing:      newTypingTracker(telegramActionRefresh),
		owners:      make(map[string]int64),
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot")

	me, err := c.api.getMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get telegram bot user: %w", err)
	}
	c.botID = me.ID
	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username":      me.Username,
		"user_id":       me.ID,
		"business_only": c.config.BusinessOnly,
	})

	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.setRunning(true)
	go c.pollLoop(pollCtx)
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot")
	c.setRunning(false)
	c.typing.stopAll()
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram poller did not stop: %w", ctx.Err())
	}
}

func (c *TelegramChannel) pollLoop(ctx context.Context) {
	defer close(c.done)

	var offset int64
	for {
		updates, next, err := c.api.getUpdates(ctx, offset, c.pollTimeout)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if isTelegramPollTimeoutError(err) {
				continue
			}
			logger.WarnCF("telegram", "getUpdates failed", map[string]interface{}{
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(telegramPollRetryDelay):
			}
			continue
		}
		offset = next
		for i := range updates {
			c.handleUpdate(ctx, &updates[i])
		}
	}
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, u *telegramUpdate) {
	switch {
	case u.BusinessConnection != nil:
		c.rememberConnection(u.BusinessConnection)
	case u.BusinessMessage != nil:
		c.handleMessage(ctx, u.BusinessMessage, true)
	case u.Message != nil:
		c.handleMessage(ctx, u.Message, false)
	}
}

func (c *TelegramChannel) rememberConnection(conn *telegramBusinessConnection) {
	c.ownersMu.Lock()
	defer c.ownersMu.Unlock()
	if !conn.IsEnabled {
		delete(c.owners, conn.ID)
		logger.InfoCF("telegram", "Business connection disabled", map[string]interface{}{
			"business_connection_id": conn.ID,
		})
		return
	}
	c.owners[conn.ID] = conn.User.ID
	logger.InfoCF("telegram", "Business connection enabled", map[string]interface{}{
		"business_connection_id": conn.ID,
		"owner_id":               conn.User.ID,
	})
}

// businessOwner returns the account owner of a business connection, asking
// the Bot API the first time a connection is seen.
func (c *TelegramChannel) businessOwner(ctx context.Context, connID string) (int64, bool) {
	c.ownersMu.Lock()
	id, ok := c.owners[connID]
	c.ownersMu.Unlock()
	if ok {
		return id, true
	}

	conn, err := c.api.getBusinessConnection(ctx, connID)
	if err != nil {
		logger.WarnCF("telegram", "Failed to resolve business connection", map[string]interface{}{
			"business_connection_id": connID,
			"error":                  err.Error(),
		})
		return 0, false
	}
	c.rememberConnection(conn)
	return conn.User.ID, true
}

func (c *TelegramChannel) handleMessage(ctx context.Context, m *telegramMessage, business bool) {
	if m.From == nil || m.Chat == nil {
		return
	}
	if m.From.IsBot || m.From.ID == c.botID {
		return
	}
	if !business && m.Chat.Type != "private" {
		return
	}
	if business && m.BusinessConnectionID != "" {
		if owner, ok := c.businessOwner(ctx, m.BusinessConnectionID); ok && owner == m.From.ID {
			logger.DebugCF("telegram", "Skipping message from business owner", map[string]interface{}{
				"chat_id": m.Chat.ID,
			})
			return
		}
	}

	msg := bus.InboundMessage{
		SenderID:             strconv.FormatInt(m.From.ID, 10),
		SenderName:           telegramDisplayName(m.From),
		ChatID:               strconv.FormatInt(m.Chat.ID, 10),
		Business:             business,
		BusinessConnectionID: m.BusinessConnectionID,
		MessageID:            strconv.FormatInt(m.MessageID, 10),
		Metadata: map[string]string{
			"username":  m.From.Username,
			"chat_type": m.Chat.Type,
		},
	}
	allowKey := msg.SenderID
	if m.From.Username != "" {
		allowKey += "|" + m.From.Username
	}

	audio := m.Voice
	if audio == nil {
		audio = m.Audio
	}
	switch {
	case audio != nil:
		if c.config.BusinessOnly && !business {
			return
		}
		if !c.IsAllowed(allowKey) {
			return
		}
		go c.publishVoice(ctx, allowKey, msg, audio)
		return
	case strings.TrimSpace(m.Text) != "":
		classifyText(&msg, m.Text)
	default:
		return
	}

	if c.config.BusinessOnly && !business && !isResetCommand(msg.Command()) {
		logger.DebugCF("telegram", "Ignoring private message in business-only mode", map[string]interface{}{
			"chat_id": msg.ChatID,
		})
		return
	}

	logger.DebugCF("telegram", "Received message", map[string]interface{}{
		"sender_id": msg.SenderID,
		"chat_id":   msg.ChatID,
		"business":  business,
		"kind":      string(msg.Kind),
		"preview":   utils.Truncate(msg.Content, 50),
	})
	c.HandleMessage(allowKey, msg)
}

func (c *TelegramChannel) publishVoice(ctx context.Context, allowKey string, msg bus.InboundMessage, v *telegramVoice) {
	data, ext, err := c.fetchAudio(ctx, v)
	if err != nil {
		logger.ErrorCF("telegram", "Failed to download voice message", map[string]interface{}{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		return
	}
	msg.Kind = bus.InboundVoice
	msg.Audio = data
	msg.AudioExt = ext
	logger.DebugCF("telegram", "Received voice message", map[string]interface{}{
		"sender_id": msg.SenderID,
		"chat_id":   msg.ChatID,
		"bytes":     len(data),
	})
	c.HandleMessage(allowKey, msg)
}

func (c *TelegramChannel) fetchAudio(ctx context.Context, v *telegramVoice) ([]byte, string, error) {
	f, err := c.api.getFile(ctx, v.FileID)
	if err != nil {
		return nil, "", err
	}
	data, err := c.api.downloadFile(ctx, f.FilePath, telegramMaxDownloadSize)
	if err != nil {
		return nil, "", err
	}
	ext := strings.ToLower(filepath.Ext(f.FilePath))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(v.FileName))
	}
	if ext == "" || ext == ".oga" {
		ext = ".ogg"
	}
	return data, ext, nil
}

// isResetCommand matches the commands still honored in private chats when
// the bot runs in business-only mode.
func isResetCommand(name string) bool {
	return name == "start" || name == "reset"
}

func typingKey(chatID, businessConnectionID string) string {
	if businessConnectionID == "" {
		return chatID
	}
	return chatID + "|" + businessConnectionID
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}
	var replyTo int64
	if msg.ReplyTo != "" {
		replyTo, err = strconv.ParseInt(msg.ReplyTo, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid telegram reply id %q: %w", msg.ReplyTo, err)
		}
	}
	key := typingKey(msg.ChatID, msg.BusinessConnectionID)

	switch msg.Kind {
	case bus.OutboundTyping, bus.OutboundRecordVoice:
		action := "typing"
		if msg.Kind == bus.OutboundRecordVoice {
			action = "record_voice"
		}
		bc := msg.BusinessConnectionID
		c.typing.begin(key, func() { c.sendAction(chatID, bc, action) })
		return nil
	case bus.OutboundStopTyping:
		c.typing.end(key)
		return nil
	case bus.OutboundVoice:
		if !msg.Standalone {
			defer c.typing.end(key)
		}
		if len(msg.Audio) == 0 {
			return fmt.Errorf("voice message has no audio")
		}
		pattern := "personarelay-voice-*" + utils.ExtensionForContentType(msg.AudioContentType)
		return utils.WithTempFile(pattern, msg.Audio, func(path string) error {
			return c.api.sendVoice(ctx, chatID, msg.BusinessConnectionID, replyTo, path)
		})
	default:
		if !msg.Standalone {
			defer c.typing.end(key)
		}
		chunks := splitMessage(msg.Content, telegramMessageLimit)
		for i, chunk := range chunks {
			req := telegramSendMessageRequest{
				BusinessConnectionID: msg.BusinessConnectionID,
				ChatID:               chatID,
				Text:                 chunk,
			}
			if i == 0 {
				req.ReplyParameters = replyParameters(replyTo)
			}
			if err := c.api.sendMessage(ctx, req); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *TelegramChannel) sendAction(chatID int64, businessConnectionID, action string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	err := c.api.sendChatAction(ctx, telegramSendChatActionRequest{
		BusinessConnectionID: businessConnectionID,
		ChatID:               chatID,
		Action:               action,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.DebugCF("telegram", "Failed to send chat action", map[string]interface{}{
			"chat_id": chatID,
			"action":  action,
			"error":   err.Error(),
		})
	}
}
