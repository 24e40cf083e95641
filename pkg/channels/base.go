package channels

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/personarelay/pkg/bus"
	"github.com/dotsetgreg/personarelay/pkg/logger"
	"github.com/google/uuid"
)

const sendTimeout = 10 * time.Second

// Channel is a chat network adapter. Adapters normalize incoming events onto
// the bus and deliver outbound messages back to the network.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, mb *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       mb,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed matches senderID against the allow-list. Sender IDs may be
// compound ("123456|username"); either half matches, and list entries may
// carry a leading "@". An empty list allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(allowed), "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && strings.EqualFold(candidate, userPart)) {
			return true
		}
	}

	return false
}

// HandleMessage stamps channel and event identity onto msg and publishes it.
// allowKey is the sender key checked against the allow-list; it is usually
// richer than msg.SenderID.
func (c *BaseChannel) HandleMessage(allowKey string, msg bus.InboundMessage) bool {
	if !c.IsAllowed(allowKey) {
		logger.DebugCF(c.name, "Sender not in allow-list", map[string]interface{}{
			"sender": allowKey,
		})
		return false
	}
	msg.Channel = c.name
	if msg.EventID == "" {
		msg.EventID = uuid.NewString()
	}
	if !c.bus.PublishInbound(msg) {
		logger.WarnCF(c.name, "Inbound bus full, event dropped", map[string]interface{}{
			"chat_id":    msg.ChatID,
			"message_id": msg.MessageID,
		})
		return false
	}
	return true
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// parseCommand recognizes "/name args" text. Bot mentions ("/start@mybot")
// are stripped from the name.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", false
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return "", false
	}
	cmd := name[0]
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", false
	}
	return strings.ToLower(cmd), true
}

// classifyText fills Kind/Content/Metadata for a text event.
func classifyText(msg *bus.InboundMessage, text string) {
	msg.Content = text
	msg.Kind = bus.InboundText
	if cmd, ok := parseCommand(text); ok {
		msg.Kind = bus.InboundCommand
		if msg.Metadata == nil {
			msg.Metadata = map[string]string{}
		}
		msg.Metadata["command"] = cmd
	}
}
