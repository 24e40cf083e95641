package bus

// InboundKind classifies an incoming chat event.
type InboundKind string

const (
	InboundText    InboundKind = "text"
	InboundVoice   InboundKind = "voice"
	InboundCommand InboundKind = "command"
)

// InboundMessage is a chat event normalized by a channel adapter.
type InboundMessage struct {
	Channel  string
	EventID  string
	SenderID string
	// SenderName is the display name used in persona prompts; may be empty.
	SenderName string
	ChatID     string
	// Business marks messages proxied through a connected business account.
	// Replies to them must carry BusinessConnectionID.
	Business             bool
	BusinessConnectionID string
	MessageID            string
	Kind                 InboundKind
	// Content holds message text. For commands it is the full text and
	// Metadata["command"] holds the lowercased command name.
	Content  string
	Audio    []byte
	AudioExt string
	Metadata map[string]string
}

// Private reports whether the event arrived in a direct chat with the bot.
func (m InboundMessage) Private() bool {
	return !m.Business
}

// Command returns the command name for command events, or "".
func (m InboundMessage) Command() string {
	if m.Kind != InboundCommand || m.Metadata == nil {
		return ""
	}
	return m.Metadata["command"]
}

type OutboundKind string

const (
	OutboundText        OutboundKind = "text"
	OutboundVoice       OutboundKind = "voice"
	OutboundTyping      OutboundKind = "typing"
	OutboundRecordVoice OutboundKind = "record_voice"
	OutboundStopTyping  OutboundKind = "stop_typing"
)

type OutboundMessage struct {
	Channel              string
	ChatID               string
	BusinessConnectionID string
	ReplyTo              string
	Kind                 OutboundKind
	Content              string
	Audio                []byte
	AudioContentType     string
	// Standalone marks a text or voice send with no typing or record_voice
	// event before it. Adapters leave the chat's indicator session alone.
	Standalone bool
}

// ReplyTo builds an outbound message addressed to the chat an inbound event came from.
func ReplyTo(in InboundMessage, kind OutboundKind, content string) OutboundMessage {
	return OutboundMessage{
		Channel:              in.Channel,
		ChatID:               in.ChatID,
		BusinessConnectionID: in.BusinessConnectionID,
		Kind:                 kind,
		Content:              content,
	}
}
