package bus

import "context"

// InboundMessage represents a message received from a channel (Discord, Telegram).
type InboundMessage struct {
	Channel     string            `json:"channel"`
	SenderID    string            `json:"sender_id"`              // compound "id|username" for allowlist matching
	UserID      string            `json:"user_id"`                // stable external user identity (session key)
	ChatID      string            `json:"chat_id"`                // where the reply goes
	Content     string            `json:"content"`                // effective text, address tokens stripped
	PeerKind    string            `json:"peer_kind,omitempty"`    // "direct" or "group"
	ReplyPrefix string            `json:"reply_prefix,omitempty"` // prepended to replies in shared channels (user mention)
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// Event represents a server-side event broadcast to ops WebSocket clients.
type Event struct {
	Name    string      `json:"name"` // protocol.Event* constants
	Payload interface{} `json:"payload,omitempty"`
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the ops gateway and the runner to decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between channels
// and the consumer loop.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
