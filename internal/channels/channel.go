// Package channels provides the channel abstraction layer for multi-platform
// messaging. Channels connect external platforms (Discord, Telegram) to the
// relay loop via the message bus.
//
// Each channel classifies incoming traffic as DM or shared-channel, applies
// its access policy, strips addressing tokens, and publishes a normalized
// InboundMessage. Outbound replies come back through the bus and are chunked
// to the platform's message length limit.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/internal/sessions"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":    true,
	"system": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// GroupPolicy controls how shared-channel messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist" // Only whitelisted senders
	GroupPolicyDisabled  GroupPolicy = "disabled"  // No group messages
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running bool

	mu        sync.RWMutex
	allowList []string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// SetAllowList replaces the allowlist. Used by config hot-reload; takes
// effect on the next message.
func (c *BaseChannel) SetAllowList(allowList []string) {
	c.mu.Lock()
	c.allowList = allowList
	c.mu.Unlock()
}

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	c.mu.RLock()
	allowList := c.allowList
	c.mu.RUnlock()

	if len(allowList) == 0 {
		return true
	}

	idPart := sessions.SenderUserID(senderID)
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		userPart = senderID[idx+1:]
	}

	for _, allowed := range allowList {
		// Strip leading "@" from allowed value for username matching
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		// Support either side using "id|username" compound form.
		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// ValidatePolicy warns about unknown policy values so typos in config fail
// loud instead of silently falling back to defaults.
func (c *BaseChannel) ValidatePolicy(dmPolicy, groupPolicy string) {
	switch dmPolicy {
	case "", "open", "allowlist", "disabled":
	default:
		slog.Warn("unknown dm_policy, treating as open", "channel", c.name, "policy", dmPolicy)
	}
	switch groupPolicy {
	case "", "open", "allowlist", "disabled":
	default:
		slog.Warn("unknown group_policy, treating as open", "channel", c.name, "policy", groupPolicy)
	}
}

// CheckPolicy evaluates DM/Group policy for a message.
// Returns true if the message should be accepted, false if rejected.
// peerKind is "direct" or "group".
// dmPolicy/groupPolicy: "open" (default), "allowlist", "disabled".
func (c *BaseChannel) CheckPolicy(peerKind, dmPolicy, groupPolicy, senderID string) bool {
	policy := dmPolicy
	if peerKind == string(sessions.PeerGroup) {
		policy = groupPolicy
	}
	if policy == "" {
		policy = "open"
	}

	switch policy {
	case "disabled":
		return false
	case "allowlist":
		return c.IsAllowed(senderID)
	default: // "open"
		return true
	}
}

// HandleMessage creates an InboundMessage and publishes it to the bus.
// This is the standard way for channels to forward received messages.
// peerKind should be "direct" or "group" (see sessions.PeerDirect,
// sessions.PeerGroup); replyPrefix is prepended to replies in shared
// channels so the addressed user gets pinged.
func (c *BaseChannel) HandleMessage(senderID, chatID, content, peerKind, replyPrefix string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}

	msg := bus.InboundMessage{
		Channel:     c.name,
		SenderID:    senderID,
		UserID:      sessions.SenderUserID(senderID),
		ChatID:      chatID,
		Content:     content,
		PeerKind:    peerKind,
		ReplyPrefix: replyPrefix,
		Metadata:    metadata,
	}

	c.bus.PublishInbound(msg)
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
