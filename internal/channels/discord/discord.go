package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/internal/channels"
	"github.com/nextlevelbuilder/porter/internal/channels/typing"
	"github.com/nextlevelbuilder/porter/internal/config"
	"github.com/nextlevelbuilder/porter/internal/sessions"
)

const (
	// messageLimit is Discord's hard cap per message; replies over it are
	// split into chunkSize pieces with a short pause between sends.
	messageLimit = 2000
	chunkSize    = 1990
	chunkDelay   = 500 * time.Millisecond
)

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session        *discordgo.Session
	config         config.DiscordConfig
	botUserID      string      // populated on start
	requireMention atomic.Bool // require @bot mention in guild channels (default true)
	typingCtrls    sync.Map    // channelID string → *typing.Controller
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	base := channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom)
	base.ValidatePolicy(cfg.DMPolicy, cfg.GroupPolicy)

	c := &Channel{
		BaseChannel: base,
		session:     session,
		config:      cfg,
	}
	c.requireMention.Store(cfg.RequireMention == nil || *cfg.RequireMention)
	return c, nil
}

// SetRequireMention toggles the guild mention gate. Used by config hot-reload.
func (c *Channel) SetRequireMention(require bool) {
	c.requireMention.Store(require)
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers an outbound message to a Discord channel, splitting replies
// over the platform limit into ordered chunks.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	if ctrl, ok := c.typingCtrls.LoadAndDelete(channelID); ok {
		ctrl.(*typing.Controller).Stop()
	}

	if msg.Content == "" {
		return nil
	}

	chunks := channels.Chunk(msg.Content, messageLimit, chunkSize)
	for i, chunk := range chunks {
		if i > 0 {
			time.Sleep(chunkDelay)
		}
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore the bot's own messages and other bots
	if m.Author == nil || m.Author.ID == c.botUserID {
		return
	}
	if m.Author.Bot {
		return
	}

	senderID := sessions.FormatSender(m.Author.ID, m.Author.Username)
	isDM := m.GuildID == ""
	peerKind := string(sessions.PeerKindFromGroup(!isDM))

	if !c.CheckPolicy(peerKind, c.config.DMPolicy, c.config.GroupPolicy, senderID) {
		slog.Debug("discord message rejected by policy",
			"user_id", m.Author.ID,
			"username", m.Author.Username,
			"is_dm", isDM,
		)
		return
	}

	// Guild messages must address the bot explicitly; everything else in a
	// shared channel is other people's conversation.
	if !isDM && c.requireMention.Load() && !mentionsUser(m, c.botUserID) {
		return
	}

	content := strings.TrimSpace(stripMentions(m.Content, c.botUserID))

	replyPrefix := ""
	if !isDM {
		replyPrefix = m.Author.Mention()
	}

	slog.Debug("discord message received",
		"sender_id", m.Author.ID,
		"channel_id", m.ChannelID,
		"is_dm", isDM,
		"preview", channels.Truncate(content, 50),
	)

	metadata := map[string]string{
		"message_id":   m.ID,
		"username":     m.Author.Username,
		"display_name": resolveDisplayName(m),
		"guild_id":     m.GuildID,
	}

	if content == "!reset" {
		metadata["command"] = "reset"
		c.HandleMessage(senderID, m.ChannelID, content, peerKind, replyPrefix, metadata)
		if _, err := c.session.ChannelMessageSend(m.ChannelID, "Conversation history has been reset."); err != nil {
			slog.Warn("discord reset confirmation failed", "channel_id", m.ChannelID, "error", err)
		}
		return
	}

	// Keep the typing indicator alive while the reply is produced. Discord
	// expires it after 10s; the TTL outlasts the 120s run budget.
	typingCtrl := typing.New(typing.Options{
		MaxDuration:       125 * time.Second,
		KeepaliveInterval: 9 * time.Second,
		StartFn: func() error {
			return c.session.ChannelTyping(m.ChannelID)
		},
	})
	if prev, ok := c.typingCtrls.Load(m.ChannelID); ok {
		prev.(*typing.Controller).Stop()
	}
	c.typingCtrls.Store(m.ChannelID, typingCtrl)
	typingCtrl.Start()

	c.HandleMessage(senderID, m.ChannelID, content, peerKind, replyPrefix, metadata)
}

// mentionsUser reports whether the message explicitly mentions the given user.
func mentionsUser(m *discordgo.MessageCreate, userID string) bool {
	for _, u := range m.Mentions {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// stripMentions removes both mention forms of the bot from the content,
// leaving the effective message text.
func stripMentions(content, botUserID string) string {
	content = strings.ReplaceAll(content, "<@"+botUserID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botUserID+">", "")
	return content
}

// resolveDisplayName returns the best available display name for a Discord
// message author. Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
