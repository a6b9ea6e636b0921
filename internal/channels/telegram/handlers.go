package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/porter/internal/channels"
	"github.com/nextlevelbuilder/porter/internal/channels/typing"
	"github.com/nextlevelbuilder/porter/internal/sessions"
)

// handleMessage processes an incoming Telegram update.
func (c *Channel) handleMessage(ctx context.Context, update telego.Update) {
	message := update.Message
	if message == nil {
		return
	}

	// Skip service messages (member added/removed, title changed, etc.).
	// These have no text/caption and no meaningful media — processing them
	// pollutes the mention gate with empty entries.
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped",
			"chat_id", message.Chat.ID,
			"new_members", len(message.NewChatMembers),
			"left_member", message.LeftChatMember != nil,
		)
		return
	}

	user := message.From
	if user == nil || user.IsBot {
		return
	}

	senderID := sessions.FormatSender(fmt.Sprintf("%d", user.ID), user.Username)
	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"
	peerKind := string(sessions.PeerKindFromGroup(isGroup))

	chatID := message.Chat.ID
	chatIDStr := fmt.Sprintf("%d", chatID)

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"chat_id", chatID,
		"user_id", user.ID,
		"username", user.Username,
		"text_preview", channels.Truncate(message.Text, 60),
	)

	if !c.CheckPolicy(peerKind, c.config.DMPolicy, c.config.GroupPolicy, senderID) {
		slog.Debug("telegram message rejected by policy",
			"user_id", user.ID,
			"username", user.Username,
			"chat_type", message.Chat.Type,
		)
		return
	}

	// Extract text content. Text messages carry Text; photo/media messages
	// carry Caption instead.
	content := ""
	if message.Text != "" {
		content += message.Text
	}
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	// Handle bot commands (/start, /help, /reset, /status). Commands work in
	// groups without an explicit mention; clients send them as /cmd@botname.
	if c.handleBotCommand(ctx, chatID, chatIDStr, content, senderID, peerKind) {
		return
	}

	// Group messages must address the bot explicitly; everything else in a
	// shared chat is other people's conversation.
	if isGroup && c.requireMention.Load() {
		if !c.detectMention(message, c.bot.Username()) {
			return
		}
		content = strings.ReplaceAll(content, "@"+c.bot.Username(), "")
	}
	content = strings.TrimSpace(content)

	replyPrefix := ""
	if isGroup {
		replyPrefix = user.FirstName
		if user.Username != "" {
			replyPrefix = "@" + user.Username
		}
	}

	// Keep the typing indicator alive while the reply is produced. Telegram
	// expires a chat action after ~5s; the TTL outlasts the 120s run budget.
	typingCtrl := typing.New(typing.Options{
		MaxDuration:       125 * time.Second,
		KeepaliveInterval: 4 * time.Second,
		StartFn: func() error {
			return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
		},
	})
	if prev, ok := c.typingCtrls.Load(chatIDStr); ok {
		prev.(*typing.Controller).Stop()
	}
	c.typingCtrls.Store(chatIDStr, typingCtrl)
	typingCtrl.Start()

	metadata := map[string]string{
		"message_id": fmt.Sprintf("%d", message.MessageID),
		"username":   user.Username,
		"first_name": user.FirstName,
	}

	c.HandleMessage(senderID, chatIDStr, content, peerKind, replyPrefix, metadata)
}

// detectMention checks if a Telegram message mentions the bot.
// Checks both msg.Text/Entities (text messages) and msg.Caption/CaptionEntities
// (photo/media messages).
func (c *Channel) detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	lowerBot := strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, entity := range pair.entities {
			if entity.Type == "mention" {
				mentioned := pair.text[entity.Offset : entity.Offset+entity.Length]
				if strings.EqualFold(mentioned, "@"+botUsername) {
					return true
				}
			}
			if entity.Type == "bot_command" {
				cmdText := pair.text[entity.Offset : entity.Offset+entity.Length]
				if strings.Contains(strings.ToLower(cmdText), "@"+lowerBot) {
					return true
				}
			}
		}
	}

	// Fallback: substring check in both text and caption
	if msg.Text != "" && strings.Contains(strings.ToLower(msg.Text), "@"+lowerBot) {
		return true
	}
	if msg.Caption != "" && strings.Contains(strings.ToLower(msg.Caption), "@"+lowerBot) {
		return true
	}

	// Reply to bot's message = implicit mention
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		if msg.ReplyToMessage.From.Username == botUsername {
			return true
		}
	}

	return false
}

// isServiceMessage returns true if the Telegram message is a service/system
// message (member added/removed, title changed, pinned, etc.) rather than a
// user-sent message.
func isServiceMessage(msg *telego.Message) bool {
	// Has text or caption → user message
	if msg.Text != "" || msg.Caption != "" {
		return false
	}

	// Has media → user message (photo, audio, video, document, sticker, etc.)
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}

	// No user content — likely a service message (new_chat_members,
	// left_chat_member, new_chat_title, pinned_message, etc.)
	return true
}
