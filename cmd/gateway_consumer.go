package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/internal/channels"
	"github.com/nextlevelbuilder/porter/internal/config"
	"github.com/nextlevelbuilder/porter/internal/runner"
	"github.com/nextlevelbuilder/porter/internal/sessions"
	"github.com/nextlevelbuilder/porter/internal/store"
	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

const (
	dedupeTTL     = 20 * time.Minute
	dedupeMaxKeys = 5000
)

// consumeInbound is the relay loop: one message at a time, in arrival order.
// Serial dispatch keeps replies ordered per chat; the per-user lock pins the
// resolve-then-run sequence to one holder even if dispatch ever fans out.
func consumeInbound(ctx context.Context, msgBus *bus.MessageBus, cfg *config.Config, st store.SessionStore, resolver *sessions.Resolver, run *runner.Runner) {
	slog.Info("message consumer started")

	dedupe := bus.NewDedupeCache(dedupeTTL, dedupeMaxKeys)
	locks := sessions.NewUserLocks()

	var limiter *channels.UserRateLimiter
	if cfg.Channels.RateLimitRPM > 0 {
		limiter = channels.NewUserRateLimiter(cfg.Channels.RateLimitRPM)
	}

	reply := func(msg bus.InboundMessage, text string) {
		if msg.ReplyPrefix != "" {
			text = msg.ReplyPrefix + " " + text
		}
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: text,
		})
	}

	processMessage := func(msg bus.InboundMessage, corrID string) {
		unlock := locks.Lock(msg.UserID)
		defer unlock()

		_, existed := st.Get(msg.UserID)

		threadID, err := resolver.Resolve(ctx, msg.UserID)
		if err != nil {
			slog.Error("session resolve failed", "corr_id", corrID, "user", msg.UserID, "error", err)
			reply(msg, replyForError(err))
			return
		}
		if !existed {
			msgBus.Broadcast(bus.Event{
				Name:    protocol.EventSessionCreated,
				Payload: protocol.SessionPayload{UserID: msg.UserID, ThreadID: threadID},
			})
		}

		answer, err := run.Execute(ctx, threadID, msg.Content)
		if errors.Is(err, runner.ErrEmptyReply) {
			// The thread completed a run but yielded no readable reply; it is
			// not going to get better, so bind the user to a fresh one.
			resolver.Invalidate(ctx, msg.UserID, threadID)
			msgBus.Broadcast(bus.Event{
				Name:    protocol.EventSessionInvalidated,
				Payload: protocol.SessionPayload{UserID: msg.UserID, ThreadID: threadID},
			})
			reply(msg, "I seemed to have trouble retrieving the last response, so I've reset our conversation context. Please try sending your message again!")
			return
		}
		if err != nil {
			slog.Error("run failed", "corr_id", corrID, "user", msg.UserID, "thread", threadID, "error", err)
			reply(msg, replyForError(err))
			return
		}

		reply(msg, answer)
	}

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("message consumer stopped")
			return
		}

		corrID := uuid.NewString()[:8]

		if mid := msg.Metadata["message_id"]; mid != "" {
			key := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.SenderID, msg.ChatID, mid)
			if dedupe.Seen(key) {
				slog.Debug("duplicate message skipped",
					"corr_id", corrID, "channel", msg.Channel, "message_id", mid)
				continue
			}
		}

		slog.Info("message received",
			"corr_id", corrID,
			"channel", msg.Channel,
			"user", msg.UserID,
			"peer_kind", msg.PeerKind,
			"chars", len(msg.Content),
		)

		if msg.Metadata["command"] == "reset" {
			threadID, ok := st.Get(msg.UserID)
			if !ok {
				slog.Debug("reset with no session", "corr_id", corrID, "user", msg.UserID)
				continue
			}
			resolver.Invalidate(ctx, msg.UserID, threadID)
			msgBus.Broadcast(bus.Event{
				Name:    protocol.EventSessionInvalidated,
				Payload: protocol.SessionPayload{UserID: msg.UserID, ThreadID: threadID},
			})
			continue
		}

		// A bare mention or stripped-to-nothing message has no question in it.
		if msg.Content == "" {
			text := "Hi, did you need something?"
			if msg.ReplyPrefix != "" {
				text = fmt.Sprintf("Hi %s, did you need something?", msg.ReplyPrefix)
			}
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: text,
			})
			continue
		}

		if limiter != nil && !limiter.Allow(msg.UserID) {
			slog.Warn("sender rate limited", "corr_id", corrID, "channel", msg.Channel, "user", msg.UserID)
			reply(msg, "You're sending messages too quickly. Please wait a moment before trying again.")
			continue
		}

		processMessage(msg, corrID)
	}
}

// replyForError maps a relay failure to the text the user sees. The rate
// limit case is matched before the generic HTTP class because a 429 is both.
func replyForError(err error) string {
	var createErr *sessions.CreateError
	var runFailed *runner.RunFailedError
	var unhandled *runner.UnhandledStatusError
	var httpErr *assistant.HTTPError

	switch {
	case errors.As(err, &createErr):
		return "Sorry, I couldn't initiate our conversation context. Please try again later."
	case errors.Is(err, runner.ErrTimeout):
		return "Sorry, the request took too long to process. Please try again."
	case errors.Is(err, runner.ErrRequiresAction):
		return "Sorry, I need to perform an action I can't do right now."
	case errors.As(err, &runFailed):
		if runFailed.Code != "" {
			return fmt.Sprintf("Sorry, something went wrong while processing. (Error code: %s)", runFailed.Code)
		}
		return "Sorry, something went wrong while processing."
	case errors.As(err, &unhandled):
		return fmt.Sprintf("Sorry, the processing ended unexpectedly. (Status: %s)", unhandled.Status)
	case assistant.IsRateLimited(err):
		return "I'm experiencing high demand right now. Please wait a moment and try again."
	case errors.As(err, &httpErr):
		return "There was an issue communicating with the AI service. Please try again later."
	default:
		return "Sorry, I encountered an unexpected error trying to process that."
	}
}
