package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

const botID = "111222333444555666"

// TestStripMentions verifies that both mention forms of the bot are removed
// from message content while other mentions survive.
func TestStripMentions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "plain mention",
			content: "<@" + botID + "> what time is it?",
			want:    " what time is it?",
		},
		{
			name:    "nickname mention",
			content: "<@!" + botID + "> hello",
			want:    " hello",
		},
		{
			name:    "mention mid-sentence",
			content: "hey <@" + botID + "> are you there",
			want:    "hey  are you there",
		},
		{
			name:    "other user mention kept",
			content: "<@" + botID + "> ask <@999888777666555444> too",
			want:    " ask <@999888777666555444> too",
		},
		{
			name:    "no mention",
			content: "just text",
			want:    "just text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripMentions(tt.content, botID)
			if got != tt.want {
				t.Errorf("stripMentions(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

// TestMentionsUser verifies mention detection against the explicit mention
// list rather than raw content matching.
func TestMentionsUser(t *testing.T) {
	tests := []struct {
		name     string
		mentions []*discordgo.User
		want     bool
	}{
		{
			name:     "bot mentioned",
			mentions: []*discordgo.User{{ID: botID}},
			want:     true,
		},
		{
			name:     "bot among others",
			mentions: []*discordgo.User{{ID: "42"}, {ID: botID}},
			want:     true,
		},
		{
			name:     "only others mentioned",
			mentions: []*discordgo.User{{ID: "42"}},
			want:     false,
		},
		{
			name:     "no mentions",
			mentions: nil,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &discordgo.MessageCreate{Message: &discordgo.Message{Mentions: tt.mentions}}
			if got := mentionsUser(m, botID); got != tt.want {
				t.Errorf("mentionsUser() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestResolveDisplayName verifies the nickname > global name > username
// priority order.
func TestResolveDisplayName(t *testing.T) {
	tests := []struct {
		name   string
		member *discordgo.Member
		author *discordgo.User
		want   string
	}{
		{
			name:   "server nickname wins",
			member: &discordgo.Member{Nick: "ops-team"},
			author: &discordgo.User{Username: "alice", GlobalName: "Alice A"},
			want:   "ops-team",
		},
		{
			name:   "global name when no nickname",
			member: &discordgo.Member{},
			author: &discordgo.User{Username: "alice", GlobalName: "Alice A"},
			want:   "Alice A",
		},
		{
			name:   "username fallback",
			author: &discordgo.User{Username: "alice"},
			want:   "alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &discordgo.MessageCreate{Message: &discordgo.Message{
				Member: tt.member,
				Author: tt.author,
			}}
			if got := resolveDisplayName(m); got != tt.want {
				t.Errorf("resolveDisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}
