// Package sessions binds chat users to remote assistant threads.
//
// Users are keyed by their platform user ID, kept as an opaque string so
// numeric IDs survive round-trips through JSON untouched. Sender labels
// carry a display name alongside the ID for logs:
//
//	{userId}|{username}
//
// Examples:
//
//	386246614|alice
//	123456789012345678|bob
package sessions

import "strings"

// PeerKind distinguishes DM from shared-channel conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}

// FormatSender builds the "{userId}|{username}" sender label. With no
// username the bare ID is returned.
func FormatSender(userID, username string) string {
	if username == "" {
		return userID
	}
	return userID + "|" + username
}

// SenderUserID extracts the user ID from a sender label.
func SenderUserID(sender string) string {
	if id, _, ok := strings.Cut(sender, "|"); ok {
		return id
	}
	return sender
}

// SenderName extracts the username from a sender label, falling back to the
// ID when no username is present.
func SenderName(sender string) string {
	if _, name, ok := strings.Cut(sender, "|"); ok && name != "" {
		return name
	}
	return sender
}
