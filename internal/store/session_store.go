package store

import (
	"context"
	"sort"
)

// Entry is one user-to-thread binding.
type Entry struct {
	UserID   string `json:"userId"`
	ThreadID string `json:"threadId"`
}

// SessionStore persists the mapping from chat users to assistant threads.
// Implementations keep an in-memory copy that stays authoritative even when
// a persistence write fails; callers log the error and keep serving.
type SessionStore interface {
	// Load hydrates the in-memory state from the backing medium. A missing
	// backing file or empty table is not an error. On a corrupt backing
	// medium Load returns the error and leaves the store empty but usable.
	Load(ctx context.Context) error

	// Get returns the thread bound to userID, if any.
	Get(userID string) (string, bool)

	// Put binds userID to threadID and persists the change.
	Put(ctx context.Context, userID, threadID string) error

	// Remove drops the binding for userID and persists the change. Removing
	// an absent key is a no-op.
	Remove(ctx context.Context, userID string) error

	// List returns a snapshot of all bindings, sorted by user ID.
	List() []Entry

	// Len reports the number of bindings.
	Len() int

	// Close releases backing resources.
	Close() error
}

// SortEntries orders entries by user ID for stable listings.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
}
