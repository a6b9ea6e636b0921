package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/store"
)

// CreateError reports a failure to establish a new remote thread, so callers
// can tell "could not start a conversation" apart from later run failures.
type CreateError struct {
	Err error
}

func (e *CreateError) Error() string { return fmt.Sprintf("create session: %v", e.Err) }
func (e *CreateError) Unwrap() error { return e.Err }

// Resolver maps chat users to assistant threads, creating threads on demand.
type Resolver struct {
	store store.SessionStore
	api   assistant.API
}

func NewResolver(st store.SessionStore, api assistant.API) *Resolver {
	return &Resolver{store: st, api: api}
}

// Resolve returns the thread for userID, creating a remote thread and
// persisting the binding when none exists yet. A remote creation failure is
// returned as *CreateError without retrying; a persistence failure is logged
// and tolerated because the in-memory binding stays authoritative.
func (r *Resolver) Resolve(ctx context.Context, userID string) (string, error) {
	if threadID, ok := r.store.Get(userID); ok {
		return threadID, nil
	}

	threadID, err := r.api.CreateThread(ctx)
	if err != nil {
		return "", &CreateError{Err: err}
	}

	if err := r.store.Put(ctx, userID, threadID); err != nil {
		slog.Error("session persist failed, continuing in memory", "user", userID, "thread", threadID, "error", err)
	}
	slog.Info("session created", "user", userID, "thread", threadID)
	return threadID, nil
}

// Invalidate drops the binding for userID and deletes the remote thread on a
// best-effort basis. The next Resolve for this user starts a fresh thread.
func (r *Resolver) Invalidate(ctx context.Context, userID, threadID string) {
	if err := r.store.Remove(ctx, userID); err != nil {
		slog.Error("session remove failed", "user", userID, "error", err)
	}
	if threadID != "" {
		if err := r.api.DeleteThread(ctx, threadID); err != nil {
			slog.Warn("remote thread delete failed", "thread", threadID, "error", err)
		}
	}
	slog.Info("session invalidated", "user", userID, "thread", threadID)
}
