package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/porter/internal/store"
)

// Store implements store.SessionStore backed by Postgres, with a
// write-through in-memory cache. The cache stays authoritative when a
// write fails.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]string
}

func New(db *sql.DB) *Store {
	return &Store{db: db, cache: make(map[string]string)}
}

func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string]string)

	rows, err := s.db.QueryContext(ctx, "SELECT user_id, thread_id FROM sessions")
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, threadID string
		if err := rows.Scan(&userID, &threadID); err != nil {
			return fmt.Errorf("scan session row: %w", err)
		}
		s.cache[userID] = threadID
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	slog.Info("sessions loaded", "backend", "postgres", "count", len(s.cache))
	return nil
}

func (s *Store) Get(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	threadID, ok := s.cache[userID]
	return threadID, ok
}

func (s *Store) Put(ctx context.Context, userID, threadID string) error {
	s.mu.Lock()
	s.cache[userID] = threadID
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, thread_id, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (user_id) DO UPDATE SET thread_id = EXCLUDED.thread_id, updated_at = now()`,
		uuid.Must(uuid.NewV7()), userID, threadID)
	if err != nil {
		return fmt.Errorf("persist session %s: %w", userID, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, userID string) error {
	s.mu.Lock()
	_, ok := s.cache[userID]
	delete(s.cache, userID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("delete session %s: %w", userID, err)
	}
	return nil
}

func (s *Store) List() []store.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]store.Entry, 0, len(s.cache))
	for userID, threadID := range s.cache {
		entries = append(entries, store.Entry{UserID: userID, ThreadID: threadID})
	}
	store.SortEntries(entries)
	return entries
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Store) Close() error { return s.db.Close() }
