package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/porter/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id    TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Store keeps sessions in a local SQLite database with a write-through
// in-memory cache. The cache stays authoritative when a write fails.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]string
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver serializes writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	return &Store{db: db, cache: make(map[string]string)}, nil
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
	slog.Info("sessions loaded", "backend", "sqlite", "count", len(s.cache))
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
		`INSERT INTO sessions (user_id, thread_id) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET thread_id = excluded.thread_id, updated_at = CURRENT_TIMESTAMP`,
		userID, threadID)
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

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
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
