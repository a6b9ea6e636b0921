package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/porter/internal/store"
)

// Store keeps sessions in a single JSON file, a flat object of user ID to
// thread ID. Every mutation rewrites the whole file atomically.
type Store struct {
	path string

	mu       sync.RWMutex
	sessions map[string]string
}

func New(path string) *Store {
	return &Store{path: path, sessions: make(map[string]string)}
}

func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("session file not found, starting empty", "path", s.path)
			return nil
		}
		return fmt.Errorf("read session file %s: %w", s.path, err)
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse session file %s: %w", s.path, err)
	}
	if m != nil {
		s.sessions = m
	}
	slog.Info("sessions loaded", "path", s.path, "count", len(s.sessions))
	return nil
}

func (s *Store) Get(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	threadID, ok := s.sessions[userID]
	return threadID, ok
}

func (s *Store) Put(ctx context.Context, userID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = threadID
	return s.persistLocked()
}

func (s *Store) Remove(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[userID]; !ok {
		return nil
	}
	delete(s.sessions, userID)
	return s.persistLocked()
}

func (s *Store) List() []store.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]store.Entry, 0, len(s.sessions))
	for userID, threadID := range s.sessions {
		entries = append(entries, store.Entry{UserID: userID, ThreadID: threadID})
	}
	store.SortEntries(entries)
	return entries
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) Close() error { return nil }

// persistLocked writes the full map to a temp file and renames it over the
// target, so a crash mid-write never leaves a torn file. Callers hold mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	cleanup = false
	return nil
}
