package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPutThenReloadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx := context.Background()

	s := New(path)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	bindings := map[string]string{
		"123456789012345678": "thread_aaa",
		"987654321098765432": "thread_bbb",
		"42":                 "thread_ccc",
	}
	for userID, threadID := range bindings {
		if err := s.Put(ctx, userID, threadID); err != nil {
			t.Fatalf("Put(%s) error = %v", userID, err)
		}
	}

	fresh := New(path)
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load() after rewrite error = %v", err)
	}
	if fresh.Len() != len(bindings) {
		t.Fatalf("Len() = %d, want %d", fresh.Len(), len(bindings))
	}
	for userID, want := range bindings {
		got, ok := fresh.Get(userID)
		if !ok || got != want {
			t.Errorf("Get(%s) = %q, %v, want %q, true", userID, got, ok, want)
		}
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope.json"))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestLoadMalformedFileErrorsButStaysUsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s := New(path)
	if err := s.Load(ctx); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
	if s.Len() != 0 {
		t.Errorf("Len() after failed load = %d, want 0", s.Len())
	}

	// The store must keep working after the bad load.
	if err := s.Put(ctx, "7", "thread_new"); err != nil {
		t.Fatalf("Put() after failed load error = %v", err)
	}
	if got, ok := s.Get("7"); !ok || got != "thread_new" {
		t.Errorf("Get(7) = %q, %v, want thread_new, true", got, ok)
	}
}

func TestRemoveDropsBinding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx := context.Background()

	s := New(path)
	if err := s.Put(ctx, "1", "thread_a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "2", "thread_b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, "1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(ctx, "absent"); err != nil {
		t.Fatalf("Remove(absent) error = %v, want nil", err)
	}

	fresh := New(path)
	if err := fresh.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := fresh.Get("1"); ok {
		t.Error("Get(1) found binding after Remove")
	}
	if got, ok := fresh.Get("2"); !ok || got != "thread_b" {
		t.Errorf("Get(2) = %q, %v, want thread_b, true", got, ok)
	}
}

func TestMemoryStaysAuthoritativeWhenPersistFails(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sessions.json")
	// A directory at the target path makes the rename step fail.
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}

	s := New(target)
	err := s.Put(context.Background(), "9", "thread_x")
	if err == nil {
		t.Fatal("Put() error = nil, want persist failure")
	}
	if got, ok := s.Get("9"); !ok || got != "thread_x" {
		t.Errorf("Get(9) after failed persist = %q, %v, want thread_x, true", got, ok)
	}
}

func TestListIsSortedByUserID(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sessions.json"))
	ctx := context.Background()
	for _, userID := range []string{"30", "10", "20"} {
		if err := s.Put(ctx, userID, "thread_"+userID); err != nil {
			t.Fatal(err)
		}
	}

	entries := s.List()
	want := []string{"10", "20", "30"}
	if len(entries) != len(want) {
		t.Fatalf("List() returned %d entries, want %d", len(entries), len(want))
	}
	for i, userID := range want {
		if entries[i].UserID != userID {
			t.Errorf("List()[%d].UserID = %q, want %q", i, entries[i].UserID, userID)
		}
	}
}
