package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/internal/store"
	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

// fakeAPI implements only the thread check; the sweep never touches the
// rest of the API surface.
type fakeAPI struct {
	assistant.API
	missing map[string]bool // threadID → deleted upstream
	flaky   map[string]bool // threadID → transient failure
}

func (f *fakeAPI) RetrieveThread(_ context.Context, threadID string) error {
	if f.flaky[threadID] {
		return errors.New("upstream timeout")
	}
	if f.missing[threadID] {
		return &assistant.HTTPError{Status: 404, Body: "thread not found"}
	}
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newFakeStore(sessions map[string]string) *fakeStore {
	return &fakeStore{sessions: sessions}
}

func (s *fakeStore) Load(context.Context) error { return nil }

func (s *fakeStore) Get(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[userID]
	return id, ok
}

func (s *fakeStore) Put(_ context.Context, userID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = threadID
	return nil
}

func (s *fakeStore) Remove(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *fakeStore) List() []store.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]store.Entry, 0, len(s.sessions))
	for u, t := range s.sessions {
		entries = append(entries, store.Entry{UserID: u, ThreadID: t})
	}
	store.SortEntries(entries)
	return entries
}

func (s *fakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *fakeStore) Close() error { return nil }

// TestSweepDropsDanglingSessions verifies sessions whose remote thread is
// gone are removed while live and transiently-failing ones survive.
func TestSweepDropsDanglingSessions(t *testing.T) {
	st := newFakeStore(map[string]string{
		"100": "thread_live",
		"200": "thread_gone",
		"300": "thread_flaky",
	})
	api := &fakeAPI{
		missing: map[string]bool{"thread_gone": true},
		flaky:   map[string]bool{"thread_flaky": true},
	}

	s := New(st, api, nil, "")
	s.Sweep(context.Background())

	if _, ok := st.Get("100"); !ok {
		t.Error("live session should survive the sweep")
	}
	if _, ok := st.Get("200"); ok {
		t.Error("dangling session should be dropped")
	}
	if _, ok := st.Get("300"); !ok {
		t.Error("transient API failure must not drop the session")
	}
}

// TestSweepBroadcastsInvalidation verifies dropped sessions emit an ops
// event.
func TestSweepBroadcastsInvalidation(t *testing.T) {
	st := newFakeStore(map[string]string{"200": "thread_gone"})
	api := &fakeAPI{missing: map[string]bool{"thread_gone": true}}

	b := bus.NewMessageBus()
	var mu sync.Mutex
	var names []string
	b.Subscribe("test", func(e bus.Event) {
		mu.Lock()
		names = append(names, e.Name)
		mu.Unlock()
	})

	s := New(st, api, b, "")
	s.Sweep(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 1 || names[0] != protocol.EventSessionInvalidated {
		t.Errorf("broadcast events = %v, want [%s]", names, protocol.EventSessionInvalidated)
	}
}

// countingAPI tracks how many thread checks run at once.
type countingAPI struct {
	assistant.API
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (c *countingAPI) RetrieveThread(context.Context, string) error {
	n := c.inFlight.Add(1)
	for {
		m := c.maxInFlight.Load()
		if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	c.calls.Add(1)
	c.inFlight.Add(-1)
	return nil
}

// TestSweepBoundsConcurrency verifies every session is checked while the
// verify phase stays within its worker limit.
func TestSweepBoundsConcurrency(t *testing.T) {
	sessions := map[string]string{}
	for i := 0; i < 32; i++ {
		sessions[fmt.Sprintf("u%02d", i)] = fmt.Sprintf("thread_%02d", i)
	}
	st := newFakeStore(sessions)

	api := &countingAPI{}
	s := New(st, api, nil, "")
	s.Sweep(context.Background())

	if got := api.calls.Load(); got != 32 {
		t.Errorf("threads checked = %d, want 32", got)
	}
	if got := api.maxInFlight.Load(); got > sweepConcurrency {
		t.Errorf("max in-flight checks = %d, want <= %d", got, sweepConcurrency)
	}
	if st.Len() != 32 {
		t.Errorf("store len = %d, want 32 (nothing should be dropped)", st.Len())
	}
}

// TestNewFallsBackOnBadSchedule verifies invalid cron expressions use the
// default schedule instead of failing.
func TestNewFallsBackOnBadSchedule(t *testing.T) {
	s := New(newFakeStore(nil), &fakeAPI{}, nil, "not a cron expr")
	if s.Schedule() != defaultSchedule {
		t.Errorf("schedule = %q, want default %q", s.Schedule(), defaultSchedule)
	}

	s = New(newFakeStore(nil), &fakeAPI{}, nil, "*/5 * * * *")
	if s.Schedule() != "*/5 * * * *" {
		t.Errorf("schedule = %q, want the valid expression kept", s.Schedule())
	}

	s.SetSchedule("0 fish * * *")
	if s.Schedule() != defaultSchedule {
		t.Errorf("schedule after bad reload = %q, want default %q", s.Schedule(), defaultSchedule)
	}
}
