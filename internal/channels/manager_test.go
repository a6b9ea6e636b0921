package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/porter/internal/bus"
)

type fakeChannel struct {
	name     string
	startErr error

	mu      sync.Mutex
	running bool
	sent    []bus.OutboundMessage
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeChannel) IsAllowed(string) bool { return true }

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// TestManagerStartStopAll verifies lifecycle fan-out to registered channels.
func TestManagerStartStopAll(t *testing.T) {
	m := NewManager(bus.NewMessageBus())
	dc := &fakeChannel{name: "discord"}
	tg := &fakeChannel{name: "telegram"}
	m.RegisterChannel("discord", dc)
	m.RegisterChannel("telegram", tg)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if !dc.IsRunning() || !tg.IsRunning() {
		t.Error("all registered channels should be running after StartAll")
	}

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if dc.IsRunning() || tg.IsRunning() {
		t.Error("channels should be stopped after StopAll")
	}
}

// TestManagerStartAllContinuesPastFailure verifies one channel failing to
// start does not prevent the others from starting.
func TestManagerStartAllContinuesPastFailure(t *testing.T) {
	m := NewManager(bus.NewMessageBus())
	bad := &fakeChannel{name: "discord", startErr: errors.New("bad token")}
	good := &fakeChannel{name: "telegram"}
	m.RegisterChannel("discord", bad)
	m.RegisterChannel("telegram", good)

	_ = m.StartAll(context.Background())
	defer m.StopAll(context.Background())

	if !good.IsRunning() {
		t.Error("healthy channel should start despite sibling failure")
	}
	if bad.IsRunning() {
		t.Error("failed channel must not report running")
	}
}

// TestManagerDispatchesOutbound verifies outbound bus messages reach the
// right channel.
func TestManagerDispatchesOutbound(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(b)
	dc := &fakeChannel{name: "discord"}
	m.RegisterChannel("discord", dc)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	defer m.StopAll(context.Background())

	b.PublishOutbound(bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "hi"})

	deadline := time.Now().Add(2 * time.Second)
	for dc.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if len(dc.sent) != 1 {
		t.Fatalf("channel received %d messages, want 1", len(dc.sent))
	}
	if dc.sent[0].Content != "hi" || dc.sent[0].ChatID != "c1" {
		t.Errorf("delivered message = %+v, want content %q in chat %q", dc.sent[0], "hi", "c1")
	}
}

// TestManagerSkipsInternalOutbound verifies cli/system traffic never reaches
// platform channels.
func TestManagerSkipsInternalOutbound(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(b)
	dc := &fakeChannel{name: "discord"}
	m.RegisterChannel("discord", dc)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	defer m.StopAll(context.Background())

	b.PublishOutbound(bus.OutboundMessage{Channel: "cli", ChatID: "c1", Content: "internal"})

	time.Sleep(50 * time.Millisecond)
	if n := dc.sentCount(); n != 0 {
		t.Errorf("internal outbound reached a platform channel %d times", n)
	}
}
