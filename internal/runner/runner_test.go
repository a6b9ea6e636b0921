package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

type fakeAPI struct {
	mu           sync.Mutex
	createStatus string
	statuses     []string // consumed by successive GetRun calls; last repeats
	statusIdx    int
	messages     []assistant.Message
	posted       []string
	cancelled    int
	getCalls     int
	listErr      error
}

func (f *fakeAPI) CreateThread(ctx context.Context) (string, error) { return "thread_1", nil }
func (f *fakeAPI) DeleteThread(ctx context.Context, threadID string) error {
	return nil
}
func (f *fakeAPI) RetrieveThread(ctx context.Context, threadID string) error { return nil }

func (f *fakeAPI) PostMessage(ctx context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, text)
	return nil
}

func (f *fakeAPI) CreateRun(ctx context.Context, threadID, assistantID string) (*assistant.Run, error) {
	status := f.createStatus
	if status == "" {
		status = assistant.StatusQueued
	}
	return &assistant.Run{ID: "run_1", ThreadID: threadID, Status: status}, nil
}

func (f *fakeAPI) GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	status := assistant.StatusInProgress
	if len(f.statuses) > 0 {
		if f.statusIdx >= len(f.statuses) {
			status = f.statuses[len(f.statuses)-1]
		} else {
			status = f.statuses[f.statusIdx]
			f.statusIdx++
		}
	}
	run := &assistant.Run{ID: runID, ThreadID: threadID, Status: status}
	if status == assistant.StatusFailed {
		run.LastError = &assistant.RunError{Code: "rate_limit_exceeded", Message: "quota hit"}
	}
	return run, nil
}

func (f *fakeAPI) CancelRun(ctx context.Context, threadID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, threadID string) ([]assistant.Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.messages, nil
}

func (f *fakeAPI) ValidateAssistant(ctx context.Context, assistantID string) (string, error) {
	return "fake", nil
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func textMsg(id, role, runID string, texts ...string) assistant.Message {
	msg := assistant.Message{ID: id, Role: role, RunID: runID}
	for _, txt := range texts {
		msg.Content = append(msg.Content, assistant.ContentPart{
			Type: "text",
			Text: &assistant.TextPart{Value: txt},
		})
	}
	return msg
}

func newTestRunner(api *fakeAPI, clock *fakeClock, events bus.EventPublisher) *Runner {
	return New(Config{
		API:         api,
		AssistantID: "asst_test",
		Events:      events,
		Now:         clock.Now,
		Sleep:       clock.Sleep,
	})
}

func TestExecuteReturnsJoinedReply(t *testing.T) {
	api := &fakeAPI{
		createStatus: assistant.StatusQueued,
		statuses:     []string{assistant.StatusInProgress, assistant.StatusCompleted},
		messages: []assistant.Message{
			textMsg("msg_1", "user", "", "hello"),
			textMsg("msg_2", "assistant", "run_0", "earlier reply"),
			textMsg("msg_3", "user", "", "tell me more"),
			textMsg("msg_4", "assistant", "run_1", "first part"),
			textMsg("msg_5", "assistant", "run_other", "foreign run output"),
			textMsg("msg_6", "assistant", "run_1", "second part"),
		},
	}
	clock := newFakeClock()

	r := newTestRunner(api, clock, nil)
	reply, err := r.Execute(context.Background(), "thread_1", "tell me more")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := "first part\nsecond part"
	if reply != want {
		t.Errorf("Execute() = %q, want %q", reply, want)
	}
	if len(api.posted) != 1 || api.posted[0] != "tell me more" {
		t.Errorf("posted messages = %v, want [tell me more]", api.posted)
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("polled %d times, want 2", len(clock.sleeps))
	}
	for i, d := range clock.sleeps {
		if d != 1500*time.Millisecond {
			t.Errorf("sleep[%d] = %s, want 1.5s", i, d)
		}
	}
}

func TestExecuteTimesOutAndCancels(t *testing.T) {
	api := &fakeAPI{createStatus: assistant.StatusInProgress}
	clock := newFakeClock()

	r := newTestRunner(api, clock, nil)
	_, err := r.Execute(context.Background(), "thread_1", "hi")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	if api.cancelled != 1 {
		t.Errorf("CancelRun called %d times, want 1", api.cancelled)
	}
	// 120s budget at 1.5s per poll.
	if len(clock.sleeps) != 80 {
		t.Errorf("polled %d times before timeout, want 80", len(clock.sleeps))
	}
}

func TestExecuteReportsRequiresAction(t *testing.T) {
	api := &fakeAPI{
		createStatus: assistant.StatusQueued,
		statuses:     []string{assistant.StatusRequiresAction},
	}
	r := newTestRunner(api, newFakeClock(), nil)

	_, err := r.Execute(context.Background(), "thread_1", "hi")
	if !errors.Is(err, ErrRequiresAction) {
		t.Errorf("Execute() error = %v, want ErrRequiresAction", err)
	}
	if api.cancelled != 0 {
		t.Errorf("CancelRun called %d times, want 0", api.cancelled)
	}
}

func TestExecuteSurfacesRunFailure(t *testing.T) {
	api := &fakeAPI{
		createStatus: assistant.StatusQueued,
		statuses:     []string{assistant.StatusFailed},
	}
	r := newTestRunner(api, newFakeClock(), nil)

	_, err := r.Execute(context.Background(), "thread_1", "hi")
	var ferr *RunFailedError
	if !errors.As(err, &ferr) {
		t.Fatalf("Execute() error = %v, want *RunFailedError", err)
	}
	if ferr.Code != "rate_limit_exceeded" || ferr.Message != "quota hit" {
		t.Errorf("RunFailedError = %q/%q, want rate_limit_exceeded/quota hit", ferr.Code, ferr.Message)
	}
}

func TestExecuteSurfacesUnhandledStatus(t *testing.T) {
	api := &fakeAPI{
		createStatus: assistant.StatusQueued,
		statuses:     []string{assistant.StatusExpired},
	}
	r := newTestRunner(api, newFakeClock(), nil)

	_, err := r.Execute(context.Background(), "thread_1", "hi")
	var serr *UnhandledStatusError
	if !errors.As(err, &serr) {
		t.Fatalf("Execute() error = %v, want *UnhandledStatusError", err)
	}
	if serr.Status != assistant.StatusExpired {
		t.Errorf("UnhandledStatusError.Status = %q, want %q", serr.Status, assistant.StatusExpired)
	}
}

func TestExecuteCompletedWithNoTextIsEmptyReply(t *testing.T) {
	api := &fakeAPI{
		createStatus: assistant.StatusCompleted,
		messages: []assistant.Message{
			textMsg("msg_1", "user", "", "hi"),
		},
	}
	r := newTestRunner(api, newFakeClock(), nil)

	_, err := r.Execute(context.Background(), "thread_1", "hi")
	if !errors.Is(err, ErrEmptyReply) {
		t.Errorf("Execute() error = %v, want ErrEmptyReply", err)
	}
}

func TestExecuteSkipsNonTextSegments(t *testing.T) {
	imageMsg := assistant.Message{
		ID: "msg_2", Role: "assistant", RunID: "run_1",
		Content: []assistant.ContentPart{
			{Type: "image_file"},
			{Type: "text", Text: &assistant.TextPart{Value: "caption"}},
		},
	}
	api := &fakeAPI{
		createStatus: assistant.StatusCompleted,
		messages: []assistant.Message{
			textMsg("msg_1", "user", "", "hi"),
			imageMsg,
		},
	}
	r := newTestRunner(api, newFakeClock(), nil)

	reply, err := r.Execute(context.Background(), "thread_1", "hi")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if reply != "caption" {
		t.Errorf("Execute() = %q, want %q", reply, "caption")
	}
}

func TestExecuteCancelsWhenContextDies(t *testing.T) {
	api := &fakeAPI{createStatus: assistant.StatusInProgress}
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(api, clock, nil)
	_, err := r.Execute(ctx, "thread_1", "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if api.cancelled != 1 {
		t.Errorf("CancelRun called %d times, want 1", api.cancelled)
	}
}

func TestExecuteBroadcastsLifecycleEvents(t *testing.T) {
	api := &fakeAPI{
		createStatus: assistant.StatusCompleted,
		messages: []assistant.Message{
			textMsg("msg_1", "user", "", "hi"),
			textMsg("msg_2", "assistant", "run_1", "hello"),
		},
	}
	mb := bus.NewMessageBus()
	var mu sync.Mutex
	var names []string
	mb.Subscribe("test", func(ev bus.Event) {
		mu.Lock()
		names = append(names, ev.Name)
		mu.Unlock()
	})

	r := newTestRunner(api, newFakeClock(), mb)
	if _, err := r.Execute(context.Background(), "thread_1", "hi"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{protocol.EventRunStarted, protocol.EventRunCompleted}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", names, want)
	}
}
