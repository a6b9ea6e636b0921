package runner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

const (
	defaultTimeout      = 120 * time.Second
	defaultPollInterval = 1500 * time.Millisecond
)

// Config configures a new Runner.
type Config struct {
	API          assistant.API
	AssistantID  string
	Timeout      time.Duration      // wall-clock budget per run, default 120s
	PollInterval time.Duration      // status poll cadence, default 1.5s
	Events       bus.EventPublisher // optional, for ops event broadcast

	// Clock hooks; the real clock when nil.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner drives one assistant run to completion: post the user message,
// start a run, poll until it leaves the in-flight states, then pull the
// reply text out of the thread.
type Runner struct {
	api          assistant.API
	assistantID  string
	timeout      time.Duration
	pollInterval time.Duration
	events       bus.EventPublisher
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	tracer       trace.Tracer
}

func New(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Runner{
		api:          cfg.API,
		assistantID:  cfg.AssistantID,
		timeout:      cfg.Timeout,
		pollInterval: cfg.PollInterval,
		events:       cfg.Events,
		now:          cfg.Now,
		sleep:        cfg.Sleep,
		tracer:       otel.Tracer("porter/runner"),
	}
}

// Execute relays one user message through the assistant and returns the
// reply text. Failure classes: ErrTimeout after the wall-clock budget (the
// run is cancelled best-effort), ErrRequiresAction for tool-calling runs,
// *RunFailedError, *UnhandledStatusError, and ErrEmptyReply when a completed
// run left no text behind.
func (r *Runner) Execute(ctx context.Context, threadID, text string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "runner.execute",
		trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()

	reply, err := r.execute(ctx, threadID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("reply.chars", len(reply)))
	return reply, nil
}

func (r *Runner) execute(ctx context.Context, threadID, text string) (string, error) {
	if err := r.api.PostMessage(ctx, threadID, text); err != nil {
		return "", err
	}

	run, err := r.api.CreateRun(ctx, threadID, r.assistantID)
	if err != nil {
		return "", err
	}
	slog.Info("run started", "thread", threadID, "run", run.ID, "status", run.Status)
	r.emit(protocol.EventRunStarted, protocol.RunPayload{ThreadID: threadID, RunID: run.ID, Status: run.Status})

	deadline := r.now().Add(r.timeout)
	for assistant.InFlight(run.Status) {
		if !r.now().Before(deadline) {
			slog.Warn("run deadline exceeded, cancelling", "thread", threadID, "run", run.ID, "timeout", r.timeout)
			r.cancelBestEffort(ctx, threadID, run.ID)
			r.emit(protocol.EventRunFailed, protocol.RunPayload{ThreadID: threadID, RunID: run.ID, Reason: "timeout"})
			return "", ErrTimeout
		}
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			r.cancelBestEffort(ctx, threadID, run.ID)
			return "", err
		}
		run, err = r.api.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return "", err
		}
	}

	switch run.Status {
	case assistant.StatusCompleted:
		reply, err := r.extractReply(ctx, threadID, run.ID)
		if err != nil {
			r.emit(protocol.EventRunFailed, protocol.RunPayload{ThreadID: threadID, RunID: run.ID, Reason: "empty_reply"})
			return "", err
		}
		slog.Info("run completed", "thread", threadID, "run", run.ID, "chars", len(reply))
		r.emit(protocol.EventRunCompleted, protocol.RunPayload{ThreadID: threadID, RunID: run.ID, Status: run.Status, Chars: len(reply)})
		return reply, nil

	case assistant.StatusRequiresAction:
		slog.Warn("run requires action, not supported", "thread", threadID, "run", run.ID)
		r.emit(protocol.EventRunFailed, protocol.RunPayload{ThreadID: threadID, RunID: run.ID, Reason: "requires_action"})
		return "", ErrRequiresAction

	case assistant.StatusFailed:
		ferr := &RunFailedError{}
		if run.LastError != nil {
			ferr.Code = run.LastError.Code
			ferr.Message = run.LastError.Message
		}
		slog.Error("run failed", "thread", threadID, "run", run.ID, "code", ferr.Code, "message", ferr.Message)
		r.emit(protocol.EventRunFailed, protocol.RunPayload{ThreadID: threadID, RunID: run.ID, Reason: ferr.Code})
		return "", ferr

	default:
		slog.Error("run ended with unhandled status", "thread", threadID, "run", run.ID, "status", run.Status)
		r.emit(protocol.EventRunFailed, protocol.RunPayload{ThreadID: threadID, RunID: run.ID, Status: run.Status, Reason: "unhandled_status"})
		return "", &UnhandledStatusError{Status: run.Status}
	}
}

// extractReply pulls this run's reply out of the thread history. Messages
// arrive oldest first; walk them newest first, collect the run's assistant
// text segments, and stop at the first user message, which marks the turn
// boundary. The collected segments are reversed back into reading order.
func (r *Runner) extractReply(ctx context.Context, threadID, runID string) (string, error) {
	msgs, err := r.api.ListMessages(ctx, threadID)
	if err != nil {
		return "", err
	}

	var parts []string
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Role == "user" {
			break
		}
		if msg.Role != "assistant" || msg.RunID != runID {
			continue
		}
		for _, part := range msg.Content {
			if txt := part.TextValue(); txt != "" {
				parts = append(parts, txt)
			}
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyReply
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "\n"), nil
}

// cancelBestEffort tries to stop an abandoned run so it does not burn tokens.
// Uses a fresh context when the caller's is already dead.
func (r *Runner) cancelBestEffort(ctx context.Context, threadID, runID string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := r.api.CancelRun(ctx, threadID, runID); err != nil {
		slog.Warn("run cancel failed", "thread", threadID, "run", runID, "error", err)
	}
}

func (r *Runner) emit(name string, payload protocol.RunPayload) {
	if r.events == nil {
		return
	}
	r.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
