// Package maintenance runs the scheduled session verification sweep.
// Remote threads can disappear out from under a stored binding (deleted
// upstream, expired by retention policy); the sweep drops those bindings so
// the next message starts a fresh thread instead of erroring forever.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/porter/internal/assistant"
	"github.com/nextlevelbuilder/porter/internal/bus"
	"github.com/nextlevelbuilder/porter/internal/store"
	"github.com/nextlevelbuilder/porter/pkg/protocol"
)

const (
	defaultSchedule = "0 4 * * *"

	// sweepConcurrency bounds parallel thread checks so a large store does
	// not burst the remote API.
	sweepConcurrency = 4
)

// Sweeper verifies stored sessions against the remote API on a cron
// schedule.
type Sweeper struct {
	store  store.SessionStore
	api    assistant.API
	events bus.EventPublisher // optional
	gron   *gronx.Gronx

	mu       sync.Mutex
	schedule string
}

// New creates a sweeper. An empty or invalid schedule falls back to the
// default daily run.
func New(st store.SessionStore, api assistant.API, events bus.EventPublisher, schedule string) *Sweeper {
	s := &Sweeper{
		store:  st,
		api:    api,
		events: events,
		gron:   gronx.New(),
	}
	s.SetSchedule(schedule)
	return s
}

// SetSchedule replaces the cron schedule. An empty or invalid expression
// falls back to the default daily run. Used by config hot-reload.
func (s *Sweeper) SetSchedule(schedule string) {
	if schedule == "" {
		schedule = defaultSchedule
	} else if !s.gron.IsValid(schedule) {
		slog.Warn("invalid maintenance schedule, using default",
			"schedule", schedule, "default", defaultSchedule)
		schedule = defaultSchedule
	}
	s.mu.Lock()
	s.schedule = schedule
	s.mu.Unlock()
}

// Schedule returns the active cron schedule.
func (s *Sweeper) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// Run blocks until ctx is cancelled, waking once a minute to check whether
// the schedule is due.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("session sweeper started", "schedule", s.Schedule())

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			schedule := s.Schedule()
			due, err := s.gron.IsDue(schedule, time.Now())
			if err != nil {
				slog.Error("maintenance schedule check failed", "schedule", schedule, "error", err)
				continue
			}
			if due {
				s.Sweep(ctx)
			}
		}
	}
}

// Sweep checks every stored session once and removes bindings whose remote
// thread no longer exists. Transient API failures leave the binding alone;
// only a definitive not-found drops it.
func (s *Sweeper) Sweep(ctx context.Context) {
	entries := s.store.List()

	// Verify threads with bounded parallelism. Workers only mark their own
	// slot; removals happen serially afterwards.
	dangling := make([]bool, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for i, e := range entries {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			err := s.api.RetrieveThread(gctx, e.ThreadID)
			switch {
			case err == nil:
			case assistant.IsNotFound(err):
				dangling[i] = true
			default:
				if gctx.Err() == nil {
					slog.Warn("session sweep: thread check failed",
						"user_id", e.UserID, "thread_id", e.ThreadID, "error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return
	}

	dropped := 0
	for i, e := range entries {
		if !dangling[i] {
			continue
		}
		if err := s.store.Remove(ctx, e.UserID); err != nil {
			slog.Error("session sweep: remove failed", "user_id", e.UserID, "error", err)
			continue
		}
		dropped++
		if s.events != nil {
			s.events.Broadcast(bus.Event{
				Name:    protocol.EventSessionInvalidated,
				Payload: protocol.SessionPayload{UserID: e.UserID, ThreadID: e.ThreadID},
			})
		}
		slog.Info("session sweep: dropped dangling session",
			"user_id", e.UserID, "thread_id", e.ThreadID)
	}

	slog.Info("session sweep completed", "checked", len(entries), "dropped", dropped)
}
