package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedUsers caps the number of tracked limiter keys to prevent
	// memory exhaustion from rotating sender IDs.
	maxTrackedUsers = 4096

	// staleAfter is how long an idle limiter entry survives before pruning.
	staleAfter = 10 * time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter enforces a per-user message rate with token buckets.
// Safe for concurrent use; the tracked key set is hard-capped.
type UserRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

// NewUserRateLimiter creates a limiter allowing perMinute sustained messages
// per user with a small burst allowance.
func NewUserRateLimiter(perMinute int) *UserRateLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	burst := perMinute / 4
	if burst < 1 {
		burst = 1
	}
	return &UserRateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
	}
}

// Allow returns true if the user is within their rate budget.
// Automatically prunes stale entries and enforces a hard cap on tracked keys.
func (r *UserRateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedUsers {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) >= staleAfter {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedUsers {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(r.limit, r.burst)}
		r.entries[userID] = e
	}
	e.lastSeen = now
	return e.lim.Allow()
}
