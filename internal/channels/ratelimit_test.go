package channels

import (
	"fmt"
	"testing"
)

// TestRateLimiterBurstThenDeny verifies a user gets the burst allowance and
// is then denied until tokens refill.
func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := NewUserRateLimiter(60) // burst = 15

	for i := 0; i < 15; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Error("request beyond burst should be denied")
	}
}

// TestRateLimiterUsersAreIndependent verifies one user exhausting their
// budget does not affect another.
func TestRateLimiterUsersAreIndependent(t *testing.T) {
	rl := NewUserRateLimiter(4) // burst = 1

	if !rl.Allow("alice") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("alice") {
		t.Error("second request should be denied")
	}
	if !rl.Allow("bob") {
		t.Error("a different user should have their own budget")
	}
}

// TestRateLimiterDefaultsApplied verifies zero and negative configs fall back
// to the default rate.
func TestRateLimiterDefaultsApplied(t *testing.T) {
	for _, perMinute := range []int{0, -5} {
		rl := NewUserRateLimiter(perMinute)
		if !rl.Allow("alice") {
			t.Errorf("NewUserRateLimiter(%d) should still allow the first request", perMinute)
		}
	}
}

// TestRateLimiterBoundsTrackedUsers verifies the tracked key set stays at or
// below the hard cap under rotating sender IDs.
func TestRateLimiterBoundsTrackedUsers(t *testing.T) {
	rl := NewUserRateLimiter(60)

	for i := 0; i < maxTrackedUsers+100; i++ {
		rl.Allow(fmt.Sprintf("user-%d", i))
	}

	rl.mu.Lock()
	n := len(rl.entries)
	rl.mu.Unlock()

	if n > maxTrackedUsers {
		t.Errorf("tracked users = %d, want at most %d", n, maxTrackedUsers)
	}
}
