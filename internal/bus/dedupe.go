package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen message keys so redelivered platform
// events (reconnects, long-poll replays) are processed once. Entries expire
// after a TTL; the map is capped to bound memory.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxKeys int
}

// NewDedupeCache creates a cache holding at most maxKeys entries for ttl.
func NewDedupeCache(ttl time.Duration, maxKeys int) *DedupeCache {
	return &DedupeCache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxKeys: maxKeys,
	}
}

// Seen reports whether key was observed within the TTL, recording it either way.
func (d *DedupeCache) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if t, ok := d.seen[key]; ok && now.Sub(t) < d.ttl {
		return true
	}

	if len(d.seen) >= d.maxKeys {
		for k, t := range d.seen {
			if now.Sub(t) >= d.ttl {
				delete(d.seen, k)
			}
		}
		for len(d.seen) >= d.maxKeys {
			for k := range d.seen {
				delete(d.seen, k)
				break
			}
		}
	}

	d.seen[key] = now
	return false
}
