package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// windowStore holds per-key sliding windows of event timestamps. It is the
// shared core of the per-connection limiter and the in-process fallback of
// the tiered limiter.
type windowStore struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	windows map[string][]time.Time
}

func newWindowStore(clock clockwork.Clock) *windowStore {
	return &windowStore{clock: clock, windows: make(map[string][]time.Time)}
}

// allow records one event for the key if it is within limit events per
// window. Rejected events are not recorded.
func (s *windowStore) allow(key string, limit int, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	kept := s.prune(key, now.Add(-window))

	if len(kept) >= limit {
		s.windows[key] = kept
		return false
	}

	s.windows[key] = append(kept, now)
	return true
}

// remaining reports how many events the key may still record in the
// current window.
func (s *windowStore) remaining(key string, limit int, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(key, s.clock.Now().Add(-window))
	s.windows[key] = kept
	if len(kept) >= limit {
		return 0
	}
	return limit - len(kept)
}

func (s *windowStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// prune must be called with the mutex held.
func (s *windowStore) prune(key string, cutoff time.Time) []time.Time {
	events := s.windows[key]
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// ConnectionLimiter throttles inbound frames per connection using an exact
// sliding window. A token bucket would admit edge bursts above the cap, so
// the window counts events in the trailing window instead.
type ConnectionLimiter struct {
	store  *windowStore
	limit  int
	window time.Duration
}

// NewConnectionLimiter creates a limiter allowing limit events per window
// for each key.
func NewConnectionLimiter(clock clockwork.Clock, limit int, window time.Duration) *ConnectionLimiter {
	return &ConnectionLimiter{
		store:  newWindowStore(clock),
		limit:  limit,
		window: window,
	}
}

// Allow records one event for the key and reports whether it is within the
// limit.
func (l *ConnectionLimiter) Allow(key string) bool {
	return l.store.allow(key, l.limit, l.window)
}

// Remaining reports how many events the key may still send in the current
// window.
func (l *ConnectionLimiter) Remaining(key string) int {
	return l.store.remaining(key, l.limit, l.window)
}

// Remove drops all state for a key. Called when a connection closes so the
// map does not grow without bound.
func (l *ConnectionLimiter) Remove(key string) {
	l.store.remove(key)
}
