package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type window struct {
	start time.Time
	count int64
}

// RateLimitMemoryStore is an in-memory fixed-window implementation of ratelimit.Store.
type RateLimitMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   clockwork.Clock
}

// NewRateLimitMemoryStore creates a new in-memory rate limit store. A nil clock uses wall time.
func NewRateLimitMemoryStore(clock clockwork.Clock) *RateLimitMemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &RateLimitMemoryStore{
		windows: make(map[string]*window),
		clock:   clock,
	}
}

func (s *RateLimitMemoryStore) Record(_ context.Context, key string, length time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= length {
		s.windows[key] = &window{start: now, count: 1}

		return 1, nil
	}

	w.count++

	return w.count, nil
}

// Prune drops windows that ended more than maxAge ago.
func (s *RateLimitMemoryStore) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0

	for key, w := range s.windows {
		if w.start.Before(cutoff) {
			delete(s.windows, key)
			removed++
		}
	}

	return removed
}
