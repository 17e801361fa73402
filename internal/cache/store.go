// Package cache is the in-process response cache shared by all feature hooks.
// Entries are keyed by a versioned composite key, expire after a TTL, and
// changes are published to per-endpoint listeners.
package cache

import (
	"regexp"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultMaxSize       = 100
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Event is the kind of change delivered to listeners.
type Event string

const (
	EventSet        Event = "set"
	EventInvalidate Event = "invalidate"
	EventStale      Event = "stale"
	// EventPurge is sent once per InvalidateEndpoint with nil params.
	EventPurge      Event = "purge"
)

// Listener receives cache events for one endpoint.
type Listener func(event Event, params Params)

// Entry is one cached response.
type Entry struct {
	Key          string
	Endpoint     string
	Params       Params
	Data         any
	ExpiresAt    time.Time
	LastModified time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Entries   int    `json:"entries"`
	Version   uint64 `json:"version"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// Store is a bounded, versioned cache. It is safe for concurrent use; listeners
// are called synchronously after the store lock is released.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	evictor  evictor
	version  uint64
	maxSize  int
	ttl      time.Duration
	subs     map[string]map[uint64]Listener
	nextSub  uint64
	stats    Stats
	closed   bool
	clock    clockwork.Clock
	logger   *zap.Logger
	sweep    time.Duration
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSize bounds the number of entries.
func WithMaxSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPolicy selects the eviction policy. FIFO is the default.
func WithPolicy(p Policy) Option {
	return func(s *Store) {
		s.evictor = newEvictor(p)
	}
}

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithSweepInterval sets how often expired entries are purged. Zero disables the sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		s.sweep = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a store and starts its sweep loop. Call Shutdown to release it.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*Entry),
		evictor: newEvictor(PolicyFIFO),
		maxSize: DefaultMaxSize,
		ttl:     DefaultTTL,
		subs:    make(map[string]map[uint64]Listener),
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
		sweep:   DefaultSweepInterval,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.sweep > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}

	return s
}

// Get returns the cached data for endpoint and params. An expired entry is
// removed, reported to listeners as stale, and treated as absent.
func (s *Store) Get(endpoint string, params Params) (any, bool) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return nil, false
	}

	key := Key(s.version, endpoint, params)

	entry, ok := s.entries[key]
	if !ok {
		s.stats.Misses++
		s.mu.Unlock()

		return nil, false
	}

	if entry.expired(s.clock.Now()) {
		s.deleteLocked(key)
		s.stats.Misses++
		s.stats.Expired++
		listeners := s.listenersLocked(endpoint)
		s.mu.Unlock()

		s.emit(listeners, EventStale, endpoint, params)

		return nil, false
	}

	s.evictor.touch(key)
	s.stats.Hits++
	data := entry.Data
	s.mu.Unlock()

	return data, true
}

// Set stores data. When a new key would exceed the size bound exactly one
// existing entry is evicted first; overwriting an existing key never evicts.
func (s *Store) Set(endpoint string, data any, params Params, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return
	}

	now := s.clock.Now()
	key := Key(s.version, endpoint, params)

	if existing, ok := s.entries[key]; ok {
		existing.Data = data
		existing.ExpiresAt = now.Add(ttl)
		existing.LastModified = now
		s.evictor.insert(key)
	} else {
		if len(s.entries) >= s.maxSize {
			s.evictLocked()
		}

		s.entries[key] = &Entry{
			Key:          key,
			Endpoint:     endpoint,
			Params:       params.Clone(),
			Data:         data,
			ExpiresAt:    now.Add(ttl),
			LastModified: now,
		}
		s.evictor.insert(key)
	}

	listeners := s.listenersLocked(endpoint)
	s.mu.Unlock()

	s.emit(listeners, EventSet, endpoint, params)
}

// Invalidate removes one entry and always notifies listeners.
func (s *Store) Invalidate(endpoint string, params Params) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return
	}

	s.deleteLocked(Key(s.version, endpoint, params))
	listeners := s.listenersLocked(endpoint)
	s.mu.Unlock()

	s.emit(listeners, EventInvalidate, endpoint, params)
}

// InvalidateByPattern removes every entry whose composite key matches. No
// events are emitted. It returns the number of removed entries.
func (s *Store) InvalidateByPattern(pattern *regexp.Regexp) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for key := range s.entries {
		if pattern.MatchString(key) {
			s.deleteLocked(key)
			removed++
		}
	}

	return removed
}

// InvalidateEndpoint drops every entry of endpoint, across params and
// versions, then tells the endpoint's listeners once with EventPurge.
func (s *Store) InvalidateEndpoint(endpoint string) int {
	removed := s.InvalidateByPattern(EndpointPattern(endpoint))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return removed
	}

	listeners := s.listenersLocked(endpoint)
	s.mu.Unlock()

	s.emit(listeners, EventPurge, endpoint, nil)

	return removed
}

// BumpVersion moves the key namespace forward and drops every entry.
func (s *Store) BumpVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	s.entries = make(map[string]*Entry)
	s.evictor.reset()

	s.logger.Info("cache version bumped", zap.Uint64("version", s.version))

	return s.version
}

// Subscribe registers a listener for endpoint. The returned function removes it.
func (s *Store) Subscribe(endpoint string, listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	id := s.nextSub

	if s.subs[endpoint] == nil {
		s.subs[endpoint] = make(map[uint64]Listener)
	}

	s.subs[endpoint][id] = listener

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.subs[endpoint], id)

			if len(s.subs[endpoint]) == 0 {
				delete(s.subs, endpoint)
			}
		})
	}
}

// KeyFor returns the composite key under the current version.
func (s *Store) KeyFor(endpoint string, params Params) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Key(s.version, endpoint, params)
}

// Version returns the current key namespace version.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Stats returns counters and sizes.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Entries = len(s.entries)
	st.Version = s.version

	return st
}

// Purge removes expired entries without emitting events and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0

	for key, entry := range s.entries {
		if entry.expired(now) {
			s.deleteLocked(key)
			s.stats.Expired++
			removed++
		}
	}

	return removed
}

// Shutdown stops the sweep loop and drops all entries and listeners.
func (s *Store) Shutdown() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = make(map[string]*Entry)
	s.subs = make(map[string]map[uint64]Listener)
	s.evictor.reset()

	return nil
}

func (s *Store) evictLocked() {
	key, ok := s.evictor.victim()
	if !ok {
		return
	}

	delete(s.entries, key)
	s.stats.Evictions++

	s.logger.Debug("cache entry evicted", zap.String("key", key))
}

func (s *Store) deleteLocked(key string) {
	delete(s.entries, key)
	s.evictor.remove(key)
}

func (s *Store) listenersLocked(endpoint string) []Listener {
	subs := s.subs[endpoint]
	if len(subs) == 0 {
		return nil
	}

	out := make([]Listener, 0, len(subs))
	for _, l := range subs {
		out = append(out, l)
	}

	return out
}

func (s *Store) emit(listeners []Listener, event Event, endpoint string, params Params) {
	for _, l := range listeners {
		s.deliver(l, event, endpoint, params)
	}
}

func (s *Store) deliver(l Listener, event Event, endpoint string, params Params) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cache listener panicked",
				zap.String("endpoint", endpoint),
				zap.String("event", string(event)),
				zap.Any("panic", r),
			)
		}
	}()

	l(event, params)
}

func (s *Store) sweepLoop() {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			if n := s.Purge(); n > 0 {
				s.logger.Debug("expired cache entries swept", zap.Int("count", n))
			}
		}
	}
}
