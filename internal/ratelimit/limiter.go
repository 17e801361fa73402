// Package ratelimit coordinates outgoing calls per key: a cooldown after each
// success, an optional fixed-window cap, and bounded retries when the server
// answers 429. Each key moves through one state machine, which is the only
// record of its timing.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/serroba/accessdesk/internal/apierr"
	"go.uber.org/zap"
)

// DefaultRetryDelay applies when a 429 carries no Retry-After.
const DefaultRetryDelay = time.Second

var (
	// ErrSkipped means the operation was not invoked because the key is cooling
	// down. It is not a failure and carries no data.
	ErrSkipped = errors.New("ratelimit: skipped during cooldown")
	// ErrWindowExceeded means the per-window call cap was hit; the operation was not invoked.
	ErrWindowExceeded = errors.New("ratelimit: too many calls in window")
	// ErrRetryScheduled marks a 429 that will be retried automatically.
	ErrRetryScheduled = errors.New("ratelimit: retry scheduled")
	// ErrRetriesExhausted marks a 429 after the last allowed retry.
	ErrRetriesExhausted = errors.New("ratelimit: retries exhausted")
)

// RetryScheduledError is returned for a 429 that was scheduled for retry.
// It matches both ErrRetryScheduled and the underlying *apierr.RateLimitError.
type RetryScheduledError struct {
	Key     string
	Attempt int
	Delay   time.Duration
	Cause   error
}

func (e *RetryScheduledError) Error() string {
	return fmt.Sprintf("%s: retry %d for %s in %s", ErrRetryScheduled, e.Attempt, e.Key, e.Delay)
}

func (e *RetryScheduledError) Unwrap() []error {
	return []error{ErrRetryScheduled, e.Cause}
}

// State is the coordination state of one key.
type State int

const (
	StateIdle State = iota
	StateInFlight
	StateCooldown
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInFlight:
		return "in_flight"
	case StateCooldown:
		return "cooldown"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Operation is the call being coordinated.
type Operation[T any] func(ctx context.Context) (T, error)

// Options tune one Execute call.
type Options[T any] struct {
	// Cooldown is the minimum time after the last success before the operation runs again.
	Cooldown time.Duration
	// BypassCooldown runs the operation even while cooling down.
	BypassCooldown bool
	// MaxRetries bounds automatic retries after 429 responses.
	MaxRetries int
	// RetryDelay overrides the limiter default when the server sends no Retry-After.
	RetryDelay time.Duration
	// MaxPerWindow caps calls per Window; zero disables the cap.
	MaxPerWindow int64
	Window       time.Duration

	// OnRateLimit is the non-blocking warning issued when a retry is scheduled.
	OnRateLimit func(attempt int, delay time.Duration)
	// OnSuccess receives results of scheduled retries. Direct calls return their result.
	OnSuccess func(T)
	// OnError receives every failure that is not retried. A pending retry that
	// is dropped before it runs reports apierr.ErrCanceled here.
	OnError func(error)

	// Owner identifies the caller for CancelRetry. Must be comparable.
	Owner any
}

type keyState struct {
	state       State
	lastSuccess time.Time
	attempts    int
	retry       clockwork.Timer
	retryGen    uint64
	retryOwner  any
	retryDrop   func(error)
}

// Limiter holds the per-key state. Create one per process and pass it to
// every hook; call Shutdown to stop pending retries.
type Limiter struct {
	mu         sync.Mutex
	keys       map[string]*keyState
	store      Store
	clock      clockwork.Clock
	logger     *zap.Logger
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithDefaultRetryDelay sets the delay used when a 429 has no Retry-After.
func WithDefaultRetryDelay(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// New creates a limiter backed by store for window counting.
func New(store Store, opts ...Option) *Limiter {
	ctx, cancel := context.WithCancel(context.Background())

	l := &Limiter{
		keys:       make(map[string]*keyState),
		store:      store,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
		retryDelay: DefaultRetryDelay,
		ctx:        ctx,
		cancel:     cancel,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Execute runs op for key unless the key is cooling down or over its window cap.
//
// A pending retry for key is canceled first, so the latest call wins. When the
// key is cooling down, op is not invoked and ErrSkipped is returned.
func Execute[T any](ctx context.Context, l *Limiter, key string, op Operation[T], opts Options[T]) (T, error) {
	var zero T

	l.mu.Lock()
	ks := l.stateLocked(key)
	dropped := l.cancelRetryLocked(ks)

	if ks.state == StateRetrying {
		ks.state = StateIdle
	}

	if !opts.BypassCooldown && l.coolingLocked(ks, opts.Cooldown) {
		l.mu.Unlock()
		notifyDropped(dropped)

		l.logger.Debug("call skipped during cooldown", zap.String("key", key))

		return zero, ErrSkipped
	}
	l.mu.Unlock()
	notifyDropped(dropped)

	if opts.MaxPerWindow > 0 && opts.Window > 0 {
		count, err := l.store.Record(ctx, key, opts.Window)
		if err != nil {
			return zero, fmt.Errorf("record call for %s: %w", key, err)
		}

		if count > opts.MaxPerWindow {
			l.logger.Warn("call window exceeded",
				zap.String("key", key),
				zap.Int64("count", count),
				zap.Int64("max", opts.MaxPerWindow),
				zap.Duration("window", opts.Window),
			)

			return zero, fmt.Errorf("%w: %s %d/%d in %s", ErrWindowExceeded, key, count, opts.MaxPerWindow, opts.Window)
		}
	}

	return run(ctx, l, key, op, opts, false)
}

func run[T any](ctx context.Context, l *Limiter, key string, op Operation[T], opts Options[T], retried bool) (T, error) {
	var zero T

	l.mu.Lock()
	ks := l.stateLocked(key)
	ks.state = StateInFlight
	l.mu.Unlock()

	v, err := op(ctx)

	l.mu.Lock()

	if err == nil {
		ks.attempts = 0
		ks.lastSuccess = l.clock.Now()
		ks.state = StateCooldown
		l.mu.Unlock()

		if retried && opts.OnSuccess != nil {
			opts.OnSuccess(v)
		}

		return v, nil
	}

	if apierr.IsCanceled(err) {
		ks.state = StateIdle
		l.mu.Unlock()

		return zero, err
	}

	var rateErr *apierr.RateLimitError
	if !errors.As(err, &rateErr) {
		ks.state = StateFailed
		l.mu.Unlock()

		if opts.OnError != nil {
			opts.OnError(err)
		}

		return zero, err
	}

	if ks.attempts >= opts.MaxRetries {
		ks.state = StateFailed
		ks.attempts = 0
		l.mu.Unlock()

		exhausted := fmt.Errorf("%w: %w", ErrRetriesExhausted, err)

		l.logger.Warn("rate limit retries exhausted", zap.String("key", key), zap.Int("max_retries", opts.MaxRetries))

		if opts.OnError != nil {
			opts.OnError(exhausted)
		}

		return zero, exhausted
	}

	ks.attempts++
	attempt := ks.attempts

	delay := rateErr.RetryAfter
	if delay <= 0 {
		delay = opts.RetryDelay
	}

	if delay <= 0 {
		delay = l.retryDelay
	}

	ks.state = StateRetrying
	l.scheduleLocked(ks, key, delay, func(retryCtx context.Context) {
		_, _ = run(retryCtx, l, key, op, opts, true)
	})
	ks.retryOwner = opts.Owner
	ks.retryDrop = opts.OnError
	l.mu.Unlock()

	l.logger.Warn("rate limited, retry scheduled",
		zap.String("key", key),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)

	if opts.OnRateLimit != nil {
		opts.OnRateLimit(attempt, delay)
	}

	return zero, &RetryScheduledError{Key: key, Attempt: attempt, Delay: delay, Cause: err}
}

// State returns the coordination state of key.
func (l *Limiter) State(key string) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ks, ok := l.keys[key]; ok {
		return ks.state
	}

	return StateIdle
}

// Attempts returns the retries consumed by the current 429 chain of key.
func (l *Limiter) Attempts(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ks, ok := l.keys[key]; ok {
		return ks.attempts
	}

	return 0
}

// Reset forgets everything about key and cancels its pending retry.
func (l *Limiter) Reset(key string) {
	var dropped func(error)

	l.mu.Lock()
	if ks, ok := l.keys[key]; ok {
		dropped = l.cancelRetryLocked(ks)
		delete(l.keys, key)
	}
	l.mu.Unlock()

	notifyDropped(dropped)
}

// ResetMatching resets every key matching pattern and returns how many were
// forgotten. Mutations use it to lift the cooldown of an endpoint's pages.
func (l *Limiter) ResetMatching(pattern *regexp.Regexp) int {
	var dropped []func(error)

	l.mu.Lock()
	n := 0

	for key, ks := range l.keys {
		if !pattern.MatchString(key) {
			continue
		}

		dropped = append(dropped, l.cancelRetryLocked(ks))
		delete(l.keys, key)
		n++
	}
	l.mu.Unlock()

	for _, fn := range dropped {
		notifyDropped(fn)
	}

	if n > 0 {
		l.logger.Debug("limiter keys reset", zap.String("pattern", pattern.String()), zap.Int("count", n))
	}

	return n
}

// CancelRetry drops the pending retry of key if owner scheduled it. It
// reports whether a retry was dropped.
func (l *Limiter) CancelRetry(key string, owner any) bool {
	l.mu.Lock()

	ks, ok := l.keys[key]
	if !ok || ks.retry == nil || ks.retryOwner != owner {
		l.mu.Unlock()

		return false
	}

	dropped := l.cancelRetryLocked(ks)
	ks.state = StateIdle
	ks.attempts = 0
	l.mu.Unlock()

	notifyDropped(dropped)

	l.logger.Debug("pending retry canceled", zap.String("key", key))

	return true
}

// Shutdown cancels pending retries and waits for running ones to return.
func (l *Limiter) Shutdown() error {
	l.cancel()

	var dropped []func(error)

	l.mu.Lock()
	for _, ks := range l.keys {
		dropped = append(dropped, l.cancelRetryLocked(ks))
	}
	l.mu.Unlock()

	for _, fn := range dropped {
		notifyDropped(fn)
	}

	l.wg.Wait()

	return nil
}

func (l *Limiter) stateLocked(key string) *keyState {
	ks, ok := l.keys[key]
	if !ok {
		ks = &keyState{}
		l.keys[key] = ks
	}

	return ks
}

func (l *Limiter) coolingLocked(ks *keyState, cooldown time.Duration) bool {
	if cooldown <= 0 || ks.lastSuccess.IsZero() {
		return false
	}

	return l.clock.Since(ks.lastSuccess) < cooldown
}

func (l *Limiter) scheduleLocked(ks *keyState, key string, delay time.Duration, fn func(context.Context)) {
	ks.retryGen++
	gen := ks.retryGen

	l.wg.Add(1)

	ks.retry = l.clock.AfterFunc(delay, func() {
		defer l.wg.Done()

		l.mu.Lock()
		current := ks.retryGen == gen && ks.retry != nil
		if current {
			ks.retry = nil
			ks.retryOwner = nil
			ks.retryDrop = nil
		}
		l.mu.Unlock()

		if !current || l.ctx.Err() != nil {
			return
		}

		l.logger.Debug("running scheduled retry", zap.String("key", key))
		fn(l.ctx)
	})
}

// cancelRetryLocked stops the pending retry and returns the callback that
// must learn about it. Call the callback after releasing l.mu.
func (l *Limiter) cancelRetryLocked(ks *keyState) func(error) {
	if ks.retry == nil {
		return nil
	}

	if ks.retry.Stop() {
		l.wg.Done()
	}

	dropped := ks.retryDrop
	ks.retry = nil
	ks.retryOwner = nil
	ks.retryDrop = nil
	ks.retryGen++

	return dropped
}

func notifyDropped(fn func(error)) {
	if fn != nil {
		fn(apierr.ErrCanceled)
	}
}
