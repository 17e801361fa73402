// Package query provides the one fetch primitive every dashboard hook is built
// from: a cancellable, deduplicated, debounced query over a cached endpoint.
//
// A Query belongs to one view session. It guards its own requests (liveness,
// in-flight, cancellation, debounce) while the cache, the limiter and the
// escalator it uses are shared across sessions.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/cache"
	"github.com/serroba/accessdesk/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultDebounce is the quiet period Schedule waits for.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("query: closed")
	// ErrInFlight means the same query is already outstanding; nothing was sent.
	ErrInFlight = errors.New("query: already in flight")
	// ErrSuperseded means a newer request won; the result was discarded.
	ErrSuperseded = errors.New("query: superseded")
)

// Config describes one endpoint.
type Config[P, T any] struct {
	Endpoint string
	// Params maps the hook input to the canonical cache parameters.
	Params func(P) cache.Params
	Fetch  func(ctx context.Context, p P) (T, error)

	TTL          time.Duration
	Debounce     time.Duration
	Cooldown     time.Duration
	MaxRetries   int
	MaxPerWindow int64
	Window       time.Duration

	// RefetchOnInvalidate schedules a refetch when the cache entry for the
	// current params is invalidated or the whole endpoint is purged.
	RefetchOnInvalidate bool
	// NotFoundAsEmpty commits the zero value on 404 instead of an error.
	NotFoundAsEmpty bool
}

// Deps are the shared services a Query coordinates with.
type Deps struct {
	Cache     *cache.Store
	Limiter   *ratelimit.Limiter
	Escalator *apierr.Escalator
	// Flights deduplicates identical upstream calls across sessions. Optional.
	Flights *singleflight.Group
	Clock   clockwork.Clock
	Logger  *zap.Logger
}

// State is what a view renders.
type State[T any] struct {
	Data      T
	HasData   bool
	Err       error
	Loading   bool
	Retrying  bool
	FromCache bool
	FetchedAt time.Time
	// Key is the cache key Data was committed under.
	Key string
}

type fetchOptions struct {
	force bool
	fresh bool
}

// FetchOption modifies one Fetch call.
type FetchOption func(*fetchOptions)

// Force skips the cache, the in-flight guard and the cooldown. Used after
// mutations and for user-initiated refresh.
func Force() FetchOption {
	return func(o *fetchOptions) {
		o.force = true
	}
}

// Fresh skips the cache read but keeps the in-flight guard and the cooldown.
// Used for polling.
func Fresh() FetchOption {
	return func(o *fetchOptions) {
		o.fresh = true
	}
}

// Query is safe for concurrent use.
type Query[P, T any] struct {
	cfg    Config[P, T]
	deps   Deps
	base   context.Context
	stop   context.CancelFunc
	logger *zap.Logger

	mu          sync.Mutex
	live        bool
	inFlight    bool
	inFlightKey string
	gen         uint64
	cancel      context.CancelFunc
	debounce    clockwork.Timer
	retryKey    string
	params      P
	hasParams   bool
	state       State[T]
	watchers    map[uint64]func(State[T])
	nextWatch   uint64
	unsubscribe func()
}

// New creates a live query. ctx scopes work the query starts on its own, such
// as debounced and invalidation-triggered fetches.
func New[P, T any](ctx context.Context, cfg Config[P, T], deps Deps) *Query[P, T] {
	if cfg.Params == nil {
		cfg.Params = func(P) cache.Params { return nil }
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	base, stop := context.WithCancel(ctx)

	q := &Query[P, T]{
		cfg:      cfg,
		deps:     deps,
		base:     base,
		stop:     stop,
		logger:   deps.Logger.With(zap.String("endpoint", cfg.Endpoint)),
		live:     true,
		watchers: make(map[uint64]func(State[T])),
	}

	if cfg.RefetchOnInvalidate {
		q.unsubscribe = deps.Cache.Subscribe(cfg.Endpoint, q.onCacheEvent)
	}

	return q
}

// Fetch loads p. Results of requests that were superseded, canceled or that
// finish after Close never reach the query state.
func (q *Query[P, T]) Fetch(ctx context.Context, p P, opts ...FetchOption) (T, error) {
	var (
		zero T
		o    fetchOptions
	)

	for _, opt := range opts {
		opt(&o)
	}

	params := q.cfg.Params(p)
	key := q.deps.Cache.KeyFor(q.cfg.Endpoint, params)

	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()

		return zero, ErrClosed
	}

	if q.inFlight && q.inFlightKey == key && !o.force {
		q.mu.Unlock()

		return zero, ErrInFlight
	}
	q.mu.Unlock()

	if !o.force && !o.fresh {
		if v, ok := cache.Lookup[T](q.deps.Cache, q.cfg.Endpoint, params); ok {
			return q.commitCached(p, key, v)
		}
	}

	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()

		return zero, ErrClosed
	}

	pending := q.supersedeLocked()
	q.params, q.hasParams = p, true
	gen := q.gen

	reqCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.inFlight = true
	q.inFlightKey = key
	q.state.Loading = true
	snapshot := q.state
	q.mu.Unlock()

	defer cancel()

	q.cancelRetry(pending)
	q.emit(snapshot)

	var returned bool

	v, err := ratelimit.Execute(reqCtx, q.deps.Limiter, key, func(opCtx context.Context) (T, error) {
		return q.call(opCtx, key, p)
	}, ratelimit.Options[T]{
		Cooldown:       q.cfg.Cooldown,
		BypassCooldown: o.force,
		MaxRetries:     q.cfg.MaxRetries,
		MaxPerWindow:   q.cfg.MaxPerWindow,
		Window:         q.cfg.Window,
		Owner:          q,
		OnRateLimit: func(attempt int, delay time.Duration) {
			q.deps.Escalator.Warn(ctx, apierr.KindRateLimited,
				fmt.Sprintf("Too many requests, retrying in %s (attempt %d).", delay.Round(time.Second), attempt))
		},
		OnSuccess: func(v T) {
			q.complete(q.base, gen, key, params, v, nil)
		},
		OnError: func(err error) {
			q.mu.Lock()
			retried := returned
			q.mu.Unlock()

			if retried {
				q.complete(q.base, gen, key, params, zero, err)
			}
		},
	})

	q.mu.Lock()
	returned = true
	q.mu.Unlock()

	return q.complete(ctx, gen, key, params, v, err)
}

// Schedule fetches p once no further Schedule call arrives for the debounce
// period. The outstanding request is canceled immediately, so a superseded
// request never commits even if its timer has already fired.
func (q *Query[P, T]) Schedule(p P) {
	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()

		return
	}

	pending := q.supersedeLocked()
	q.params, q.hasParams = p, true
	gen := q.gen

	q.debounce = q.deps.Clock.AfterFunc(q.cfg.Debounce, func() {
		q.mu.Lock()
		current := q.live && q.gen == gen
		if current {
			q.debounce = nil
		}
		q.mu.Unlock()

		if !current {
			return
		}

		if _, err := q.Fetch(q.base, p); err != nil && !Expected(err) {
			q.logger.Debug("debounced fetch failed", zap.Error(err))
		}
	})
	q.mu.Unlock()

	q.cancelRetry(pending)
}

// Refresh refetches the last params, bypassing cache, in-flight guard and cooldown.
func (q *Query[P, T]) Refresh(ctx context.Context) (T, error) {
	q.mu.Lock()
	p := q.params
	q.mu.Unlock()

	return q.Fetch(ctx, p, Force())
}

// Cancel drops the outstanding request, the pending debounce and any 429
// retry this query owns. The committed state is kept.
func (q *Query[P, T]) Cancel() {
	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()

		return
	}

	pending := q.supersedeLocked()
	q.state.Loading = false
	q.state.Retrying = false
	snapshot := q.state
	q.mu.Unlock()

	q.cancelRetry(pending)
	q.emit(snapshot)
}

// KeyFor returns the cache key p is stored under.
func (q *Query[P, T]) KeyFor(p P) string {
	return q.deps.Cache.KeyFor(q.cfg.Endpoint, q.cfg.Params(p))
}

// Params returns the params of the latest fetch or schedule.
func (q *Query[P, T]) Params() (P, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.params, q.hasParams
}

// State returns a snapshot of the committed state.
func (q *Query[P, T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.state
}

// Watch calls fn after every state change until the returned func is called.
func (q *Query[P, T]) Watch(fn func(State[T])) func() {
	q.mu.Lock()
	id := q.nextWatch
	q.nextWatch++
	q.watchers[id] = fn
	q.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.watchers, id)
			q.mu.Unlock()
		})
	}
}

// Live reports whether Close has not been called.
func (q *Query[P, T]) Live() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.live
}

// Close tears the query down. The outstanding request is canceled, the
// debounce timer and any pending 429 retry are stopped, and the cache
// subscription is dropped. Later results are discarded. Close is idempotent.
func (q *Query[P, T]) Close() {
	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()

		return
	}

	q.live = false
	pending := q.supersedeLocked()
	clear(q.watchers)
	unsubscribe := q.unsubscribe
	q.unsubscribe = nil
	q.mu.Unlock()

	q.cancelRetry(pending)

	if unsubscribe != nil {
		unsubscribe()
	}

	q.stop()
}

// supersedeLocked cancels the outstanding request and pending debounce and
// takes a new token. It returns the key of a pending retry this query owns;
// pass it to cancelRetry once q.mu is released.
func (q *Query[P, T]) supersedeLocked() string {
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}

	if q.debounce != nil {
		q.debounce.Stop()
		q.debounce = nil
	}

	q.gen++
	q.inFlight = false
	q.inFlightKey = ""

	pending := q.retryKey
	q.retryKey = ""

	return pending
}

func (q *Query[P, T]) cancelRetry(key string) {
	if key != "" && q.deps.Limiter.CancelRetry(key, q) {
		q.logger.Debug("pending retry dropped", zap.String("key", key))
	}
}

func (q *Query[P, T]) call(ctx context.Context, key string, p P) (T, error) {
	if q.deps.Flights == nil {
		return q.cfg.Fetch(ctx, p)
	}

	var zero T

	// The shared call must outlive any single waiter.
	ch := q.deps.Flights.DoChan(key, func() (any, error) {
		return q.cfg.Fetch(context.WithoutCancel(ctx), p)
	})

	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", apierr.ErrCanceled, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		v, _ := res.Val.(T)

		return v, nil
	}
}

func (q *Query[P, T]) commitCached(p P, key string, v T) (T, error) {
	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()

		var zero T

		return zero, ErrClosed
	}

	pending := q.supersedeLocked()
	q.params, q.hasParams = p, true
	q.state = State[T]{
		Data:      v,
		HasData:   true,
		FromCache: true,
		FetchedAt: q.state.FetchedAt,
		Key:       key,
	}
	snapshot := q.state
	q.mu.Unlock()

	q.cancelRetry(pending)
	q.emit(snapshot)

	return v, nil
}

// complete commits the outcome of request gen if it is still the current one.
func (q *Query[P, T]) complete(ctx context.Context, gen uint64, key string, params cache.Params, v T, err error) (T, error) {
	var zero T

	q.mu.Lock()

	if !q.live {
		q.mu.Unlock()

		return zero, apierr.ErrCanceled
	}

	if q.gen != gen {
		q.mu.Unlock()

		if apierr.IsCanceled(err) {
			return zero, apierr.ErrCanceled
		}

		return zero, ErrSuperseded
	}

	switch {
	case err == nil:
		q.finishLocked()
		q.state = State[T]{Data: v, HasData: true, FetchedAt: q.deps.Clock.Now(), Key: key}
		snapshot := q.state
		q.mu.Unlock()

		q.deps.Cache.Set(q.cfg.Endpoint, v, params, q.cfg.TTL)
		q.emit(snapshot)

		return v, nil

	case errors.Is(err, ratelimit.ErrSkipped):
		q.finishLocked()
		q.state.Loading = false
		snapshot := q.state
		q.mu.Unlock()

		q.emit(snapshot)

		return zero, err

	case errors.Is(err, ratelimit.ErrRetryScheduled):
		q.finishLocked()
		q.retryKey = key
		q.state.Loading = false
		q.state.Retrying = true
		snapshot := q.state
		q.mu.Unlock()

		q.emit(snapshot)

		return zero, err

	case apierr.IsCanceled(err):
		q.finishLocked()
		q.state.Loading = false
		q.state.Retrying = false
		snapshot := q.state
		q.mu.Unlock()

		q.emit(snapshot)

		return zero, apierr.ErrCanceled

	case q.cfg.NotFoundAsEmpty && apierr.IsNotFound(err):
		q.finishLocked()
		q.state = State[T]{HasData: true, FetchedAt: q.deps.Clock.Now(), Key: key}
		snapshot := q.state
		q.mu.Unlock()

		q.emit(snapshot)

		return zero, nil

	case errors.Is(err, ratelimit.ErrWindowExceeded):
		q.finishLocked()
		q.state.Loading = false
		q.state.Retrying = false
		q.state.Err = err
		snapshot := q.state
		q.mu.Unlock()

		q.emit(snapshot)
		q.deps.Escalator.Warn(ctx, apierr.KindRateLimited, "Too many requests, please slow down.")

		return zero, err

	default:
		q.finishLocked()
		q.state.Loading = false
		q.state.Retrying = false
		q.state.Err = err
		snapshot := q.state
		q.mu.Unlock()

		q.emit(snapshot)
		q.deps.Escalator.Handle(ctx, err)

		return zero, err
	}
}

func (q *Query[P, T]) finishLocked() {
	q.inFlight = false
	q.inFlightKey = ""
	q.retryKey = ""
	q.cancel = nil
}

func (q *Query[P, T]) onCacheEvent(event cache.Event, params cache.Params) {
	if event != cache.EventInvalidate && event != cache.EventPurge {
		return
	}

	q.mu.Lock()
	if !q.live || !q.hasParams {
		q.mu.Unlock()

		return
	}

	if event == cache.EventInvalidate && q.cfg.Params(q.params).Canonical() != params.Canonical() {
		q.mu.Unlock()

		return
	}

	p := q.params
	q.mu.Unlock()

	q.logger.Debug("cached data dropped, refetching", zap.String("event", string(event)))
	q.Schedule(p)
}

func (q *Query[P, T]) emit(s State[T]) {
	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()

		return
	}

	fns := make([]func(State[T]), 0, len(q.watchers))
	for _, fn := range q.watchers {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		q.deliver(fn, s)
	}
}

func (q *Query[P, T]) deliver(fn func(State[T]), s State[T]) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("state watcher panicked", zap.Any("panic", r))
		}
	}()

	fn(s)
}

// Expected reports whether err is a coordination outcome rather than a failure
// worth showing.
func Expected(err error) bool {
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrInFlight) ||
		errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ratelimit.ErrSkipped) ||
		errors.Is(err, ratelimit.ErrRetryScheduled) ||
		apierr.IsCanceled(err)
}
