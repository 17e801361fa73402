package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InvalidationChannel is the Redis pub/sub channel shared by gateway instances.
const InvalidationChannel = "accessdesk:cache:invalidate"

const (
	opInvalidate = "invalidate"
	opPattern    = "pattern"
	opEndpoint   = "endpoint"
	opBump       = "bump"
)

type invalidation struct {
	Op       string `json:"op"`
	Origin   string `json:"origin"`
	Endpoint string `json:"endpoint,omitempty"`
	Params   Params `json:"params,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

// Invalidator is what mutating code uses to drop cached entries.
type Invalidator interface {
	Invalidate(ctx context.Context, endpoint string, params Params) error
	InvalidateByPattern(ctx context.Context, pattern *regexp.Regexp) (int, error)
	InvalidateEndpoint(ctx context.Context, endpoint string) (int, error)
	BumpVersion(ctx context.Context) (uint64, error)
}

var (
	_ Invalidator = (*Broadcaster)(nil)
	_ Invalidator = LocalInvalidator{}
)

// LocalInvalidator invalidates a single process's store.
type LocalInvalidator struct {
	Store *Store
}

func (l LocalInvalidator) Invalidate(_ context.Context, endpoint string, params Params) error {
	l.Store.Invalidate(endpoint, params)

	return nil
}

func (l LocalInvalidator) InvalidateByPattern(_ context.Context, pattern *regexp.Regexp) (int, error) {
	return l.Store.InvalidateByPattern(pattern), nil
}

func (l LocalInvalidator) InvalidateEndpoint(_ context.Context, endpoint string) (int, error) {
	return l.Store.InvalidateEndpoint(endpoint), nil
}

func (l LocalInvalidator) BumpVersion(_ context.Context) (uint64, error) {
	return l.Store.BumpVersion(), nil
}

// Broadcaster applies invalidations locally and mirrors them to every other
// instance subscribed to the same Redis channel.
type Broadcaster struct {
	store   *Store
	client  redis.UniversalClient
	channel string
	origin  string
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBroadcaster creates a broadcaster for store.
func NewBroadcaster(store *Store, client redis.UniversalClient, logger *zap.Logger) (*Broadcaster, error) {
	gen, err := nanoid.Standard(12)
	if err != nil {
		return nil, fmt.Errorf("origin id generator: %w", err)
	}

	return &Broadcaster{
		store:   store,
		client:  client,
		channel: InvalidationChannel,
		origin:  gen(),
		logger:  logger,
	}, nil
}

// Start subscribes to the channel and applies remote invalidations until
// ctx is done or Shutdown is called.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)

	pubsub := b.client.Subscribe(subCtx, b.channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()

		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})

	go b.listen(subCtx, pubsub)

	return nil
}

func (b *Broadcaster) listen(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			b.apply(msg.Payload)
		}
	}
}

func (b *Broadcaster) apply(payload string) {
	var inv invalidation
	if err := json.Unmarshal([]byte(payload), &inv); err != nil {
		b.logger.Warn("malformed cache invalidation", zap.Error(err))

		return
	}

	if inv.Origin == b.origin {
		return
	}

	switch inv.Op {
	case opInvalidate:
		b.store.Invalidate(inv.Endpoint, inv.Params)
	case opPattern:
		re, err := regexp.Compile(inv.Pattern)
		if err != nil {
			b.logger.Warn("invalid invalidation pattern", zap.String("pattern", inv.Pattern), zap.Error(err))

			return
		}

		b.store.InvalidateByPattern(re)
	case opEndpoint:
		b.store.InvalidateEndpoint(inv.Endpoint)
	case opBump:
		b.store.BumpVersion()
	default:
		b.logger.Warn("unknown invalidation op", zap.String("op", inv.Op))

		return
	}

	b.logger.Debug("remote cache invalidation applied",
		zap.String("op", inv.Op),
		zap.String("endpoint", inv.Endpoint),
	)
}

// Invalidate removes one entry here and on every peer.
func (b *Broadcaster) Invalidate(ctx context.Context, endpoint string, params Params) error {
	b.store.Invalidate(endpoint, params)

	return b.publish(ctx, invalidation{Op: opInvalidate, Endpoint: endpoint, Params: params})
}

// InvalidateByPattern removes matching entries here and on every peer.
func (b *Broadcaster) InvalidateByPattern(ctx context.Context, pattern *regexp.Regexp) (int, error) {
	n := b.store.InvalidateByPattern(pattern)

	return n, b.publish(ctx, invalidation{Op: opPattern, Pattern: pattern.String()})
}

// InvalidateEndpoint purges endpoint here and on every peer. Listeners on
// each instance get one EventPurge.
func (b *Broadcaster) InvalidateEndpoint(ctx context.Context, endpoint string) (int, error) {
	n := b.store.InvalidateEndpoint(endpoint)

	return n, b.publish(ctx, invalidation{Op: opEndpoint, Endpoint: endpoint})
}

// BumpVersion bumps the version here and on every peer.
func (b *Broadcaster) BumpVersion(ctx context.Context) (uint64, error) {
	v := b.store.BumpVersion()

	return v, b.publish(ctx, invalidation{Op: opBump})
}

func (b *Broadcaster) publish(ctx context.Context, inv invalidation) error {
	inv.Origin = b.origin

	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}

	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Shutdown stops listening. The Redis client is owned by the caller.
func (b *Broadcaster) Shutdown() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	return nil
}
