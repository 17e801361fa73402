// Package dashboard implements the feature hooks of the admin console and the
// view sessions that mount them. Every hook is a configuration of
// query.Query; hooks differ only in endpoints, parameters and mutations.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/serroba/accessdesk/internal/activity"
	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/cache"
	"github.com/serroba/accessdesk/internal/client"
	"github.com/serroba/accessdesk/internal/query"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultListTTL      = time.Minute
	DefaultCooldown     = 2 * time.Second
	DefaultMaxRetries   = 3
)

// TransitionPublisher records accepted access request transitions.
type TransitionPublisher interface {
	TransitionRequested(ctx context.Context, event *activity.TransitionRequestedEvent) error
}

// Tuning holds the coordination knobs shared by all list hooks.
type Tuning struct {
	TTL          time.Duration
	Debounce     time.Duration
	Cooldown     time.Duration
	MaxRetries   int
	MaxPerWindow int64
	Window       time.Duration
}

// DefaultTuning is used when Services.Tuning is zero.
var DefaultTuning = Tuning{
	TTL:        DefaultListTTL,
	Debounce:   query.DefaultDebounce,
	Cooldown:   DefaultCooldown,
	MaxRetries: DefaultMaxRetries,
}

// Services are shared by every session of a process.
type Services struct {
	Client *client.Client
	Query  query.Deps
	// Invalidator defaults to the local cache store.
	Invalidator cache.Invalidator
	// Activity is optional.
	Activity     TransitionPublisher
	Tuning       Tuning
	PollInterval time.Duration
	Logger       *zap.Logger
}

func (s *Services) normalize() error {
	if s.Client == nil {
		return errors.New("dashboard: client is required")
	}

	if s.Query.Cache == nil || s.Query.Limiter == nil || s.Query.Escalator == nil {
		return errors.New("dashboard: cache, limiter and escalator are required")
	}

	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}

	if s.Query.Clock == nil {
		s.Query.Clock = clockwork.NewRealClock()
	}

	if s.Query.Logger == nil {
		s.Query.Logger = s.Logger
	}

	if s.Invalidator == nil {
		s.Invalidator = cache.LocalInvalidator{Store: s.Query.Cache}
	}

	if s.Tuning == (Tuning{}) {
		s.Tuning = DefaultTuning
	}

	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}

	return nil
}

// mutate runs fn, escalates its failure, and on success drops every cached
// entry of endpoint and lifts the cooldown of its pages before calling
// refresh. Other sessions on endpoint refetch through the purge event.
func (s *Services) mutate(ctx context.Context, endpoint string, fn func(context.Context) error, refresh func(context.Context)) error {
	if err := fn(ctx); err != nil {
		s.Query.Escalator.Handle(ctx, err)

		return err
	}

	s.Query.Limiter.ResetMatching(cache.EndpointPattern(endpoint))

	n, err := s.Invalidator.InvalidateEndpoint(ctx, endpoint)
	if err != nil {
		s.Logger.Warn("invalidate after mutation", zap.String("endpoint", endpoint), zap.Error(err))
	}

	s.Logger.Debug("mutation applied", zap.String("endpoint", endpoint), zap.Int("invalidated", n))

	if refresh != nil {
		refresh(ctx)
	}

	return nil
}

// scope ties hook work to one view session.
type scope struct {
	sessionID string
	notices   apierr.Notifier
}

func (s scope) bind(ctx context.Context) context.Context {
	if s.notices == nil {
		return ctx
	}

	return apierr.WithNotifier(ctx, s.notices)
}

func itemPath(endpoint, id string, suffix ...string) (string, error) {
	if id == "" {
		return "", &apierr.ValidationError{Fields: map[string]string{"id": "is required"}}
	}

	path := endpoint + "/" + url.PathEscape(id)
	for _, s := range suffix {
		path += "/" + s
	}

	return path, nil
}

func logRefresh(logger *zap.Logger, endpoint string, err error) {
	if err != nil && !query.Expected(err) {
		logger.Debug("refetch after mutation failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func requireReason(action Action, reason string) error {
	if action.RequiresReason() && reason == "" {
		return &apierr.ValidationError{Fields: map[string]string{
			"reason": fmt.Sprintf("is required to %s", action),
		}}
	}

	return nil
}
