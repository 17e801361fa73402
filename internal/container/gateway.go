package container

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/accessdesk/internal/activity"
	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/auth"
	"github.com/serroba/accessdesk/internal/cache"
	"github.com/serroba/accessdesk/internal/client"
	"github.com/serroba/accessdesk/internal/dashboard"
	"github.com/serroba/accessdesk/internal/messaging"
	"github.com/serroba/accessdesk/internal/query"
	"github.com/serroba/accessdesk/internal/ratelimit"
	"github.com/serroba/accessdesk/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

func component(i *do.Injector, name string) *zap.Logger {
	return do.MustInvoke[*zap.Logger](i).With(zap.String("component", name))
}

// CachePackage provides the response cache and the invalidator that keeps
// other instances in step with it.
func CachePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*cache.Store, error) {
		opts := do.MustInvoke[*Options](i)

		return cache.New(
			cache.WithMaxSize(opts.CacheMaxSize),
			cache.WithPolicy(cache.Policy(opts.CachePolicy)),
			cache.WithDefaultTTL(time.Duration(opts.CacheTTL)*time.Second),
			cache.WithLogger(component(i, "cache")),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (cache.Invalidator, error) {
		opts := do.MustInvoke[*Options](i)
		cacheStore := do.MustInvoke[*cache.Store](i)

		if !opts.Broadcast {
			return cache.LocalInvalidator{Store: cacheStore}, nil
		}

		b, err := cache.NewBroadcaster(cacheStore, do.MustInvoke[redis.UniversalClient](i), component(i, "broadcaster"))
		if err != nil {
			return nil, err
		}

		if err := b.Start(context.Background()); err != nil {
			return nil, fmt.Errorf("cache broadcaster: %w", err)
		}

		return b, nil
	})
}

// RateLimitPackage provides the fixed-window store shared by the upstream
// limiter and the inbound throttle, and the limiter itself.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (ratelimit.Store, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.Backend == "memory" {
			return store.NewRateLimitMemoryStore(clockwork.NewRealClock()), nil
		}

		return store.NewRateLimitRedisStore(do.MustInvoke[redis.UniversalClient](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (*ratelimit.Limiter, error) {
		return ratelimit.New(
			do.MustInvoke[ratelimit.Store](i),
			ratelimit.WithLogger(component(i, "ratelimit")),
		), nil
	})
}

// ClientPackage provides the token store and the upstream client.
func ClientPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (auth.TokenStore, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.Token != "" {
			return auth.NewMemoryTokenStore(opts.Token), nil
		}

		return auth.NewFileTokenStore(opts.TokenFile), nil
	})

	do.Provide(injector, func(i *do.Injector) (*client.Client, error) {
		opts := do.MustInvoke[*Options](i)

		return client.New(opts.UpstreamURL, do.MustInvoke[auth.TokenStore](i), client.WithLogger(component(i, "client")))
	})
}

// EscalatorPackage provides the process-wide error escalator. A forced
// sign-out closes every view session of this instance.
func EscalatorPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*apierr.Escalator, error) {
		logger := component(i, "escalator")

		signOut := auth.SignOut(do.MustInvoke[auth.TokenStore](i), func(ctx context.Context) {
			manager, err := do.Invoke[*dashboard.SessionManager](i)
			if err != nil {
				logger.Error("sign out without session manager", zap.Error(err))

				return
			}

			logger.Warn("signed out, sessions closed", zap.Int("sessions", manager.SignOutAll(ctx)))
		}, logger)

		return apierr.NewEscalator(signOut, nil, logger), nil
	})
}

// PublisherGroupPackage provides the Redis stream publisher and the activity
// publisher built on it.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		pub, err := messaging.NewRedisPublisher(do.MustInvoke[redis.UniversalClient](i), component(i, "publisher"))
		if err != nil {
			return nil, err
		}

		return messaging.NewPublisherGroup(pub), nil
	})

	do.Provide(injector, func(i *do.Injector) (*activity.Publisher, error) {
		return activity.NewPublisher(do.MustInvoke[*messaging.PublisherGroup](i).Publisher()), nil
	})
}

// DashboardPackage provides the session manager and, through it, every
// feature hook.
func DashboardPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (dashboard.SessionRegistry, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.Backend == "memory" {
			return store.NewMemorySessionRegistry(clockwork.NewRealClock()), nil
		}

		return store.NewRedisSessionRegistry(do.MustInvoke[redis.UniversalClient](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (*dashboard.SessionManager, error) {
		opts := do.MustInvoke[*Options](i)
		logger := component(i, "dashboard")

		svc := &dashboard.Services{
			Client: do.MustInvoke[*client.Client](i),
			Query: query.Deps{
				Cache:     do.MustInvoke[*cache.Store](i),
				Limiter:   do.MustInvoke[*ratelimit.Limiter](i),
				Escalator: do.MustInvoke[*apierr.Escalator](i),
				Flights:   &singleflight.Group{},
			},
			Invalidator: do.MustInvoke[cache.Invalidator](i),
			Activity:    do.MustInvoke[*activity.Publisher](i),
			Tuning: dashboard.Tuning{
				TTL:          time.Duration(opts.CacheTTL) * time.Second,
				Debounce:     time.Duration(opts.DebounceMs) * time.Millisecond,
				Cooldown:     time.Duration(opts.CooldownMs) * time.Millisecond,
				MaxRetries:   opts.MaxRetries,
				MaxPerWindow: int64(opts.MaxPerMinute),
				Window:       time.Minute,
			},
			PollInterval: time.Duration(opts.PollSeconds) * time.Second,
			Logger:       logger,
		}

		return dashboard.NewSessionManager(svc,
			dashboard.WithIdleTimeout(time.Duration(opts.IdleMinutes)*time.Minute),
			dashboard.WithRegistry(do.MustInvoke[dashboard.SessionRegistry](i), opts.instance()),
		)
	})
}
