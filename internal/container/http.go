package container

import (
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/accessdesk/internal/activity"
	"github.com/serroba/accessdesk/internal/cache"
	"github.com/serroba/accessdesk/internal/client"
	"github.com/serroba/accessdesk/internal/dashboard"
	"github.com/serroba/accessdesk/internal/handlers"
	"github.com/serroba/accessdesk/internal/health"
	"github.com/serroba/accessdesk/internal/messaging"
	"github.com/serroba/accessdesk/internal/middleware"
	"github.com/serroba/accessdesk/internal/ratelimit"
)

// HTTPPackage provides the router and the API. Invoking huma.API registers
// every route.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := component(i, "http")
		router := do.MustInvoke[*chi.Mux](i)

		api := humachi.New(router, huma.DefaultConfig("accessdesk gateway", "1.0.0"))

		newRequestID, err := nanoid.Standard(21)
		if err != nil {
			return nil, fmt.Errorf("request id generator: %w", err)
		}

		api.UseMiddleware(
			middleware.RequestMeta(newRequestID),
			middleware.Throttle(api, do.MustInvoke[ratelimit.Store](i), middleware.ThrottlePolicy{
				Read:  middleware.Limit{Window: time.Minute, Max: int64(opts.ReadPerMinute)},
				Write: middleware.Limit{Window: time.Minute, Max: int64(opts.WritePerMinute)},
			}, logger),
		)

		health.RegisterRoutes(api, health.NewHandler(
			health.NewRedisChecker(do.MustInvoke[redis.UniversalClient](i)),
			do.MustInvoke[*client.Client](i),
		))

		handlers.RegisterRoutes(api,
			handlers.NewSessionHandler(do.MustInvoke[*dashboard.SessionManager](i), logger),
			handlers.NewCacheHandler(do.MustInvoke[cache.Invalidator](i), do.MustInvoke[*activity.Publisher](i), logger),
		)

		return api, nil
	})
}

// ConsumerGroupPackage provides the activity consumers of the consumer binary.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := component(i, "consumer")

		sub, err := messaging.NewRedisSubscriber(do.MustInvoke[redis.UniversalClient](i), activity.ConsumerGroup, logger)
		if err != nil {
			return nil, err
		}

		group := messaging.NewConsumerGroup(sub, logger)
		for _, c := range activity.NewConsumers(sub, do.MustInvoke[activity.Store](i), logger) {
			group.Add(c)
		}

		return group, nil
	})
}
