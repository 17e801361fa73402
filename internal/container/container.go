// Package container wires the gateway and the activity consumer with
// samber/do. Each *Package function registers the providers of one concern.
package container

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/accessdesk/internal/activity"
	activitystore "github.com/serroba/accessdesk/internal/activity/store"
	"github.com/serroba/accessdesk/internal/store"
	"go.uber.org/zap"
)

type Options struct {
	Port        int    `default:"8888" help:"Port to listen on" short:"p"`
	RedisAddr   string `default:"localhost:6379" help:"Redis server address" short:"r"`
	UpstreamURL string `default:"http://localhost:8080/api" help:"Base URL of the admin API" short:"u"`
	Token       string `help:"Bearer token for the admin API; overrides the token file"`
	TokenFile   string `default:".accessdesk-token" help:"File holding the admin API bearer token"`
	DatabaseURL string `help:"Postgres URL for activity records; empty logs them instead"`
	Instance    string `help:"Instance name in the session registry; defaults to the hostname"`
	LogFormat   string `default:"console" help:"Log format: console or json"`
	LogLevel    string `default:"info" help:"Log level: debug, info, warn or error"`

	CacheMaxSize int    `default:"1000" help:"Maximum number of cached responses"`
	CachePolicy  string `default:"fifo" enum:"fifo,lru" help:"Cache eviction policy"`
	CacheTTL     int    `default:"60" help:"Seconds a cached list response stays fresh"`
	Broadcast    bool   `default:"true" help:"Mirror cache invalidations to other instances over Redis"`

	Backend        string `default:"redis" enum:"memory,redis" help:"Backend of the session registry and request windows"`
	DebounceMs     int    `default:"300" help:"Milliseconds a filter edit waits before fetching"`
	CooldownMs     int    `default:"2000" help:"Minimum milliseconds between two fetches of the same query"`
	MaxRetries     int    `default:"3" help:"Retries after an upstream 429"`
	MaxPerMinute   int    `default:"0" help:"Upstream calls allowed per query per minute; 0 disables the window"`
	PollSeconds    int    `default:"30" help:"Notification polling interval in seconds"`
	IdleMinutes    int    `default:"15" help:"Minutes before an unused view session is closed"`
	ReadPerMinute  int    `default:"600" help:"Gateway reads allowed per client per minute"`
	WritePerMinute int    `default:"60" help:"Gateway writes allowed per client per minute"`
}

func (o *Options) instance() string {
	if o.Instance != "" {
		return o.Instance
	}

	host, err := os.Hostname()
	if err != nil {
		return "gateway"
	}

	return host
}

// redisConn closes the client when the injector shuts down.
type redisConn struct {
	redis.UniversalClient
}

func (c redisConn) Shutdown() error {
	return c.Close()
}

// activityPostgres closes the pool when the injector shuts down.
type activityPostgres struct {
	*store.ActivityPostgresStore
	pool *pgxpool.Pool
}

func (a activityPostgres) Shutdown() error {
	a.pool.Close()

	return nil
}

func LoggerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		cfg := zap.NewDevelopmentConfig()
		if opts.LogFormat == "json" {
			cfg = zap.NewProductionConfig()
		}

		level, err := zap.ParseAtomicLevel(opts.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}

		cfg.Level = level

		return cfg.Build()
	})
}

func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (redis.UniversalClient, error) {
		opts := do.MustInvoke[*Options](i)

		return redisConn{redis.NewClient(&redis.Options{
			Addr: opts.RedisAddr,
		})}, nil
	})
}

// ActivityStorePackage persists activity in Postgres when a database URL is
// configured, and logs it otherwise.
func ActivityStorePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (activity.Store, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if opts.DatabaseURL == "" {
			logger.Info("no database configured, activity is only logged")

			return activitystore.NewNoop(logger.With(zap.String("component", "activity"))), nil
		}

		ctx := context.Background()

		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}

		pg := store.NewActivityPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()

			return nil, err
		}

		return activityPostgres{ActivityPostgresStore: pg, pool: pool}, nil
	})
}
