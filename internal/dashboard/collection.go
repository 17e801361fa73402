package dashboard

import (
	"context"
	"net/url"

	"github.com/serroba/accessdesk/internal/cache"
	"github.com/serroba/accessdesk/internal/client"
	"github.com/serroba/accessdesk/internal/query"
	"go.uber.org/zap"
)

type listFilter interface {
	Paging() client.PageRequest
	CacheParams() cache.Params
	Filters() url.Values
}

// collection is a paged, filtered list of one endpoint.
type collection[F listFilter, T any] struct {
	endpoint string
	defaults F
	svc      *Services
	scope    scope
	list     *query.Query[F, client.Page[T]]
	logger   *zap.Logger
}

func newCollection[F listFilter, T any](ctx context.Context, svc *Services, sc scope, endpoint string, defaults F) *collection[F, T] {
	t := svc.Tuning

	list := query.New(ctx, query.Config[F, client.Page[T]]{
		Endpoint: endpoint,
		Params:   func(f F) cache.Params { return f.CacheParams() },
		Fetch: func(ctx context.Context, f F) (client.Page[T], error) {
			return client.GetPage[T](ctx, svc.Client, endpoint, f.Paging(), f.Filters())
		},
		TTL:                 t.TTL,
		Debounce:            t.Debounce,
		Cooldown:            t.Cooldown,
		MaxRetries:          t.MaxRetries,
		MaxPerWindow:        t.MaxPerWindow,
		Window:              t.Window,
		RefetchOnInvalidate: true,
	}, svc.Query)

	return &collection[F, T]{
		endpoint: endpoint,
		defaults: defaults,
		svc:      svc,
		scope:    sc,
		list:     list,
		logger:   svc.Logger.With(zap.String("endpoint", endpoint), zap.String("session", sc.sessionID)),
	}
}

// List loads the page selected by f. Invalid filters never reach the network.
func (c *collection[F, T]) List(ctx context.Context, f F, opts ...query.FetchOption) (client.Page[T], error) {
	ctx = c.scope.bind(ctx)

	if err := c.svc.Client.Validate(f); err != nil {
		c.svc.Query.Escalator.Handle(ctx, err)

		return client.Page[T]{}, err
	}

	return c.list.Fetch(ctx, f, opts...)
}

// SetFilter applies f after the debounce period; rapid edits collapse into
// one request for the last filter.
func (c *collection[F, T]) SetFilter(f F) error {
	if err := c.svc.Client.Validate(f); err != nil {
		return err
	}

	c.list.Schedule(f)

	return nil
}

// Refresh refetches the current filter, ignoring cache and cooldown.
func (c *collection[F, T]) Refresh(ctx context.Context) (client.Page[T], error) {
	return c.list.Fetch(c.scope.bind(ctx), c.Filter(), query.Force())
}

// Filter returns the last requested filter.
func (c *collection[F, T]) Filter() F {
	if f, ok := c.list.Params(); ok {
		return f
	}

	return c.defaults
}

func (c *collection[F, T]) State() query.State[client.Page[T]] {
	return c.list.State()
}

// Committed returns the state and whether its data is the page for f.
func (c *collection[F, T]) Committed(f F) (query.State[client.Page[T]], bool) {
	s := c.list.State()

	return s, s.HasData && s.Key == c.list.KeyFor(f)
}

func (c *collection[F, T]) Watch(fn func(query.State[client.Page[T]])) func() {
	return c.list.Watch(fn)
}

func (c *collection[F, T]) Close() {
	c.list.Close()
}

func (c *collection[F, T]) mutate(ctx context.Context, fn func(context.Context) error) error {
	return c.svc.mutate(c.scope.bind(ctx), c.endpoint, fn, c.refreshList)
}

func (c *collection[F, T]) refreshList(ctx context.Context) {
	if _, ok := c.list.Params(); !ok {
		return
	}

	_, err := c.list.Refresh(ctx)
	logRefresh(c.logger, c.endpoint, err)
}
