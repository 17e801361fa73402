package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/serroba/accessdesk/internal/client"
	"github.com/serroba/accessdesk/internal/query"
	"github.com/serroba/accessdesk/internal/ratelimit"
	"go.uber.org/zap"
)

// NotificationPageSize is how many notifications one poll loads.
const NotificationPageSize = 50

// NotificationHook polls the notification feed while mounted.
type NotificationHook struct {
	svc    *Services
	scope  scope
	feed   *query.Query[struct{}, client.Page[Notification]]
	logger *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func newNotificationHook(ctx context.Context, svc *Services, sc scope) *NotificationHook {
	feed := query.New(ctx, query.Config[struct{}, client.Page[Notification]]{
		Endpoint: EndpointNotifications,
		Fetch: func(ctx context.Context, _ struct{}) (client.Page[Notification], error) {
			return client.GetPage[Notification](ctx, svc.Client, EndpointNotifications,
				client.PageRequest{Size: NotificationPageSize}, nil)
		},
		TTL:             svc.PollInterval,
		Cooldown:        svc.Tuning.Cooldown,
		MaxRetries:      svc.Tuning.MaxRetries,
		NotFoundAsEmpty: true,
	}, svc.Query)

	h := &NotificationHook{
		svc:    svc,
		scope:  sc,
		feed:   feed,
		logger: svc.Logger.With(zap.String("endpoint", EndpointNotifications), zap.String("session", sc.sessionID)),
		stop:   make(chan struct{}),
	}

	ticker := svc.Query.Clock.NewTicker(svc.PollInterval)

	go h.poll(ctx, ticker.Chan(), ticker.Stop)

	return h
}

func (h *NotificationHook) poll(ctx context.Context, ticks <-chan time.Time, stopTicker func()) {
	defer stopTicker()

	h.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticks:
			h.pollOnce(ctx, query.Fresh())
		}
	}
}

// pollOnce loads the feed. Mounting reads the cache first, ticks go upstream
// unless another session polled within the cooldown.
func (h *NotificationHook) pollOnce(ctx context.Context, opts ...query.FetchOption) {
	_, err := h.feed.Fetch(ctx, struct{}{}, opts...)
	if errors.Is(err, ratelimit.ErrSkipped) {
		_, err = h.feed.Fetch(ctx, struct{}{})
	}

	if err != nil && !query.Expected(err) {
		h.logger.Debug("notification poll failed", zap.Error(err))
	}
}

// Items returns the notifications of the last successful poll.
func (h *NotificationHook) Items() []Notification {
	return h.feed.State().Data.Content
}

// Unread counts unread notifications of the last successful poll.
func (h *NotificationHook) Unread() int {
	n := 0

	for _, item := range h.Items() {
		if !item.Read {
			n++
		}
	}

	return n
}

func (h *NotificationHook) State() query.State[client.Page[Notification]] {
	return h.feed.State()
}

// Refresh polls immediately.
func (h *NotificationHook) Refresh(ctx context.Context) (client.Page[Notification], error) {
	return h.feed.Fetch(h.scope.bind(ctx), struct{}{}, query.Force())
}

func (h *NotificationHook) MarkRead(ctx context.Context, id string) error {
	return h.svc.mutate(h.scope.bind(ctx), EndpointNotifications, func(ctx context.Context) error {
		path, err := itemPath(EndpointNotifications, id, "read")
		if err != nil {
			return err
		}

		return h.svc.Client.Post(ctx, path, nil, nil)
	}, h.refreshFeed)
}

func (h *NotificationHook) MarkAllRead(ctx context.Context) error {
	return h.svc.mutate(h.scope.bind(ctx), EndpointNotifications, func(ctx context.Context) error {
		return h.svc.Client.Post(ctx, EndpointNotifications+"/read-all", nil, nil)
	}, h.refreshFeed)
}

// Close stops polling. It does not wait for a poll in progress; that poll's
// result is discarded.
func (h *NotificationHook) Close() {
	h.feed.Close()
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *NotificationHook) refreshFeed(ctx context.Context) {
	_, err := h.feed.Fetch(ctx, struct{}{}, query.Force())
	logRefresh(h.logger, EndpointNotifications, err)
}
