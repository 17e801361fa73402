package dashboard_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/serroba/accessdesk/internal/activity"
	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/auth"
	"github.com/serroba/accessdesk/internal/cache"
	"github.com/serroba/accessdesk/internal/client"
	"github.com/serroba/accessdesk/internal/dashboard"
	"github.com/serroba/accessdesk/internal/query"
	"github.com/serroba/accessdesk/internal/ratelimit"
	"github.com/serroba/accessdesk/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// upstream is a fake admin API that records what it was asked.
type upstream struct {
	mu      sync.Mutex
	hits    map[string]int
	queries map[string]url.Values
	bodies  map[string]map[string]any
	status  map[string]int
	gates   map[string]chan struct{}
	started chan string
}

func newUpstream() *upstream {
	return &upstream{
		hits:    make(map[string]int),
		queries: make(map[string]url.Values),
		bodies:  make(map[string]map[string]any),
		status:  make(map[string]int),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (u *upstream) count(route string) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.hits[route]
}

func (u *upstream) query(route string) url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.queries[route]
}

func (u *upstream) body(route string) map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.bodies[route]
}

func (u *upstream) fail(route string, status int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.status[route] = status
}

// block holds requests to route until the returned func is called.
func (u *upstream) block(route string) func() {
	u.mu.Lock()
	defer u.mu.Unlock()

	gate := make(chan struct{})
	u.gates[route] = gate

	var once sync.Once

	return func() { once.Do(func() { close(gate) }) }
}

// record returns false when the route was told to fail.
func (u *upstream) record(w http.ResponseWriter, r *http.Request, route string) bool {
	u.mu.Lock()
	u.hits[route]++
	u.queries[route] = r.URL.Query()

	if r.Body != nil && r.ContentLength != 0 {
		var body map[string]any
		if json.NewDecoder(r.Body).Decode(&body) == nil {
			u.bodies[route] = body
		}
	}

	status := u.status[route]
	gate := u.gates[route]
	u.mu.Unlock()

	select {
	case u.started <- route:
	default:
	}

	if gate != nil {
		<-gate
	}

	if status != 0 {
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func page[T any](items ...T) map[string]any {
	return map[string]any{"content": items, "totalElements": len(items), "totalPages": 1}
}

func (u *upstream) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/resources", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "GET /resources") {
			search := req.URL.Query().Get("search")
			writeJSON(w, http.StatusOK, page(dashboard.Resource{ID: "r-" + search, Name: "db " + search, Type: "database"}))
		}
	})
	r.Post("/resources", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "POST /resources") {
			writeJSON(w, http.StatusCreated, dashboard.Resource{ID: "r-new", Name: "created"})
		}
	})
	r.Put("/resources/{id}", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "PUT /resources/{id}") {
			writeJSON(w, http.StatusOK, dashboard.Resource{ID: chi.URLParam(req, "id"), Name: "updated"})
		}
	})
	r.Delete("/resources/{id}", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "DELETE /resources/{id}") {
			w.WriteHeader(http.StatusNoContent)
		}
	})

	r.Get("/workflows", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "GET /workflows") {
			writeJSON(w, http.StatusOK, []dashboard.Workflow{{ID: "w1", Name: "default"}})
		}
	})
	r.Get("/workflows/{id}", func(w http.ResponseWriter, req *http.Request) {
		if !u.record(w, req, "GET /workflows/{id}") {
			return
		}

		id := chi.URLParam(req, "id")
		if id == "missing" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such workflow"})

			return
		}

		writeJSON(w, http.StatusOK, dashboard.Workflow{ID: id, Name: "default", Active: true})
	})
	r.Put("/workflows/{id}", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "PUT /workflows/{id}") {
			writeJSON(w, http.StatusOK, dashboard.Workflow{ID: chi.URLParam(req, "id"), Name: "renamed"})
		}
	})
	r.Delete("/workflows/{id}", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "DELETE /workflows/{id}") {
			w.WriteHeader(http.StatusNoContent)
		}
	})

	r.Get("/access-requests", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "GET /access-requests") {
			writeJSON(w, http.StatusOK, page(dashboard.AccessRequest{ID: "ar1", Status: dashboard.StatusPending}))
		}
	})
	r.Post("/access-requests", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "POST /access-requests") {
			writeJSON(w, http.StatusCreated, dashboard.AccessRequest{ID: "ar2", Status: dashboard.StatusPending})
		}
	})
	r.Post("/access-requests/{id}/{action}", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "POST /access-requests/{id}/"+chi.URLParam(req, "action")) {
			writeJSON(w, http.StatusOK, dashboard.AccessRequest{ID: chi.URLParam(req, "id"), Status: dashboard.StatusApproved})
		}
	})

	r.Get("/notifications", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "GET /notifications") {
			writeJSON(w, http.StatusOK, page(
				dashboard.Notification{ID: "n1", Title: "approved"},
				dashboard.Notification{ID: "n2", Title: "rejected"},
				dashboard.Notification{ID: "n3", Title: "old", Read: true},
			))
		}
	})
	r.Post("/notifications/{id}/read", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "POST /notifications/{id}/read") {
			w.WriteHeader(http.StatusNoContent)
		}
	})
	r.Post("/notifications/read-all", func(w http.ResponseWriter, req *http.Request) {
		if u.record(w, req, "POST /notifications/read-all") {
			w.WriteHeader(http.StatusNoContent)
		}
	})

	return r
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []activity.TransitionRequestedEvent
}

func (p *recordingPublisher) TransitionRequested(_ context.Context, event *activity.TransitionRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, *event)

	return nil
}

func (p *recordingPublisher) all() []activity.TransitionRequestedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]activity.TransitionRequestedEvent(nil), p.events...)
}

type env struct {
	upstream  *upstream
	clock     *clockwork.FakeClock
	cache     *cache.Store
	tokens    *auth.MemoryTokenStore
	publisher *recordingPublisher
	registry  *store.MemorySessionRegistry
	manager   *dashboard.SessionManager
}

func newEnv(t *testing.T, opts ...func(*dashboard.Services)) *env {
	t.Helper()

	e := &env{
		upstream:  newUpstream(),
		clock:     clockwork.NewFakeClock(),
		tokens:    auth.NewMemoryTokenStore("tok"),
		publisher: &recordingPublisher{},
	}

	srv := httptest.NewServer(e.upstream.router())
	t.Cleanup(srv.Close)

	c, err := client.New(srv.URL, e.tokens, client.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	e.cache = cache.New(cache.WithClock(e.clock), cache.WithSweepInterval(0))
	limiter := ratelimit.New(store.NewRateLimitMemoryStore(e.clock), ratelimit.WithClock(e.clock))
	e.registry = store.NewMemorySessionRegistry(e.clock)

	signOut := auth.SignOut(e.tokens, func(ctx context.Context) {
		e.manager.SignOutAll(ctx)
	}, zap.NewNop())

	svc := &dashboard.Services{
		Client: c,
		Query: query.Deps{
			Cache:     e.cache,
			Limiter:   limiter,
			Escalator: apierr.NewEscalator(signOut, nil, zap.NewNop()),
			Clock:     e.clock,
		},
		Activity: e.publisher,
		Tuning: dashboard.Tuning{
			TTL:        time.Minute,
			Debounce:   300 * time.Millisecond,
			MaxRetries: 2,
		},
		PollInterval: 30 * time.Second,
		Logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	e.manager, err = dashboard.NewSessionManager(svc,
		dashboard.WithIdleTimeout(time.Minute),
		dashboard.WithRegistry(e.registry, "gw-test"),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = e.manager.Shutdown()
		_ = limiter.Shutdown()
		_ = e.cache.Shutdown()
	})

	return e
}

func withCooldown(d time.Duration) func(*dashboard.Services) {
	return func(svc *dashboard.Services) {
		svc.Tuning.Cooldown = d
	}
}

func (e *env) open(t *testing.T) *dashboard.Session {
	t.Helper()

	s, err := e.manager.Open(context.Background())
	require.NoError(t, err)

	return s
}
