package container_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/accessdesk/internal/container"
	"github.com/serroba/accessdesk/internal/dashboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, upstream string) *do.Injector {
	t.Helper()

	injector := do.New()
	do.ProvideValue(injector, &container.Options{
		RedisAddr:      "localhost:0",
		UpstreamURL:    upstream,
		Token:          "tok",
		LogFormat:      "json",
		LogLevel:       "error",
		CacheMaxSize:   100,
		CachePolicy:    "lru",
		CacheTTL:       60,
		Backend:        "memory",
		DebounceMs:     300,
		MaxRetries:     1,
		PollSeconds:    30,
		IdleMinutes:    15,
		ReadPerMinute:  100,
		WritePerMinute: 100,
	})
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.CachePackage(injector)
	container.RateLimitPackage(injector)
	container.ClientPackage(injector)
	container.EscalatorPackage(injector)
	container.PublisherGroupPackage(injector)
	container.DashboardPackage(injector)
	container.HTTPPackage(injector)

	t.Cleanup(func() { _ = injector.Shutdown() })

	return injector
}

func TestGatewayWiring(t *testing.T) {
	upstream := chi.NewRouter()
	upstream.Get("/notifications", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	upstream.Get("/resources", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"id":"r1","name":"orders-db"}],"totalElements":1,"totalPages":1}`))
	})

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	injector := newGateway(t, srv.URL)
	router := do.MustInvoke[*chi.Mux](injector)
	_ = do.MustInvoke[huma.API](injector)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var opened struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+opened.ID+"/resources", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orders-db")

	assert.Equal(t, 1, do.MustInvoke[*dashboard.SessionManager](injector).Len())
}
