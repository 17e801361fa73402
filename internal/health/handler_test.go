package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/accessdesk/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	err error
}

func (m *mockChecker) Ping(_ context.Context) error {
	return m.err
}

func TestHandler_Check(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name         string
		redis        health.Checker
		upstream     health.Checker
		wantStatus   string
		wantRedis    string
		wantUpstream string
	}{
		{"all healthy", &mockChecker{}, &mockChecker{}, "ok", "healthy", "healthy"},
		{"redis down", &mockChecker{err: down}, &mockChecker{}, "degraded", "unhealthy", "healthy"},
		{"upstream down", &mockChecker{}, &mockChecker{err: down}, "degraded", "healthy", "unhealthy"},
		{"redis not configured", nil, &mockChecker{}, "ok", "disabled", "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := health.NewHandler(tt.redis, tt.upstream)

			resp, err := handler.Check(context.Background(), nil)

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.Body.Status)
			assert.Equal(t, tt.wantRedis, resp.Body.Redis)
			assert.Equal(t, tt.wantUpstream, resp.Body.Upstream)
		})
	}
}

func TestRegisterRoutes(t *testing.T) {
	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("Test", "1.0.0"))
	health.RegisterRoutes(api, health.NewHandler(nil, &mockChecker{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"upstream":"healthy"`)
}

func TestRedisChecker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	assert.NoError(t, health.NewRedisChecker(client).Ping(context.Background()))
}
