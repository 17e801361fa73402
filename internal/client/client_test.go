package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/serroba/accessdesk/internal/apierr"
	"github.com/serroba/accessdesk/internal/auth"
	"github.com/serroba/accessdesk/internal/client"
	"github.com/serroba/accessdesk/internal/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newClient(t *testing.T, router http.Handler, token string) *client.Client {
	t.Helper()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	c, err := client.New(srv.URL, auth.NewMemoryTokenStore(token), client.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew(t *testing.T) {
	t.Run("rejects a relative base url", func(t *testing.T) {
		_, err := client.New("not a url", auth.NewMemoryTokenStore(""))
		assert.Error(t, err)
	})
}

func TestClient_Headers(t *testing.T) {
	t.Run("sends bearer token and generated request id", func(t *testing.T) {
		var authz, requestID string

		r := chi.NewRouter()
		r.Get("/resources/{id}", func(w http.ResponseWriter, req *http.Request) {
			authz = req.Header.Get("Authorization")
			requestID = req.Header.Get("X-Request-ID")
			writeJSON(w, http.StatusOK, item{ID: chi.URLParam(req, "id"), Name: "db"})
		})

		c := newClient(t, r, "tok")

		var got item
		require.NoError(t, c.Get(context.Background(), "/resources/r1", nil, &got))

		assert.Equal(t, item{ID: "r1", Name: "db"}, got)
		assert.Equal(t, "Bearer tok", authz)
		assert.Len(t, requestID, 16)
	})

	t.Run("omits authorization without a token and reuses context request id", func(t *testing.T) {
		var authz, requestID string

		r := chi.NewRouter()
		r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
			authz = req.Header.Get("Authorization")
			requestID = req.Header.Get("X-Request-ID")
			w.WriteHeader(http.StatusNoContent)
		})

		c := newClient(t, r, "")

		ctx := requestid.With(context.Background(), "req-123")
		require.NoError(t, c.Get(ctx, "/ping", nil, nil))

		assert.Empty(t, authz)
		assert.Equal(t, "req-123", requestID)
	})
}

func TestClient_Errors(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such resource"})
	})
	r.Get("/denied", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	})
	r.Get("/busy", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	r.Get("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	c := newClient(t, r, "tok")
	ctx := context.Background()

	t.Run("not found carries server message", func(t *testing.T) {
		err := c.Get(ctx, "/missing", nil, nil)

		var httpErr *apierr.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.Status)
		assert.Equal(t, "no such resource", httpErr.Message)
		assert.Equal(t, apierr.KindNotFound, apierr.Classify(err))
	})

	t.Run("unauthorized", func(t *testing.T) {
		err := c.Get(ctx, "/denied", nil, nil)

		assert.Equal(t, apierr.KindUnauthorized, apierr.Classify(err))
	})

	t.Run("rate limited parses retry-after", func(t *testing.T) {
		err := c.Get(ctx, "/busy", nil, nil)

		var rl *apierr.RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.Equal(t, 2*time.Second, rl.RetryAfter)
	})

	t.Run("server error", func(t *testing.T) {
		err := c.Get(ctx, "/broken", nil, nil)

		assert.Equal(t, apierr.KindServer, apierr.Classify(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := c.Get(cctx, "/missing", nil, nil)

		assert.True(t, apierr.IsCanceled(err))
	})
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := client.New(base, auth.NewMemoryTokenStore(""))
	require.NoError(t, err)

	err = c.Get(context.Background(), "/anything", nil, nil)

	var netErr *apierr.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, apierr.KindNetwork, apierr.Classify(err))
}

type transitionBody struct {
	Reason string `json:"reason" validate:"required,max=10"`
}

func TestClient_ValidatesBodyBeforeSending(t *testing.T) {
	var calls atomic.Int32

	r := chi.NewRouter()
	r.Post("/requests", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})

	c := newClient(t, r, "tok")

	err := c.Post(context.Background(), "/requests", transitionBody{}, nil)

	var vErr *apierr.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "is required", vErr.Fields["reason"])
	assert.Zero(t, calls.Load())

	require.NoError(t, c.Post(context.Background(), "/requests", transitionBody{Reason: "ok"}, nil))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetPage(t *testing.T) {
	var query url.Values

	r := chi.NewRouter()
	r.Get("/paged", func(w http.ResponseWriter, req *http.Request) {
		query = req.URL.Query()
		writeJSON(w, http.StatusOK, map[string]any{
			"content":       []item{{ID: "a"}, {ID: "b"}},
			"totalElements": 12,
			"totalPages":    6,
		})
	})
	r.Get("/bare", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []item{{ID: "x"}})
	})

	c := newClient(t, r, "tok")
	ctx := context.Background()

	t.Run("paged object with filters", func(t *testing.T) {
		filters := url.Values{"status": {"PENDING"}, "search": {""}}

		page, err := client.GetPage[item](ctx, c, "/paged", client.PageRequest{Page: 1, Size: 2, Sort: "name,asc"}, filters)
		require.NoError(t, err)

		assert.Len(t, page.Content, 2)
		assert.Equal(t, int64(12), page.TotalElements)
		assert.Equal(t, 6, page.TotalPages)
		assert.Equal(t, "1", query.Get("page"))
		assert.Equal(t, "2", query.Get("size"))
		assert.Equal(t, "name,asc", query.Get("sort"))
		assert.Equal(t, "PENDING", query.Get("status"))
		assert.False(t, query.Has("search"))
	})

	t.Run("bare array becomes a single page", func(t *testing.T) {
		page, err := client.GetPage[item](ctx, c, "/bare", client.DefaultPage, nil)
		require.NoError(t, err)

		assert.Equal(t, []item{{ID: "x"}}, page.Content)
		assert.Equal(t, int64(1), page.TotalElements)
		assert.Equal(t, 1, page.TotalPages)
	})

	t.Run("invalid page request never reaches the server", func(t *testing.T) {
		query = nil

		_, err := client.GetPage[item](ctx, c, "/paged", client.PageRequest{Page: -1, Size: 500}, nil)

		var vErr *apierr.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "must be at least 0", vErr.Fields["page"])
		assert.Equal(t, "must be at most 200", vErr.Fields["size"])
		assert.Nil(t, query)
	})
}

func TestDecodePage(t *testing.T) {
	t.Run("null body is an empty page", func(t *testing.T) {
		page, err := client.DecodePage[item]([]byte("null"))
		require.NoError(t, err)
		assert.Empty(t, page.Content)
		assert.NotNil(t, page.Content)
	})

	t.Run("empty array has no pages", func(t *testing.T) {
		page, err := client.DecodePage[item]([]byte("[]"))
		require.NoError(t, err)
		assert.Zero(t, page.TotalPages)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := client.DecodePage[item]([]byte("{"))
		assert.Error(t, err)
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"seconds", "5", 5 * time.Second},
		{"empty", "", 0},
		{"negative", "-3", 0},
		{"garbage", "soon", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, client.ParseRetryAfter(tt.value, now))
		})
	}
}
