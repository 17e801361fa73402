//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/accessdesk/internal/dashboard"
	"github.com/serroba/accessdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSessionRegistryIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: getRedisAddr(),
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	client.Del(ctx, "sessions")

	r := store.NewRedisSessionRegistry(client)
	created := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("save and list", func(t *testing.T) {
		rec := dashboard.SessionRecord{ID: "it-s1", Instance: "gw-1", CreatedAt: created, LastSeen: created}

		require.NoError(t, r.Save(ctx, rec, time.Minute))

		got, err := r.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "it-s1", got[0].ID)
		assert.Equal(t, "gw-1", got[0].Instance)
		assert.True(t, created.Equal(got[0].CreatedAt))

		ttl := client.TTL(ctx, "session:it-s1").Val()
		assert.Greater(t, ttl, 50*time.Second)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, r.Delete(ctx, "it-s1"))

		got, err := r.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("expired records are pruned", func(t *testing.T) {
		require.NoError(t, r.Save(ctx, dashboard.SessionRecord{ID: "it-short"}, 50*time.Millisecond))

		assert.Eventually(t, func() bool {
			got, err := r.List(ctx)

			return err == nil && len(got) == 0
		}, 2*time.Second, 25*time.Millisecond)

		assert.Zero(t, client.ZScore(ctx, "sessions", "it-short").Val())
	})
}
