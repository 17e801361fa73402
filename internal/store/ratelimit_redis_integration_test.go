//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/accessdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func TestRateLimitRedisStoreIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: getRedisAddr(),
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	gen, _ := nanoid.Standard(10)
	s := store.NewRateLimitRedisStore(client)

	t.Run("counts within a window", func(t *testing.T) {
		key := "it:" + gen()

		for want := int64(1); want <= 3; want++ {
			count, err := s.Record(ctx, key, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, count)
		}

		client.Del(ctx, "accessdesk:ratelimit:"+key)
	})

	t.Run("window expires", func(t *testing.T) {
		key := "it:" + gen()

		_, _ = s.Record(ctx, key, 50*time.Millisecond)
		time.Sleep(80 * time.Millisecond)

		count, err := s.Record(ctx, key, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}
