package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/serroba/accessdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitMemoryStore(t *testing.T) {
	t.Run("records and counts requests", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore(clockwork.NewFakeClock())

		for want := int64(1); want <= 3; want++ {
			count, err := s.Record(context.Background(), "key1", time.Minute)

			require.NoError(t, err)
			assert.Equal(t, want, count)
		}
	})

	t.Run("tracks keys independently", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore(clockwork.NewFakeClock())

		_, _ = s.Record(context.Background(), "key1", time.Minute)
		_, _ = s.Record(context.Background(), "key1", time.Minute)

		count, err := s.Record(context.Background(), "key2", time.Minute)

		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "key2 should have its own counter")
	})

	t.Run("resets to one when the window has elapsed", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := store.NewRateLimitMemoryStore(clock)

		_, _ = s.Record(context.Background(), "key1", time.Second)
		_, _ = s.Record(context.Background(), "key1", time.Second)

		clock.Advance(999 * time.Millisecond)

		count, _ := s.Record(context.Background(), "key1", time.Second)
		assert.Equal(t, int64(3), count, "still inside the window")

		clock.Advance(time.Millisecond)

		count, err := s.Record(context.Background(), "key1", time.Second)

		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "window boundary opens a new window")
	})

	t.Run("prunes old windows", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := store.NewRateLimitMemoryStore(clock)

		_, _ = s.Record(context.Background(), "old", time.Second)
		clock.Advance(time.Hour)
		_, _ = s.Record(context.Background(), "fresh", time.Second)

		assert.Equal(t, 1, s.Prune(time.Minute))
	})
}
