package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/accessdesk/internal/dashboard"
)

// RedisSessionRegistry shares session records between gateway instances.
// Each record is a string key with a TTL; a sorted set indexes ids by expiry.
type RedisSessionRegistry struct {
	client redis.UniversalClient
	prefix string
	index  string
	now    func() time.Time
}

// NewRedisSessionRegistry creates a Redis-backed registry.
func NewRedisSessionRegistry(client redis.UniversalClient) *RedisSessionRegistry {
	return &RedisSessionRegistry{
		client: client,
		prefix: "session:",
		index:  "sessions",
		now:    time.Now,
	}
}

func (r *RedisSessionRegistry) Save(ctx context.Context, record dashboard.SessionRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", record.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefix+record.ID, data, ttl)
	pipe.ZAdd(ctx, r.index, redis.Z{Score: float64(r.now().Add(ttl).UnixMilli()), Member: record.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", record.ID, err)
	}

	return nil
}

func (r *RedisSessionRegistry) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.prefix+id)
	pipe.ZRem(ctx, r.index, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	return nil
}

func (r *RedisSessionRegistry) List(ctx context.Context) ([]dashboard.SessionRecord, error) {
	cutoff := strconv.FormatInt(r.now().UnixMilli(), 10)
	if err := r.client.ZRemRangeByScore(ctx, r.index, "-inf", cutoff).Err(); err != nil {
		return nil, fmt.Errorf("prune sessions: %w", err)
	}

	ids, err := r.client.ZRange(ctx, r.index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	if len(ids) == 0 {
		return []dashboard.SessionRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefix + id
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]dashboard.SessionRecord, 0, len(values))

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired between ZRANGE and MGET
		}

		var record dashboard.SessionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}

		out = append(out, record)
	}

	sortRecords(out)

	return out, nil
}
