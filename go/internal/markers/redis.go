package markers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rounds:marker:"

// RedisStore keeps markers as Redis keys. A non-zero retention becomes the key TTL,
// so eviction happens server-side.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) key(k Key) string {
	return redisKeyPrefix + k.String()
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key Key, at time.Time) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), strconv.FormatInt(at.Unix(), 10), s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set marker %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Exists(ctx context.Context, key Key) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check marker %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete marker %s: %w", key, err)
	}
	return nil
}

// Evict scans marker keys and removes those set before the cutoff. Keys written
// with a TTL expire on their own; this covers markers written without one.
func (s *RedisStore) Evict(ctx context.Context, before time.Time) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan markers: %w", err)
		}
		for _, k := range keys {
			val, err := s.client.Get(ctx, k).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("failed to read marker %s: %w", k, err)
			}
			unix, err := strconv.ParseInt(val, 10, 64)
			if err != nil || time.Unix(unix, 0).Before(before) {
				n, err := s.client.Del(ctx, k).Result()
				if err != nil {
					return removed, fmt.Errorf("failed to evict marker %s: %w", k, err)
				}
				removed += n
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
