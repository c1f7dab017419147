package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// RedisSet хранит ключи в Redis через SETNX с TTL. TTL страхует от меток, брошенных упавшим процессом.
type RedisSet struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSet создаёт набор с префиксом ключей prefix.
func NewRedisSet(client *redis.Client, prefix string, ttl time.Duration) *RedisSet {
	return &RedisSet{client: client, prefix: prefix, ttl: ttl}
}

// Reset удаляет все ключи с префиксом набора.
func (s *RedisSet) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan locks: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete locks: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// TryAcquire занимает key, если его нет в Redis.
func (s *RedisSet) TryAcquire(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx lock: %w", err)
	}
	return ok, nil
}

// Release удаляет key.
func (s *RedisSet) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
