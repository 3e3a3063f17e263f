package wallet

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps local state in a single redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore stores state under hash key (e.g. "walletcore:local-state").
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.HGet(ctx, s.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	return s.client.HSet(ctx, s.key, key, value).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.HDel(ctx, s.key, key).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
