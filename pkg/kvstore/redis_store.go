package kvstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists KV entries in Redis, selected when DATABASE_URL
// has the redis:// scheme. Namespaces map to a hash key; entries within a namespace
// are hash fields, so List is a single HGETALL.
type RedisStore struct {
	client *redis.Client
}

// OpenRedisStore connects to the Redis instance described by url (a
// redis:// or rediss:// connection string).
func OpenRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opt)}, nil
}

func hashKey(namespace string) string { return "astridguard:" + namespace }

func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	v, err := s.client.HGet(ctx, hashKey(namespace), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: redis get: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := s.client.HSet(ctx, hashKey(namespace), key, value).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := s.client.HDel(ctx, hashKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("kvstore: redis delete: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	raw, err := s.client.HGetAll(ctx, hashKey(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: redis list: %w", err)
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		out[k] = []byte(v)
	}
	return out, nil
}

// Close releases the underlying client connection.
func (s *RedisStore) Close() error { return s.client.Close() }
