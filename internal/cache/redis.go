package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries in Redis under "<prefix><namespace>:<key>" and
// relies on Redis expiry for TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore creates a client for addr. It does not dial; connection
// problems surface on the first operation.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 2 * time.Second,
		MaxRetries:  1,
	})
	return NewRedisStoreFromClient(client, opts.Prefix)
}

// NewRedisStoreFromClient wraps an existing client so it can be shared with
// other Redis consumers such as the rate limiter.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "intake:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Client exposes the underlying client.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) key(namespace, key string) string {
	return r.prefix + namespace + ":" + key
}

func (r *RedisStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
