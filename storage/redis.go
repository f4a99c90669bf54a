package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements KV on top of Redis. Several terminals pointed at the
// same Redis database share one queue list.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore creates a new Redis-based store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		timeout: 5 * time.Second,
	}
}

// Get retrieves a value from Redis.
func (rs *RedisStore) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), rs.timeout)
	defer cancel()

	val, err := rs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis.
func (rs *RedisStore) Set(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), rs.timeout)
	defer cancel()
	return rs.client.Set(ctx, key, value, 0).Err()
}

// Delete removes a value from Redis.
func (rs *RedisStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), rs.timeout)
	defer cancel()
	return rs.client.Del(ctx, key).Err()
}

// Available always returns true; connection failures surface per call.
func (rs *RedisStore) Available() bool { return true }

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// GetClient returns the underlying Redis client.
func (rs *RedisStore) GetClient() *redis.Client {
	return rs.client
}
