package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/BatmanBruc/billing-engine/types"
)

type RedisClient struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(ctx context.Context, addr, password string, db int, prefix string) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisClientFrom(rdb, prefix), nil
}

// NewRedisClientFrom wraps an already configured client.
func NewRedisClientFrom(rdb *redis.Client, prefix string) *RedisClient {
	return &RedisClient{client: rdb, prefix: prefix}
}

func (r *RedisClient) Key(parts ...string) string {
	return strings.Join(append([]string{r.prefix}, parts...), ":")
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the JSON value at key into dest. A missing key returns
// types.ErrCacheMiss.
func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", types.ErrCacheMiss, key)
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (r *RedisClient) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
