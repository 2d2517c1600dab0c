package util

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"swipeskills/internal/config"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisClient{client: rdb}, nil
}

// NewRedisClientFrom wraps an existing client
func NewRedisClientFrom(rdb *redis.Client) *RedisClient {
	return &RedisClient{client: rdb}
}

// Get retrieves a value from Redis by key
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// GetJSON decodes a cached JSON value into v
func (r *RedisClient) GetJSON(ctx context.Context, key string, v any) error {
	val, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), v)
}

// Set stores a value in Redis with expiration. Non-string values are stored as JSON.
func (r *RedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	val, err := encodeValue(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, val, expiration).Err()
}

var setIfUnchangedScript = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '') == ARGV[1] then
	return redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
end
return false
`)

// SetIfUnchanged stores value under key only while guardKey still holds
// guard (empty meaning absent). It reports whether the value was written.
func (r *RedisClient) SetIfUnchanged(ctx context.Context, guardKey, guard, key string, value any, expiration time.Duration) (bool, error) {
	val, err := encodeValue(value)
	if err != nil {
		return false, err
	}
	err = setIfUnchangedScript.Run(ctx, r.client, []string{guardKey, key}, guard, val, expiration.Milliseconds()).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MGet returns the values of keys in order, empty for missing keys
func (r *RedisClient) MGet(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}

// Incr increments counters and refreshes their expiry in one transaction
func (r *RedisClient) Incr(ctx context.Context, expiration time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, k := range keys {
		pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, expiration)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func encodeValue(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal value")
	}
	return string(jsonBytes), nil
}

// Delete removes keys from Redis
func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// DeletePattern removes all keys matching a pattern, scanning instead of KEYS
// so large keyspaces do not block the server
func (r *RedisClient) DeletePattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return r.Delete(ctx, batch...)
}

// Exists checks if a key exists in Redis
func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client (pub/sub, pipelines)
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}
