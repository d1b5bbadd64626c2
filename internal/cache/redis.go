package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password is the optional AUTH password.
	Password string `yaml:"password"`

	// DB selects the Redis logical database.
	DB int `yaml:"db"`

	// DialTimeout bounds connection establishment. Default 5s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// RedisStore implements Store on a shared Redis instance. A single client
// is constructed per process and is safe for concurrent use.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store and verifies connectivity with a ping.
// A failed ping is returned as an error so the caller can decide whether
// to run degraded (nil store, fail-open) or abort startup.
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: dialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", config.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Incr implements Store. INCR is atomic server-side, which is what
// admission correctness depends on; the conditional EXPIRE only runs on
// the call that created the key.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return n, nil
}

// casScript swaps a value only while the current value still matches.
// A missing key compares as the empty string.
var casScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
  current = ""
end
if current ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// CompareAndSwap implements Swapper. The script runs atomically on the
// Redis server, so concurrent swappers of one key never lose an update.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key, expect, value string, ttl time.Duration) (bool, error) {
	n, err := casScript.Run(ctx, s.client, []string{key}, expect, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
