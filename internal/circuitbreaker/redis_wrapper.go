package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper fronts the session store's redis client. Once the backend has
// failed enough to trip the breaker, commands return ErrCircuitBreakerOpen
// immediately instead of waiting out dial timeouts. A redis.Nil reply is a
// cache miss, never a failure.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
}

// NewRedisWrapper wraps client with a breaker named "redis".
func NewRedisWrapper(client *redis.Client, cfg Config, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client: client,
		cb:     NewCircuitBreaker("redis", cfg, logger),
	}
}

// Ping wraps redis PING.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	if result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Get wraps redis GET. A missing key passes through as redis.Nil without
// counting against the breaker.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})
	if result == nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Set wraps redis SET with expiration.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})
	if result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Del wraps redis DEL.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})
	if result == nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Keys wraps redis KEYS. The session keyspace is small and bounded by TTL,
// so the blocking scan is acceptable here.
func (rw *RedisWrapper) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Keys(ctx, pattern)
		return result.Err()
	})
	if result == nil {
		result = redis.NewStringSliceCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the raw client for commands the wrapper does not cover.
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen reports whether calls would currently fail fast.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
