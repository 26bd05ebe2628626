package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"livmore-rook-sync/internal/metrics"
)

const (
	backendRedis = "redis"
	keyPrefix    = "livmore:"
)

// NewRedisClient connects to Redis and pings it with a short timeout.
// Returns nil when the server cannot be reached, in which case callers fall
// back to the in-memory cache.
func NewRedisClient(addr, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unavailable, using in-memory cache", "addr", addr, "error", err)
		client.Close()
		return nil
	}
	return client
}

// Redis is a cache shared between instances
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis wraps a connected client
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		logger: slog.Default(),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookupsTotal.WithLabelValues(backendRedis, metrics.CacheMiss).Inc()
		return nil, false
	}
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues(backendRedis, metrics.CacheError).Inc()
		r.logger.Warn("Redis get failed", "key", key, "error", err)
		return nil, false
	}

	metrics.CacheLookupsTotal.WithLabelValues(backendRedis, metrics.CacheHit).Inc()
	return value, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := r.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		r.logger.Warn("Redis set failed", "key", key, "error", err)
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		r.logger.Warn("Redis delete failed", "key", key, "error", err)
	}
}
