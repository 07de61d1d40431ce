package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "loopkit:session:"

const (
	redisDialTimeout = 3 * time.Second
	redisIOTimeout   = 2 * time.Second
	redisPingTimeout = 2 * time.Second
)

// NewRedisClient connects to addr, which is either host:port or a
// redis:// URL, and pings it before returning.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr, Password: password, DB: db}
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = redisDialTimeout
	opts.ReadTimeout = redisIOTimeout
	opts.WriteTimeout = redisIOTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	slog.Info("redis client connected", "addr", opts.Addr, "pool_size", opts.PoolSize)
	return client, nil
}

// SessionCache remembers which member a token hash belongs to so most
// requests skip the sessions table.
type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (userID string, ok bool, err error)
	Set(ctx context.Context, tokenHash, userID string, ttl time.Duration) error
	Delete(ctx context.Context, tokenHash string) error
}

// RedisSessionCache is a SessionCache backed by Redis keys with a TTL.
type RedisSessionCache struct {
	client redis.Cmdable
	maxTTL time.Duration
}

// NewRedisSessionCache caches entries for at most maxTTL.
func NewRedisSessionCache(client redis.Cmdable, maxTTL time.Duration) *RedisSessionCache {
	return &RedisSessionCache{client: client, maxTTL: maxTTL}
}

func (c *RedisSessionCache) Get(ctx context.Context, tokenHash string) (string, bool, error) {
	id, err := c.client.Get(ctx, sessionKeyPrefix+tokenHash).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis session get: %w", err)
	}
	return id, true, nil
}

func (c *RedisSessionCache) Set(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	if c.maxTTL > 0 && (ttl <= 0 || ttl > c.maxTTL) {
		ttl = c.maxTTL
	}
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, sessionKeyPrefix+tokenHash, userID, ttl).Err(); err != nil {
		return fmt.Errorf("redis session set: %w", err)
	}
	return nil
}

func (c *RedisSessionCache) Delete(ctx context.Context, tokenHash string) error {
	if err := c.client.Del(ctx, sessionKeyPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("redis session delete: %w", err)
	}
	return nil
}
