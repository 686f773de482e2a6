package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares settings between bot processes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to url and verifies the connection.
func NewRedisCache(ctx context.Context, url, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", opts.Addr, err)
	}
	return NewRedisCacheFromClient(client, prefix), nil
}

func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "supportbot"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(botName string) string {
	return c.prefix + ":settings:" + botName
}

func (c *RedisCache) Get(ctx context.Context, botName string) (BotSettings, bool, error) {
	data, err := c.client.Get(ctx, c.key(botName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return BotSettings{}, false, nil
		}
		return BotSettings{}, false, err
	}
	var value BotSettings
	if err := json.Unmarshal(data, &value); err != nil {
		return BotSettings{}, false, fmt.Errorf("decode cached settings: %w", err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, botName string, value BotSettings, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(botName), data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, botName string) error {
	return c.client.Del(ctx, c.key(botName)).Err()
}

// Ping reports whether Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
