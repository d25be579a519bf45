package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheConfig конфигурация кэша в Redis
type RedisCacheConfig struct {
	KeyPrefix string
	// TTL срок жизни отметки; 0 хранит отметку бессрочно
	TTL time.Duration
}

// DefaultRedisCacheConfig возвращает конфигурацию по умолчанию
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{KeyPrefix: DefaultKeyPrefix}
}

// RedisCache реализация Cache: ключ <prefix><eventId> со значением "processed"
type RedisCache struct {
	client redis.UniversalClient
	config RedisCacheConfig
}

// NewRedisCache создает кэш поверх существующего клиента
func NewRedisCache(client redis.UniversalClient, config RedisCacheConfig) *RedisCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	return &RedisCache{client: client, config: config}
}

// Key возвращает ключ отметки для события
func (c *RedisCache) Key(eventID string) string {
	return c.config.KeyPrefix + eventID
}

func (c *RedisCache) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := c.client.Get(ctx, c.Key(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get marker: %w", err)
	}
	return true, nil
}

func (c *RedisCache) MarkProcessed(ctx context.Context, eventID string) error {
	if err := c.client.Set(ctx, c.Key(eventID), ProcessedValue, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis set marker: %w", err)
	}
	return nil
}
