package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"e2eechat/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache holds active key lookups. Implementations must treat a miss as
// (nil, nil) and never return revoked keys after Invalidate.
type Cache interface {
	Get(ctx context.Context, userID uuid.UUID, label string) (*domain.UserPublicKey, error)
	Put(ctx context.Context, label string, key domain.UserPublicKey) error
	Invalidate(ctx context.Context, userID uuid.UUID, label string) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, uuid.UUID, string) (*domain.UserPublicKey, error) {
	return nil, nil
}

func (NopCache) Put(context.Context, string, domain.UserPublicKey) error { return nil }

func (NopCache) Invalidate(context.Context, uuid.UUID, string) error { return nil }

// RedisCache stores active keys as JSON under chatd:keys:<user>:<label>.
// The empty label (latest key on any device) is stored as "*".
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID, label string) (*domain.UserPublicKey, error) {
	raw, err := c.client.Get(ctx, cacheKey(userID, label)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var key domain.UserPublicKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("decode cached key: %w", err)
	}
	return &key, nil
}

func (c *RedisCache) Put(ctx context.Context, label string, key domain.UserPublicKey) error {
	raw, err := json.Marshal(key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(key.UserID, label), raw, c.ttl).Err()
}

// Invalidate drops the label entry and the user's latest-key entry.
func (c *RedisCache) Invalidate(ctx context.Context, userID uuid.UUID, label string) error {
	return c.client.Del(ctx, cacheKey(userID, label), cacheKey(userID, "")).Err()
}

func cacheKey(userID uuid.UUID, label string) string {
	if label == "" {
		label = "*"
	}
	return fmt.Sprintf("chatd:keys:%s:%s", userID, label)
}
