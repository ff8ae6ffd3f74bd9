// Package cache implements a Redis read-through cache for catalog listings.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/streakkeeper/internal/model"
)

const (
	keyEnabled = "streakkeeper:catalog:enabled"
	keyAll     = "streakkeeper:catalog:all"
)

// redisClient is the subset of *redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Catalog caches catalog listings as JSON blobs.
type Catalog struct {
	client redisClient
	ttl    time.Duration
}

// NewCatalog constructs a catalog cache.
func NewCatalog(client *redis.Client, ttl time.Duration) *Catalog {
	return newCatalog(client, ttl)
}

func newCatalog(client redisClient, ttl time.Duration) *Catalog {
	return &Catalog{client: client, ttl: ttl}
}

func key(includeDisabled bool) string {
	if includeDisabled {
		return keyAll
	}
	return keyEnabled
}

// Get returns the cached listing. ok is false on a miss.
func (c *Catalog) Get(ctx context.Context, includeDisabled bool) ([]model.ShopItem, bool, error) {
	raw, err := c.client.Get(ctx, key(includeDisabled)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog cache get: %w", err)
	}
	var items []model.ShopItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("catalog cache decode: %w", err)
	}
	return items, true, nil
}

// Set stores a listing with the configured TTL.
func (c *Catalog) Set(ctx context.Context, includeDisabled bool, items []model.ShopItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(includeDisabled), raw, c.ttl).Err()
}

// Invalidate drops both listings.
func (c *Catalog) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, keyEnabled, keyAll).Err()
}
