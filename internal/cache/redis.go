package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

const defaultTTL = 10 * time.Minute

// ErrDisabled is returned by Ping on a cache built without a client.
var ErrDisabled = errors.New("cache disabled")

// Cache stores recommendation sets per user in redis. A nil *Cache is valid
// and caches nothing.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func buildKey(userID uuid.UUID, limit int, genre domain.Genre) string {
	if genre == "" {
		genre = "all"
	}
	return fmt.Sprintf("rec:user:%s:limit:%d:genre:%s", userID, limit, genre)
}

// Get returns the cached set, or nil on a miss.
func (c *Cache) Get(ctx context.Context, userID uuid.UUID, limit int, genre domain.Genre) (*domain.RecommendationSet, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	key := buildKey(userID, limit, genre)
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendations from cache: %w", err)
	}

	var set domain.RecommendationSet
	if err := json.Unmarshal(val, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommendations %s: %w", key, err)
	}
	return &set, nil
}

// Set stores a recommendation set for the configured TTL.
func (c *Cache) Set(ctx context.Context, userID uuid.UUID, limit int, genre domain.Genre, set domain.RecommendationSet) error {
	if c == nil || c.client == nil {
		return nil
	}
	val, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	if err := c.client.Set(ctx, buildKey(userID, limit, genre), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set recommendations in cache: %w", err)
	}
	return nil
}

// ClearUserCache drops every cached set for the user. It runs after new
// interactions are recorded.
func (c *Cache) ClearUserCache(ctx context.Context, userID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := fmt.Sprintf("rec:user:%s:*", userID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache delete %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrDisabled
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
