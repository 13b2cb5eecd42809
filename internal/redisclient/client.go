package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetCatalog retrieves the cached catalog JSON for a property.
// Returns ok=false on a cache miss.
func (c *Client) GetCatalog(ctx context.Context, propertyID string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("catalog:%s", propertyID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SetCatalog stores the catalog JSON for a property with a TTL. Each entry is
// a complete value replacement, so last-writer-wins is safe.
func (c *Client) SetCatalog(ctx context.Context, propertyID string, data []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("catalog:%s", propertyID), data, ttl).Err()
}

// GetUserToken retrieves cached OAuth token material for a guest.
// Returns ok=false when no token is cached.
func (c *Client) GetUserToken(ctx context.Context, provider, guestID string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("token:%s:%s", provider, guestID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SetUserToken caches OAuth token material for a guest. The TTL should cover
// the refresh token's lifetime, not the access token's.
func (c *Client) SetUserToken(ctx context.Context, provider, guestID string, data []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("token:%s:%s", provider, guestID), data, ttl).Err()
}

// DeleteUserToken drops cached token material for a guest
func (c *Client) DeleteUserToken(ctx context.Context, provider, guestID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("token:%s:%s", provider, guestID)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
