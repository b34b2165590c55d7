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

// GetCachedCarrierStatus returns a cached tracking status, "" on miss
func (c *Client) GetCachedCarrierStatus(ctx context.Context, carrier, trackingNumber string) (string, error) {
	key := fmt.Sprintf("carrier:%s:%s", carrier, trackingNumber)

	status, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// SetCachedCarrierStatus caches a tracking status with TTL
func (c *Client) SetCachedCarrierStatus(ctx context.Context, carrier, trackingNumber, status string, ttl time.Duration) error {
	key := fmt.Sprintf("carrier:%s:%s", carrier, trackingNumber)
	return c.rdb.Set(ctx, key, status, ttl).Err()
}

// MarkEventSeen records an event id for consumer-side dedup. Returns
// true when this is the first sighting.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("event:%s", eventID), "1", ttl).Result()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
