package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	client *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password by default
		DB:       0,  // default DB
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Client{client: rdb}, nil
}

// HashFields reads the given fields of a hash. Missing fields come back as nil.
func (c *Client) HashFields(ctx context.Context, key string, fields ...string) ([]interface{}, error) {
	vals, err := c.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read hash %s: %w", key, err)
	}
	return vals, nil
}

// Run executes a Lua script, loading it on first use.
func (c *Client) Run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (int64, error) {
	n, err := script.Run(ctx, c.client, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to run script: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
