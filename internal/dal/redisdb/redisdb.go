package redisdb

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client used for the pub/sub channel.
type Client struct {
	client redis.UniversalClient
}

// Redis returns the underlying universal client.
func (c *Client) Redis() redis.UniversalClient {
	return c.client
}

// Close closes the connection for graceful shutdown.
func (c *Client) Close() error {
	return c.client.Close()
}

// MustNewClient creates a new Redis client from REDIS_URL.
func MustNewClient() *Client {
	rawURL := os.Getenv("REDIS_URL")
	if rawURL == "" {
		rawURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid REDIS_URL: %v", err))
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("failed to connect to Redis: %v", err))
	}

	return &Client{client: client}
}
