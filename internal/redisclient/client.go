package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"settlement-engine/internal/models"
)

const saleKeyPrefix = "sale:"

type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client and checks connectivity.
// Sale states are stored for ttl; zero keeps them forever.
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
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

	return &Client{rdb: rdb, ttl: ttl}, nil
}

// NewWithRedis wraps an existing client
func NewWithRedis(rdb *redis.Client, ttl time.Duration) *Client {
	return &Client{rdb: rdb, ttl: ttl}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetSaleState returns a cached terminal sale state
func (c *Client) GetSaleState(ctx context.Context, key string) (models.SaleState, bool, error) {
	val, err := c.rdb.Get(ctx, saleKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get sale state failed: %w", err)
	}

	state := models.SaleState(val)
	if !state.Terminal() {
		return "", false, nil
	}
	return state, true, nil
}

// SetSaleState caches a terminal sale state. The first write wins, since a
// terminal state never changes.
func (c *Client) SetSaleState(ctx context.Context, key string, state models.SaleState) error {
	if !state.Terminal() {
		return nil
	}
	if err := c.rdb.SetNX(ctx, saleKeyPrefix+key, string(state), c.ttl).Err(); err != nil {
		return fmt.Errorf("set sale state failed: %w", err)
	}
	return nil
}
