package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cart-service/internal/apperr"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_key.lua
var claimKeyScript string

const pendingMarker = "pending"

type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(claimKeyScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:checkout:%s", key)
}

// IdempotencyStore remembers which order a checkout Idempotency-Key produced
type IdempotencyStore struct {
	client *Client
	ttl    time.Duration
}

// NewIdempotencyStore creates an idempotency store whose keys expire after ttl
func NewIdempotencyStore(client *Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Claim atomically reserves key. If the key already completed it returns
// the recorded order id with claimed=false; if another request holds it,
// apperr.ErrConflict.
func (s *IdempotencyStore) Claim(ctx context.Context, key string) (int64, bool, error) {
	result, err := s.client.claimScript.Run(ctx, s.client.rdb,
		[]string{idempotencyKey(key)}, pendingMarker, s.ttl.Milliseconds()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("claim idempotency key: %w", err)
	}

	value, ok := result.(string)
	if !ok {
		return 0, false, fmt.Errorf("unexpected script result type %T", result)
	}
	if value == pendingMarker {
		return 0, false, apperr.Conflict("request with idempotency key %q is in progress", key)
	}

	orderID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency value %q: %w", value, err)
	}
	return orderID, false, nil
}

// Complete records the order produced for key
func (s *IdempotencyStore) Complete(ctx context.Context, key string, orderID int64) error {
	return s.client.rdb.Set(ctx, idempotencyKey(key), strconv.FormatInt(orderID, 10), s.ttl).Err()
}

// Release drops a claim after a failed request so it can be retried
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.rdb.Del(ctx, idempotencyKey(key)).Err()
}
