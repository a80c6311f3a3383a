// cache/token.go
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenNotFound is returned when a token has no cached owner.
var ErrTokenNotFound = errors.New("token not cached")

const DefaultTokenPrefix = "session:"

// TokenCache maps login tokens to player ids in Redis.
type TokenCache struct {
	client redis.Cmdable
	prefix string
	expiry time.Duration
}

// NewTokenCache wraps an existing client. An empty prefix uses "session:".
func NewTokenCache(client redis.Cmdable, prefix string, expiry time.Duration) *TokenCache {
	if prefix == "" {
		prefix = DefaultTokenPrefix
	}
	return &TokenCache{client: client, prefix: prefix, expiry: expiry}
}

// Connect dials Redis and verifies it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *TokenCache) key(token string) string {
	return c.prefix + token
}

// Resolve returns the player id stored for token.
func (c *TokenCache) Resolve(ctx context.Context, token string) (int64, error) {
	id, err := c.client.Get(ctx, c.key(token)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve token: %w", err)
	}
	return id, nil
}

func (c *TokenCache) Set(ctx context.Context, token string, userID int64) error {
	return c.client.Set(ctx, c.key(token), userID, c.expiry).Err()
}

func (c *TokenCache) Delete(ctx context.Context, token string) error {
	return c.client.Del(ctx, c.key(token)).Err()
}
