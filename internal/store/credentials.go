package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CredentialStore holds the single currently-whitelisted refresh token
// identifier (jti) per user, with a TTL matching the token's remaining
// lifetime. Any jti other than the stored one is treated as revoked.
type CredentialStore struct {
	client *redis.Client
}

func NewCredentialStore(addr, password string) (*CredentialStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CredentialStore{client: rdb}, nil
}

func (c *CredentialStore) Close() error {
	return c.client.Close()
}

func whitelistKey(userID string) string {
	return "whitelist:" + userID
}

// Put records jti as the sole valid refresh credential for userID, atomically
// displacing whatever was there before.
func (c *CredentialStore) Put(ctx context.Context, userID, jti string, ttl time.Duration) error {
	if err := c.client.Set(ctx, whitelistKey(userID), jti, ttl).Err(); err != nil {
		return fmt.Errorf("whitelist write failed: %w", err)
	}
	return nil
}

// Get returns the whitelisted jti for userID, or "" if none is stored.
func (c *CredentialStore) Get(ctx context.Context, userID string) (string, error) {
	jti, err := c.client.Get(ctx, whitelistKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("whitelist read failed: %w", err)
	}
	return jti, nil
}

// Delete revokes the stored credential for userID. Deleting a missing entry
// is not an error.
func (c *CredentialStore) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, whitelistKey(userID)).Err(); err != nil {
		return fmt.Errorf("whitelist delete failed: %w", err)
	}
	return nil
}
