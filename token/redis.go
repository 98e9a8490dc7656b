// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package token

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRevocationCache is the shared RevocationCache backing for
// deployments running more than one stateless verifier process, so a
// revocation issued on one node is visible to all of them before the
// token's natural expiry.
type RedisRevocationCache struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocationCache wires a RevocationCache against an existing
// go-redis client. prefix namespaces keys, e.g. "agentgov:revoked:".
func NewRedisRevocationCache(client *redis.Client, prefix string) *RedisRevocationCache {
	if prefix == "" {
		prefix = "agentgov:revoked:"
	}
	return &RedisRevocationCache{client: client, prefix: prefix}
}

func (c *RedisRevocationCache) key(tokenID string) string { return c.prefix + tokenID }

// IsRevoked reports whether tokenID has an entry in the cache.
func (c *RedisRevocationCache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkRevoked records tokenID as revoked until its natural expiry, after
// which Redis reclaims the key automatically.
func (c *RedisRevocationCache) MarkRevoked(ctx context.Context, tokenID string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(tokenID), "1", ttl).Err()
}
