package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisPINLookupCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPINLookupCache(client redis.UniversalClient, prefix string) *RedisPINLookupCache {
	if prefix == "" {
		prefix = "pin_lookup_cache"
	}
	return &RedisPINLookupCache{client: client, prefix: prefix}
}

func (c *RedisPINLookupCache) IsKnownMiss(ctx context.Context, namespace, pin string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.dataKey(namespace, pin)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisPINLookupCache) RememberMiss(ctx context.Context, namespace, pin string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	dataKey := c.dataKey(namespace, pin)
	indexKey := c.indexKey(namespace)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, dataKey, "1", ttl)
	pipe.SAdd(ctx, indexKey, dataKey)
	pipe.Expire(ctx, indexKey, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisPINLookupCache) Invalidate(ctx context.Context, namespace string) error {
	if c.client == nil {
		return nil
	}
	indexKey := c.indexKey(namespace)
	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, indexKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisPINLookupCache) dataKey(namespace, pin string) string {
	return fmt.Sprintf("%s:data:%s:%s", c.prefix, normalizeNamespace(namespace), hashPIN(pin))
}

func (c *RedisPINLookupCache) indexKey(namespace string) string {
	return fmt.Sprintf("%s:index:%s", c.prefix, normalizeNamespace(namespace))
}

func normalizeNamespace(namespace string) string {
	v := strings.TrimSpace(strings.ToLower(namespace))
	if v == "" {
		return "default"
	}
	return strings.ReplaceAll(v, ":", "_")
}

// PINs never land in Redis as plaintext.
func hashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}
