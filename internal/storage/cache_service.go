package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CacheService provides high-level caching for read-only API lookups. Job
// runs never read from it; every run fetches market data fresh.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyTopVault is for the current best-yield vault
	CacheKeyTopVault CacheKeyType = "topvault"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	// Normalize all parameters to lowercase for consistency
	normalizedParams := make([]string, len(params))
	for i, param := range params {
		normalizedParams[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalizedParams...)
	return strings.Join(parts, ":")
}

// GenerateTopVaultKey generates a cache key for the top vault lookup
// Format: topvault:<asset-symbol>:<chain-id>
func (c *CacheService) GenerateTopVaultKey(assetSymbol string, chainID int) string {
	return c.GenerateCacheKey(CacheKeyTopVault, assetSymbol, fmt.Sprintf("%d", chainID))
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, c.ttl)
}

// Get retrieves a value from cache and deserializes it. The boolean reports
// a cache hit.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, found, err := c.redis.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}
	if !found {
		return false, nil
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}
