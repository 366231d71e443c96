package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vault-rebalancer/internal/types"
)

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCacheService(NewRedisCacheFromClient(client), time.Minute), mr
}

func TestCacheServiceRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	vault := types.VaultInfo{
		ID:      "vault-1",
		Address: "0x1111111111111111111111111111111111111111",
		Name:    "Prime USDC",
		Symbol:  "pUSDC",
		State:   types.VaultState{NetAPY: 0.0712},
	}

	key := cache.GenerateTopVaultKey("USDC", 8453)
	require.NoError(t, cache.Set(ctx, key, vault))

	var got types.VaultInfo
	found, err := cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, vault, got)
}

func TestCacheServiceMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	var got types.VaultInfo
	found, err := cache.Get(context.Background(), "topvault:usdc:1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheServiceExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key := cache.GenerateTopVaultKey("USDC", 8453)
	require.NoError(t, cache.Set(ctx, key, types.VaultInfo{ID: "vault-1"}))

	mr.FastForward(2 * time.Minute)

	var got types.VaultInfo
	found, err := cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheServiceInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	key := cache.GenerateTopVaultKey("USDC", 8453)
	require.NoError(t, cache.Set(ctx, key, types.VaultInfo{ID: "vault-1"}))
	require.NoError(t, cache.Invalidate(ctx, key))

	var got types.VaultInfo
	found, err := cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGenerateTopVaultKeyNormalizesCase(t *testing.T) {
	cache, _ := newTestCache(t)

	assert.Equal(t, "topvault:usdc:8453", cache.GenerateTopVaultKey("USDC", 8453))
	assert.Equal(t, cache.GenerateTopVaultKey("usdc", 8453), cache.GenerateTopVaultKey("USDC", 8453))
}
