package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingStore struct {
	CatalogStore
	calls int
}

func (c *countingStore) AvailableEntities(ctx context.Context, projectID string) (*models.AvailableEntities, error) {
	c.calls++
	return c.CatalogStore.AvailableEntities(ctx, projectID)
}

func newCache(t *testing.T) (*RedisCatalogCache, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := NewMemoryStorage()
	require.NoError(t, mem.PutCatalog(sampleCatalog()))
	backing := &countingStore{CatalogStore: mem}
	return NewRedisCatalogCache(backing, client, time.Minute, zap.NewNop()), backing, mr
}

func TestRedisCatalogCacheReadThrough(t *testing.T) {
	cache, backing, mr := newCache(t)
	ctx := context.Background()

	first, err := cache.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.calls)
	assert.True(t, mr.Exists("catalog:project-a"))
	assert.Equal(t, time.Minute, mr.TTL("catalog:project-a"))

	second, err := cache.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.calls)
	assert.Equal(t, first, second)

	require.NoError(t, cache.Invalidate(ctx, "project-a"))
	_, err = cache.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	assert.Equal(t, 2, backing.calls)
}

func TestRedisCatalogCacheExpiry(t *testing.T) {
	cache, backing, mr := newCache(t)
	ctx := context.Background()

	_, err := cache.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = cache.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	assert.Equal(t, 2, backing.calls)
}

func TestRedisCatalogCacheDoesNotCacheMisses(t *testing.T) {
	cache, _, mr := newCache(t)

	_, err := cache.AvailableEntities(context.Background(), "unknown")
	assert.ErrorIs(t, err, errs.ErrCatalogNotFound)
	assert.False(t, mr.Exists("catalog:unknown"))
}

func TestRedisCatalogCacheFallsBackWhenRedisIsDown(t *testing.T) {
	cache, backing, mr := newCache(t)
	mr.Close()

	catalog, err := cache.AvailableEntities(context.Background(), "project-a")
	require.NoError(t, err)
	assert.Equal(t, "John", catalog.Contributors["john_id"])
	assert.Equal(t, 1, backing.calls)
}

func TestRedisCatalogCacheIgnoresCorruptEntries(t *testing.T) {
	cache, backing, mr := newCache(t)
	require.NoError(t, mr.Set("catalog:project-a", "{not json"))

	catalog, err := cache.AvailableEntities(context.Background(), "project-a")
	require.NoError(t, err)
	assert.Equal(t, 1, backing.calls)

	cached, err := mr.Get("catalog:project-a")
	require.NoError(t, err)
	var decoded models.AvailableEntities
	require.NoError(t, json.Unmarshal([]byte(cached), &decoded))
	assert.Equal(t, catalog.Contributors, decoded.Contributors)
}
