package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/metrics"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const catalogKeyPrefix = "catalog:"

// RedisCatalogCache fronts a CatalogStore with a Redis read-through cache.
// Redis failures are logged and the underlying store is used instead.
type RedisCatalogCache struct {
	next   CatalogStore
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCatalogCache(next CatalogStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCatalogCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCatalogCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func catalogKey(projectID string) string {
	return catalogKeyPrefix + projectID
}

func (c *RedisCatalogCache) AvailableEntities(ctx context.Context, projectID string) (*models.AvailableEntities, error) {
	data, err := c.client.Get(ctx, catalogKey(projectID)).Bytes()
	switch {
	case err == nil:
		var catalog models.AvailableEntities
		if err := json.Unmarshal(data, &catalog); err == nil {
			metrics.CatalogCacheLookups.WithLabelValues("hit").Inc()
			return &catalog, nil
		}
		c.logger.Warn("Discarding undecodable cached catalog", zap.String("project_id", projectID))
		metrics.CatalogCacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.CatalogCacheLookups.WithLabelValues("miss").Inc()
	default:
		c.logger.Warn("Catalog cache unavailable",
			zap.String("project_id", projectID),
			zap.Error(err))
		metrics.CatalogCacheLookups.WithLabelValues("error").Inc()
	}

	catalog, err := c.next.AvailableEntities(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(catalog); err == nil {
		if err := c.client.Set(ctx, catalogKey(projectID), data, c.ttl).Err(); err != nil {
			c.logger.Warn("Failed to cache catalog",
				zap.String("project_id", projectID),
				zap.Error(err))
		}
	}
	return catalog, nil
}

// Invalidate drops the cached catalog of projectID
func (c *RedisCatalogCache) Invalidate(ctx context.Context, projectID string) error {
	return c.client.Del(ctx, catalogKey(projectID)).Err()
}
