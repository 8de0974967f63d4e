package storage

import (
	"context"

	"github.com/cookieclicker123/tanooki-copilot/internal/models"
)

// CatalogStore supplies per-project entity catalogs. Returned catalogs are
// copies; callers may not rely on them tracking later updates.
type CatalogStore interface {
	AvailableEntities(ctx context.Context, projectID string) (*models.AvailableEntities, error)
}

// DefaultHistoryLimit applies when RecentResults is called with a non-positive limit
const DefaultHistoryLimit = 10

// QueryLog records finished workflow runs
type QueryLog interface {
	SaveResult(ctx context.Context, result *models.WorkflowResult) error
	// RecentResults returns the newest results first. An empty projectID matches every project.
	RecentResults(ctx context.Context, projectID string, limit int) ([]*models.WorkflowResult, error)
}

type Storage interface {
	CatalogStore
	QueryLog
	Close() error
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCatalog(c *models.AvailableEntities) *models.AvailableEntities {
	return &models.AvailableEntities{
		ProjectID:    c.ProjectID,
		Contributors: cloneStringMap(c.Contributors),
		Locations:    cloneStringMap(c.Locations),
		Cameras:      cloneStringMap(c.Cameras),
		ClipTypes:    append([]string{}, c.ClipTypes...),
		ShootDates:   append([]string{}, c.ShootDates...),
	}
}
