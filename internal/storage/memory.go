package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	catalogs map[string]*models.AvailableEntities
	results  []*models.WorkflowResult
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		catalogs: make(map[string]*models.AvailableEntities),
	}
}

// PutCatalog replaces the catalog stored for catalog.ProjectID
func (s *MemoryStorage) PutCatalog(catalog *models.AvailableEntities) error {
	if err := catalog.Validate(); err != nil {
		return errs.NewCatalogInvalidError(err)
	}

	c := cloneCatalog(catalog)
	c.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogs[c.ProjectID] = c
	return nil
}

func (s *MemoryStorage) AvailableEntities(ctx context.Context, projectID string) (*models.AvailableEntities, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if catalog, exists := s.catalogs[projectID]; exists {
		return cloneCatalog(catalog), nil
	}
	return nil, errs.NewCatalogNotFoundError(projectID)
}

func (s *MemoryStorage) SaveResult(ctx context.Context, result *models.WorkflowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, result)
	return nil
}

func (s *MemoryStorage) RecentResults(ctx context.Context, projectID string, limit int) ([]*models.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.WorkflowResult, 0, len(s.results))
	for _, r := range s.results {
		if projectID == "" || r.ProjectID == projectID {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
