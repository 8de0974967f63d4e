package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalog() *models.AvailableEntities {
	return &models.AvailableEntities{
		ProjectID:    "project-a",
		Contributors: map[string]string{"john_id": "John"},
		Locations:    map[string]string{"beach_id": "Beach"},
		Cameras:      map[string]string{"cam_a7s": "A7S"},
		ClipTypes:    []string{"rush", "review", "rush"},
		ShootDates:   []string{"2024-06-01"},
	}
}

func TestMemoryStorageCatalog(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	_, err := s.AvailableEntities(ctx, "project-a")
	assert.ErrorIs(t, err, errs.ErrCatalogNotFound)

	require.NoError(t, s.PutCatalog(sampleCatalog()))

	catalog, err := s.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"review", "rush"}, catalog.ClipTypes)
	assert.Equal(t, "John", catalog.Contributors["john_id"])

	catalog.Contributors["intruder"] = "Mallory"
	again, err := s.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	assert.NotContains(t, again.Contributors, "intruder")
}

func TestMemoryStorageRejectsInvalidCatalog(t *testing.T) {
	s := NewMemoryStorage()
	err := s.PutCatalog(&models.AvailableEntities{ProjectID: "p", Locations: map[string]string{"": "Beach"}})
	assert.ErrorIs(t, err, errs.ErrCatalogInvalid)
}

func TestMemoryStorageRecentResults(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, project := range []string{"a", "b", "a", "a"} {
		require.NoError(t, s.SaveResult(ctx, &models.WorkflowResult{
			ID:        string(rune('0' + i)),
			ProjectID: project,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	results, err := s.RecentResults(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "3", results[0].ID)
	assert.Equal(t, "2", results[1].ID)

	all, err := s.RecentResults(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "3", all[0].ID)

	assert.NoError(t, s.Close())
}
