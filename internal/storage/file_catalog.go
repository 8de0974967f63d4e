package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Projects []*models.AvailableEntities `yaml:"projects"`
}

// FileCatalog serves catalogs from a YAML file. Reload and Watch swap the
// whole snapshot at once, so readers see either the old or the new file.
type FileCatalog struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	catalogs map[string]*models.AvailableEntities
	onReload []func(projectIDs []string)
}

func NewFileCatalog(path string, logger *zap.Logger) (*FileCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fc := &FileCatalog{path: path, logger: logger}
	if err := fc.Reload(); err != nil {
		return nil, err
	}
	return fc, nil
}

func parseCatalogFile(data []byte) (map[string]*models.AvailableEntities, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errs.NewCatalogInvalidError(err)
	}

	catalogs := make(map[string]*models.AvailableEntities, len(file.Projects))
	for i, c := range file.Projects {
		if c == nil || c.ProjectID == "" {
			return nil, errs.NewCatalogInvalidError(fmt.Errorf("project %d has no project_id", i))
		}
		if err := c.Validate(); err != nil {
			return nil, errs.NewCatalogInvalidError(fmt.Errorf("project %s: %w", c.ProjectID, err))
		}
		if _, dup := catalogs[c.ProjectID]; dup {
			return nil, errs.NewCatalogInvalidError(fmt.Errorf("project %s declared twice", c.ProjectID))
		}
		c.Normalize()
		catalogs[c.ProjectID] = c
	}
	return catalogs, nil
}

// Reload re-reads the file. On error the previous snapshot stays in place.
func (fc *FileCatalog) Reload() error {
	data, err := os.ReadFile(fc.path)
	if err != nil {
		return fmt.Errorf("read catalog file: %w", err)
	}
	catalogs, err := parseCatalogFile(data)
	if err != nil {
		return err
	}

	fc.mu.Lock()
	changed := make(map[string]struct{}, len(catalogs)+len(fc.catalogs))
	for id := range fc.catalogs {
		changed[id] = struct{}{}
	}
	for id := range catalogs {
		changed[id] = struct{}{}
	}
	fc.catalogs = catalogs
	hooks := append([]func([]string){}, fc.onReload...)
	fc.mu.Unlock()

	fc.logger.Info("Catalog file loaded",
		zap.String("path", fc.path),
		zap.Int("projects", len(catalogs)))

	ids := make([]string, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, hook := range hooks {
		hook(ids)
	}
	return nil
}

// OnReload registers fn to run after every successful reload. fn receives
// the ids of every project present before or after the reload.
func (fc *FileCatalog) OnReload(fn func(projectIDs []string)) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.onReload = append(fc.onReload, fn)
}

func (fc *FileCatalog) AvailableEntities(ctx context.Context, projectID string) (*models.AvailableEntities, error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	if catalog, exists := fc.catalogs[projectID]; exists {
		return cloneCatalog(catalog), nil
	}
	return nil, errs.NewCatalogNotFoundError(projectID)
}

// Projects lists the project ids currently loaded
func (fc *FileCatalog) Projects() []string {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	ids := make([]string, 0, len(fc.catalogs))
	for id := range fc.catalogs {
		ids = append(ids, id)
	}
	return ids
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so that editors replacing the file are noticed.
func (fc *FileCatalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(fc.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(fc.path), err)
	}
	target := filepath.Clean(fc.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := fc.Reload(); err != nil {
				fc.logger.Error("Failed to reload catalog file",
					zap.String("path", fc.path),
					zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fc.logger.Warn("Catalog watcher error", zap.Error(err))
		}
	}
}
