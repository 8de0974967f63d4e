package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/cookieclicker123/tanooki-copilot/pkg/config"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

// Catalog entry kinds stored in catalog_entries.kind
const (
	kindContributor = "contributor"
	kindLocation    = "location"
	kindCamera      = "camera"
	kindClipType    = "clip_type"
	kindShootDate   = "shoot_date"
)

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := NewPostgresStorageFromDB(db, logger)
	if err := storage.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return storage, nil
}

// NewPostgresStorageFromDB wraps an open connection without touching the schema
func NewPostgresStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStorage{db: db, logger: logger}
}

func (s *PostgresStorage) Migrate(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AvailableEntities(ctx context.Context, projectID string) (*models.AvailableEntities, error) {
	query := `
		SELECT kind, entry_id, display_name
		FROM catalog_entries
		WHERE project_id = $1
		ORDER BY kind, entry_id`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("error querying catalog: %w", err)
	}
	defer rows.Close()

	catalog := &models.AvailableEntities{
		ProjectID:    projectID,
		Contributors: map[string]string{},
		Locations:    map[string]string{},
		Cameras:      map[string]string{},
		ClipTypes:    []string{},
		ShootDates:   []string{},
	}
	count := 0
	for rows.Next() {
		var kind, id, display string
		if err := rows.Scan(&kind, &id, &display); err != nil {
			return nil, fmt.Errorf("error scanning catalog entry: %w", err)
		}
		count++

		switch kind {
		case kindContributor:
			catalog.Contributors[id] = display
		case kindLocation:
			catalog.Locations[id] = display
		case kindCamera:
			catalog.Cameras[id] = display
		case kindClipType:
			catalog.ClipTypes = append(catalog.ClipTypes, id)
		case kindShootDate:
			catalog.ShootDates = append(catalog.ShootDates, id)
		default:
			s.logger.Warn("Unknown catalog entry kind",
				zap.String("project_id", projectID),
				zap.String("kind", kind))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading catalog: %w", err)
	}

	if count == 0 {
		return nil, errs.NewCatalogNotFoundError(projectID)
	}
	if err := catalog.Validate(); err != nil {
		return nil, errs.NewCatalogInvalidError(err)
	}
	return catalog, nil
}

type catalogRow struct {
	kind, id, display string
}

func catalogRows(catalog *models.AvailableEntities) []catalogRow {
	var rows []catalogRow
	addMap := func(kind string, m map[string]string) {
		ids := make([]string, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rows = append(rows, catalogRow{kind, id, m[id]})
		}
	}
	addMap(kindContributor, catalog.Contributors)
	addMap(kindLocation, catalog.Locations)
	addMap(kindCamera, catalog.Cameras)
	for _, ct := range catalog.SortedClipTypes() {
		rows = append(rows, catalogRow{kindClipType, ct, ct})
	}
	normalized := *catalog
	normalized.Normalize()
	for _, d := range normalized.ShootDates {
		rows = append(rows, catalogRow{kindShootDate, d, d})
	}
	return rows
}

// PutCatalog replaces every entry of the catalog's project in one transaction
func (s *PostgresStorage) PutCatalog(ctx context.Context, catalog *models.AvailableEntities) error {
	if err := catalog.Validate(); err != nil {
		return errs.NewCatalogInvalidError(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_entries WHERE project_id = $1`, catalog.ProjectID); err != nil {
		return fmt.Errorf("error clearing catalog: %w", err)
	}

	insert := `
		INSERT INTO catalog_entries (project_id, kind, entry_id, display_name)
		VALUES ($1, $2, $3, $4)`
	for _, row := range catalogRows(catalog) {
		if _, err := tx.ExecContext(ctx, insert, catalog.ProjectID, row.kind, row.id, row.display); err != nil {
			return fmt.Errorf("error inserting catalog entry %s/%s: %w", row.kind, row.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing catalog: %w", err)
	}
	return nil
}

func (s *PostgresStorage) SaveResult(ctx context.Context, result *models.WorkflowResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("error encoding result: %w", err)
	}

	query := `
		INSERT INTO query_results (id, project_id, query, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = s.db.ExecContext(ctx, query, result.ID, result.ProjectID, result.Query, payload, result.StartedAt)
	if err != nil {
		return fmt.Errorf("error saving result: %w", err)
	}
	return nil
}

func (s *PostgresStorage) RecentResults(ctx context.Context, projectID string, limit int) ([]*models.WorkflowResult, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := `
		SELECT payload
		FROM query_results
		WHERE $1 = '' OR project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying results: %w", err)
	}
	defer rows.Close()

	var results []*models.WorkflowResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("error scanning result: %w", err)
		}
		result := &models.WorkflowResult{}
		if err := json.Unmarshal(payload, result); err != nil {
			return nil, fmt.Errorf("error decoding result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading results: %w", err)
	}
	return results, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
