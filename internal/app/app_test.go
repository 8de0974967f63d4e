package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/cookieclicker123/tanooki-copilot/internal/storage"
	"github.com/cookieclicker123/tanooki-copilot/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const catalogYAML = `
projects:
  - project_id: project-a
    contributors:
      john_id: John
    locations:
      beach_id: Beach
    clip_types: [rush, review]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	return &config.Config{
		App:        config.AppConfig{DefaultProjectID: "project-a"},
		Classifier: config.ClassifierConfig{Backend: "lexicon", ConfidenceThreshold: 0.6},
		Extractor:  config.ExtractorConfig{ClipTypePolicy: "verbatim", GenericClipTerms: []string{"clips"}},
		LLM:        config.LLMConfig{Provider: "mock", Model: "mock", JSONResponse: true},
		Catalog:    config.CatalogConfig{Source: "memory", FilePath: path, CacheTTL: time.Minute},
	}
}

func TestNewMemoryPipeline(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	query := "Find me all the clips where John is at the Beach."
	result, err := a.Workflow.Run(context.Background(), models.Query{Text: query}, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Errors)
	assert.Equal(t, "project-a", result.ProjectID)
	assert.Equal(t, []models.AgentType{models.AgentProduction}, result.Intent.Agents)
	assert.Equal(t, []string{"john_id"}, result.Entities.Entities[models.CategoryContributors])
	assert.Equal(t, "Mock answer for: "+query, result.Answer())

	recent, err := a.Workflow.Recent(context.Background(), "project-a", 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestNewFilePipelineWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Catalog.Source = "file"
	cfg.Catalog.Watch = true
	cfg.Redis.Address = mr.Addr()

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.IsType(t, &storage.RedisCatalogCache{}, a.Catalogs)

	catalog, err := a.Catalogs.AvailableEntities(context.Background(), "project-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"beach_id": "Beach"}, catalog.Locations)
	assert.True(t, mr.Exists("catalog:project-a"))
}

func TestNewRejectsMissingModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models.IntentPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, errs.ErrModelLoad)

	cfg = testConfig(t)
	cfg.Models.NERPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, errs.ErrModelLoad)
}

func TestNewRejectsLLMClassifierWithoutOpenAIProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.Backend = "llm"

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewLLMClassifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.Backend = "llm"
	cfg.LLM.Provider = "groq"
	cfg.LLM.APIKey = "gsk-test"
	cfg.LLM.BaseURL = "http://127.0.0.1:1/v1"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "groq", a.Generator.Provider())
}

func TestKeepAlive(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"Hi","done":true}`))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.LLM = config.LLMConfig{Provider: "ollama", Model: "tv_model2:latest", BaseURL: server.URL, KeepAlive: "24h", Timeout: time.Second}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.KeepAlive(context.Background()))
	assert.Equal(t, "24h", got["keep_alive"])
	assert.Equal(t, false, got["stream"])
}

func TestKeepAliveRequiresOllama(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Error(t, a.KeepAlive(context.Background()))
}

func TestNewHonoursConfiguredThreshold(t *testing.T) {
	for _, threshold := range []float64{0, 0.35, 0.9} {
		cfg := testConfig(t)
		cfg.Classifier.ConfidenceThreshold = threshold

		a, err := New(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, threshold, a.Classifier.Threshold())
		require.NoError(t, a.Close())
	}
}

func TestImportCatalogInvalidatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Address = mr.Addr()

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.Catalogs.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	require.True(t, mr.Exists("catalog:project-a"))

	path := filepath.Join(t.TempDir(), "import.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
projects:
  - project_id: project-a
    contributors:
      sarah_id: Sarah
  - project_id: project-b
    locations:
      forest_id: Forest
`), 0o600))

	ids, err := a.ImportCatalog(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"project-a", "project-b"}, ids)
	assert.False(t, mr.Exists("catalog:project-a"))

	catalog, err := a.Catalogs.AvailableEntities(ctx, "project-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sarah_id": "Sarah"}, catalog.Contributors)

	catalog, err = a.Catalogs.AvailableEntities(ctx, "project-b")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"forest_id": "Forest"}, catalog.Locations)
}

func TestImportCatalogRejectsFileSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Source = "file"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.ImportCatalog(context.Background(), cfg.Catalog.FilePath)
	assert.Error(t, err)
}

func TestCatalogReloadInvalidatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Catalog.Source = "file"
	cfg.Catalog.Watch = true
	cfg.Redis.Address = mr.Addr()

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Catalogs.AvailableEntities(context.Background(), "project-a")
	require.NoError(t, err)
	require.True(t, mr.Exists("catalog:project-a"))

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(cfg.Catalog.FilePath, []byte(catalogYAML+"    cameras:\n      cam_a: Camera A\n"), 0o600))

	assert.Eventually(t, func() bool {
		return !mr.Exists("catalog:project-a")
	}, 3*time.Second, 20*time.Millisecond)
}
