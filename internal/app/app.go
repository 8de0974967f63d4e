// Package app builds the query pipeline from configuration. Both the CLI and
// the Telegram bot start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cookieclicker123/tanooki-copilot/internal/classifier"
	"github.com/cookieclicker123/tanooki-copilot/internal/extractor"
	"github.com/cookieclicker123/tanooki-copilot/internal/llm"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/cookieclicker123/tanooki-copilot/internal/ner"
	"github.com/cookieclicker123/tanooki-copilot/internal/storage"
	"github.com/cookieclicker123/tanooki-copilot/internal/workflow"
	"github.com/cookieclicker123/tanooki-copilot/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Classifier *classifier.IntentClassifier
	Extractor  *extractor.Extractor
	Catalogs   storage.CatalogStore
	QueryLog   storage.QueryLog
	Generator  llm.Generator
	Workflow   *workflow.Workflow

	// putCatalog writes to the configured catalog store, nil when it is read-only
	putCatalog func(ctx context.Context, catalog *models.AvailableEntities) error
	cache      *storage.RedisCatalogCache

	cancel  context.CancelFunc
	closers []func() error
}

// New loads the model artifacts, opens the configured stores and wires the
// workflow. A model that fails to load is returned as an error.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &App{Config: cfg, Logger: logger, cancel: cancel}

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	clf, err := a.buildClassifier()
	if err != nil {
		return err
	}
	a.Classifier = clf

	recognizer, err := loadRecognizer(cfg.Models.NERPath)
	if err != nil {
		return err
	}
	a.Extractor, err = extractor.New(recognizer, extractor.Options{
		ClipTypePolicy:   cfg.Extractor.ClipTypePolicy,
		GenericClipTerms: cfg.Extractor.GenericClipTerms,
		Strict:           cfg.Extractor.Strict,
	}, a.Logger)
	if err != nil {
		return err
	}

	if err := a.buildStores(ctx); err != nil {
		return err
	}

	a.Generator, err = llm.New(cfg.LLM, a.Logger)
	if err != nil {
		return err
	}

	a.Workflow = workflow.New(a.Classifier, a.Extractor, a.Catalogs, a.Generator, a.QueryLog, workflow.Options{
		DefaultProjectID: cfg.App.DefaultProjectID,
		IncludeContext:   cfg.Prompt.IncludeContext,
		AsJSON:           cfg.LLM.JSONResponse,
		RejectInvalid:    cfg.Workflow.RejectInvalid,
	}, a.Logger)

	a.Logger.Info("Pipeline ready",
		zap.String("classifier", cfg.Classifier.Backend),
		zap.String("catalog", cfg.Catalog.Source),
		zap.String("provider", a.Generator.Provider()),
		zap.String("model", a.Generator.Model()))
	return nil
}

func loadLexicon(path string) (*classifier.LexiconModel, error) {
	if path == "" {
		return classifier.DefaultLexiconModel()
	}
	return classifier.LoadLexiconModel(path)
}

func loadRecognizer(path string) (*ner.RuleRecognizer, error) {
	if path == "" {
		return ner.DefaultRuleRecognizer()
	}
	return ner.LoadRuleRecognizer(path)
}

func (a *App) buildClassifier() (*classifier.IntentClassifier, error) {
	cfg := a.Config
	lexicon, err := loadLexicon(cfg.Models.IntentPath)
	if err != nil {
		return nil, err
	}

	var model classifier.Model = lexicon
	if cfg.Classifier.Backend == "llm" {
		switch cfg.LLM.Provider {
		case llm.ProviderOpenAI, llm.ProviderGroq:
		default:
			return nil, fmt.Errorf("llm classifier needs an openai or groq provider, got %q", cfg.LLM.Provider)
		}
		baseURL := cfg.LLM.BaseURL
		if baseURL == config.DefaultOllamaURL {
			baseURL = ""
		}
		client := openai.NewClientWithConfig(llm.NewOpenAIConfig(cfg.LLM.Provider, cfg.LLM.APIKey, baseURL))
		model = classifier.NewLLMModel(client, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature, lexicon, a.Logger)
	}

	return classifier.NewIntentClassifier(model, cfg.Classifier.ConfidenceThreshold, a.Logger), nil
}

func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config
	var files *storage.FileCatalog

	switch cfg.Catalog.Source {
	case "postgres":
		pg, err := storage.NewPostgresStorage(ctx, cfg.Database, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.Catalogs, a.QueryLog = pg, pg
		a.putCatalog = pg.PutCatalog

	case "file":
		fc, err := storage.NewFileCatalog(cfg.Catalog.FilePath, a.Logger)
		if err != nil {
			return err
		}
		files = fc
		a.Catalogs, a.QueryLog = fc, storage.NewMemoryStorage()

	default:
		mem := storage.NewMemoryStorage()
		a.Catalogs, a.QueryLog = mem, mem
		a.putCatalog = func(_ context.Context, catalog *models.AvailableEntities) error {
			return mem.PutCatalog(catalog)
		}
		if cfg.Catalog.FilePath != "" {
			if _, err := a.ImportCatalog(ctx, cfg.Catalog.FilePath); err != nil {
				return err
			}
		}
	}

	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.cache = storage.NewRedisCatalogCache(a.Catalogs, client, cfg.Catalog.CacheTTL, a.Logger)
		a.Catalogs = a.cache
		a.Logger.Info("Catalog cache enabled", zap.String("address", cfg.Redis.Address))
	}

	if files != nil && cfg.Catalog.Watch {
		files.OnReload(func(projectIDs []string) {
			a.invalidate(context.WithoutCancel(ctx), projectIDs...)
		})
		go func() {
			if err := files.Watch(ctx); err != nil {
				a.Logger.Error("Catalog watcher stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// invalidate drops cached catalogs so the next lookup reads the store
func (a *App) invalidate(ctx context.Context, projectIDs ...string) {
	if a.cache == nil {
		return
	}
	for _, id := range projectIDs {
		if err := a.cache.Invalidate(ctx, id); err != nil {
			a.Logger.Warn("Failed to invalidate cached catalog",
				zap.String("project_id", id),
				zap.Error(err))
		}
	}
}

// ImportCatalog copies every project of a YAML catalog file into the
// configured catalog store and returns the imported project ids.
func (a *App) ImportCatalog(ctx context.Context, path string) ([]string, error) {
	if a.putCatalog == nil {
		return nil, fmt.Errorf("catalog source %q is read-only", a.Config.Catalog.Source)
	}
	fc, err := storage.NewFileCatalog(path, a.Logger)
	if err != nil {
		return nil, err
	}

	ids := fc.Projects()
	sort.Strings(ids)
	for _, id := range ids {
		catalog, err := fc.AvailableEntities(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := a.putCatalog(ctx, catalog); err != nil {
			return nil, fmt.Errorf("import project %s: %w", id, err)
		}
	}
	a.invalidate(ctx, ids...)

	a.Logger.Info("Catalog imported",
		zap.String("path", path),
		zap.Strings("projects", ids))
	return ids, nil
}

// KeepAlive asks the Ollama server to load the configured model and keep it
// resident for llm.keep_alive.
func (a *App) KeepAlive(ctx context.Context) error {
	cfg := a.Config.LLM
	if cfg.Provider != llm.ProviderOllama {
		return fmt.Errorf("keep-alive is only supported for the %s provider, got %q", llm.ProviderOllama, cfg.Provider)
	}
	client := llm.NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Timeout, a.Logger)
	return client.KeepAlive(ctx, cfg.KeepAlive)
}

// Close stops background watchers and releases the stores
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	var problems []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			problems = append(problems, err)
		}
	}
	a.closers = nil
	return errors.Join(problems...)
}
