// Package workflow runs one query through classification, entity extraction
// and generation, collecting stage failures instead of aborting.
package workflow

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/classifier"
	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/llm"
	"github.com/cookieclicker123/tanooki-copilot/internal/metrics"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/cookieclicker123/tanooki-copilot/internal/prompt"
	"github.com/cookieclicker123/tanooki-copilot/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stage names used in StageError
const (
	StageClassification = "classification"
	StageCatalog        = "catalog"
	StageExtraction     = "extraction"
	StageGeneration     = "generation"
)

// CodeQueryRejected marks a run whose generation was skipped for an invalid query
const CodeQueryRejected = "QUERY_REJECTED"

var ErrEmptyQuery = errors.New("workflow: query text is empty")

var tracer = otel.Tracer("github.com/cookieclicker123/tanooki-copilot/internal/workflow")

type EntityExtractor interface {
	Extract(text string, catalog *models.AvailableEntities) (*models.ExtractedEntities, error)
}

type Options struct {
	// DefaultProjectID is used for queries that carry no project
	DefaultProjectID string
	// IncludeContext adds matched agents and entities to the prompt
	IncludeContext bool
	// AsJSON asks the backend for a JSON object answer
	AsJSON bool
	// RejectInvalid skips generation when INVALID_QUERY is the only matched agent
	RejectInvalid bool
}

type Workflow struct {
	classifier classifier.Classifier
	extractor  EntityExtractor
	catalogs   storage.CatalogStore
	generator  llm.Generator
	queryLog   storage.QueryLog
	opts       Options
	logger     *zap.Logger
}

// New wires a workflow. catalogs and queryLog may be nil: without a catalog
// store extraction is skipped, without a query log results are not persisted.
func New(
	c classifier.Classifier,
	e EntityExtractor,
	catalogs storage.CatalogStore,
	generator llm.Generator,
	queryLog storage.QueryLog,
	opts Options,
	logger *zap.Logger,
) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		classifier: c,
		extractor:  e,
		catalogs:   catalogs,
		generator:  generator,
		queryLog:   queryLog,
		opts:       opts,
		logger:     logger,
	}
}

func stageError(stage string, err error) models.StageError {
	return models.StageError{
		Stage:   stage,
		Code:    string(errs.CodeOf(err)),
		Message: err.Error(),
	}
}

func (w *Workflow) Run(ctx context.Context, q models.Query, onChunk llm.ChunkFunc) (*models.WorkflowResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, ErrEmptyQuery
	}
	if q.ProjectID == "" {
		q.ProjectID = w.opts.DefaultProjectID
	}

	start := time.Now()
	result := &models.WorkflowResult{
		ID:        uuid.NewString(),
		Query:     q.Text,
		ProjectID: q.ProjectID,
		StartedAt: start.UTC(),
	}

	ctx, span := tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", result.ID),
		attribute.String("project.id", q.ProjectID),
	))
	defer span.End()

	logger := w.logger.With(
		zap.String("workflow_id", result.ID),
		zap.String("project_id", q.ProjectID))

	var intentErr, extractErr error
	var extractStage string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.Intent, intentErr = w.classify(gctx, q.Text)
		return nil
	})
	g.Go(func() error {
		result.Entities, extractStage, extractErr = w.extract(gctx, q)
		return nil
	})
	_ = g.Wait()

	for _, se := range []struct {
		stage string
		err   error
	}{
		{StageClassification, intentErr},
		{extractStage, extractErr},
	} {
		if se.err == nil {
			continue
		}
		result.Errors = append(result.Errors, stageError(se.stage, se.err))
		metrics.StageErrors.WithLabelValues(se.stage, string(errs.CodeOf(se.err))).Inc()
		logger.Warn("Workflow stage failed", zap.String("stage", se.stage), zap.Error(se.err))
	}
	w.recordExtraction(result)

	if w.rejected(result.Intent) {
		result.Errors = append(result.Errors, models.StageError{
			Stage:   StageGeneration,
			Code:    CodeQueryRejected,
			Message: "query matched only " + models.AgentInvalidQuery.String(),
		})
		metrics.StageErrors.WithLabelValues(StageGeneration, CodeQueryRejected).Inc()
		logger.Info("Query rejected", zap.String("query", q.Text))
	} else {
		result.Response = w.generate(ctx, q.Text, result, onChunk)
		if result.Response.Failed() {
			err := result.Response.Err
			result.Errors = append(result.Errors, stageError(StageGeneration, err))
			metrics.StageErrors.WithLabelValues(StageGeneration, string(errs.CodeOf(err))).Inc()
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Generation failed", zap.Error(err))
		} else if result.Response.ParseErr != nil {
			logger.Debug("Answer is not a JSON object, kept as raw text", zap.Error(result.Response.ParseErr))
		}
	}

	result.TimeInSeconds = math.Round(time.Since(start).Seconds()*100) / 100
	w.save(ctx, result, logger)

	logger.Info("Workflow finished",
		zap.Int("stage_errors", len(result.Errors)),
		zap.Float64("time_in_seconds", result.TimeInSeconds))
	return result, nil
}

func (w *Workflow) classify(ctx context.Context, text string) (*models.IntentResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.classify")
	defer span.End()

	intent, err := w.classifier.Classify(ctx, text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	for _, agent := range intent.Agents {
		metrics.AgentsMatched.WithLabelValues(agent.String()).Inc()
	}
	span.SetAttributes(attribute.Float64("intent.confidence", intent.Confidence))
	return intent, nil
}

// extract reports which stage failed along with the error
func (w *Workflow) extract(ctx context.Context, q models.Query) (*models.ExtractedEntities, string, error) {
	if w.catalogs == nil || w.extractor == nil {
		return nil, "", nil
	}

	ctx, span := tracer.Start(ctx, "workflow.extract")
	defer span.End()

	catalog, err := w.catalogs.AvailableEntities(ctx, q.ProjectID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, StageCatalog, err
	}

	entities, err := w.extractor.Extract(q.Text, catalog)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, StageExtraction, err
	}
	return entities, "", nil
}

func (w *Workflow) recordExtraction(result *models.WorkflowResult) {
	if result.Entities == nil {
		return
	}
	for category, ids := range result.Entities.Entities {
		if len(ids) > 0 {
			metrics.EntitiesExtracted.WithLabelValues(category).Add(float64(len(ids)))
		}
	}
	for _, span := range result.Entities.Unresolved {
		metrics.EntitiesUnresolved.WithLabelValues(span.Label).Inc()
	}
}

func (w *Workflow) rejected(intent *models.IntentResult) bool {
	return w.opts.RejectInvalid &&
		intent != nil &&
		len(intent.Agents) == 1 &&
		intent.HasAgent(models.AgentInvalidQuery)
}

func (w *Workflow) generate(ctx context.Context, text string, result *models.WorkflowResult, onChunk llm.ChunkFunc) *models.GenerationResponse {
	ctx, span := tracer.Start(ctx, "workflow.generate")
	defer span.End()

	p := prompt.Build(text)
	if w.opts.IncludeContext {
		p = prompt.BuildWithContext(text, result.Intent, result.Entities)
	}

	req := models.GenerationRequest{Query: text, Prompt: p, AsJSON: w.opts.AsJSON}
	resp := w.generator.Generate(ctx, req, onChunk)
	if result.Intent != nil {
		resp.Agents = result.Intent.Agents
	}

	metrics.GenerationDuration.
		WithLabelValues(w.generator.Provider(), metrics.Outcome(resp.Failed())).
		Observe(resp.TimeInSeconds)
	span.SetAttributes(
		attribute.String("llm.provider", resp.ModelProvider),
		attribute.Int("llm.attempts", resp.Attempts),
	)
	return resp
}

func (w *Workflow) save(ctx context.Context, result *models.WorkflowResult, logger *zap.Logger) {
	if w.queryLog == nil {
		return
	}
	if err := w.queryLog.SaveResult(context.WithoutCancel(ctx), result); err != nil {
		logger.Error("Failed to save query result", zap.Error(err))
	}
}

// Recent returns the latest saved results for projectID
func (w *Workflow) Recent(ctx context.Context, projectID string, limit int) ([]*models.WorkflowResult, error) {
	if w.queryLog == nil {
		return nil, nil
	}
	return w.queryLog.RecentResults(ctx, projectID, limit)
}
