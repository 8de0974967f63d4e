package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/metrics"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/cookieclicker123/tanooki-copilot/internal/llm")

// Retrying wraps a Generator with bounded exponential-backoff retries.
// Only retryable backend failures that delivered no chunk are retried, so the
// caller's callback never sees a fragment twice. Cancellation is never retried.
type Retrying struct {
	next           Generator
	maxRetries     int
	initialBackoff time.Duration
	logger         *zap.Logger
}

func NewRetrying(next Generator, maxRetries int, initialBackoff time.Duration, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	return &Retrying{
		next:           next,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		logger:         logger,
	}
}

func (r *Retrying) Provider() string { return r.next.Provider() }
func (r *Retrying) Model() string    { return r.next.Model() }

func (r *Retrying) Generate(ctx context.Context, req models.GenerationRequest, onChunk ChunkFunc) *models.GenerationResponse {
	start := time.Now()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initialBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.maxRetries)), ctx)

	var resp *models.GenerationResponse
	attempts := 0
	operation := func() error {
		attempts++
		spanCtx, span := tracer.Start(ctx, "llm.generate")
		span.SetAttributes(
			attribute.String("llm.provider", r.next.Provider()),
			attribute.String("llm.model", r.next.Model()),
			attribute.Int("llm.attempt", attempts),
		)
		resp = r.next.Generate(spanCtx, req, onChunk)
		span.SetAttributes(attribute.Int("llm.chunks", resp.Chunks))
		if resp.Failed() {
			span.SetStatus(codes.Error, resp.Err.Error())
		}
		span.End()

		if !resp.Failed() {
			return nil
		}
		if ctx.Err() != nil || resp.Chunks > 0 || !errs.IsRetryable(resp.Err) {
			return backoff.Permanent(resp.Err)
		}
		return resp.Err
	}
	notify := func(err error, wait time.Duration) {
		metrics.GenerationRetries.WithLabelValues(r.next.Provider()).Inc()
		r.logger.Warn("Retrying generation",
			zap.String("provider", r.next.Provider()),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	_ = backoff.RetryNotify(operation, policy, notify)

	if ctx.Err() != nil && errs.CodeOf(resp.Err) != errs.CodeGenerationCanceled {
		resp.Err = errs.NewGenerationCanceledError(ctx.Err())
		resp.RawResponse = map[string]any{"error": resp.Err.Error(), "cancelled": true}
	}
	resp.Attempts = attempts
	resp.TimeInSeconds = roundSeconds(time.Since(start))
	return resp
}
