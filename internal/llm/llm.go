// Package llm streams prompts through text-generation backends and assembles
// the result into a GenerationResponse.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/metrics"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/google/uuid"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderMock   = "mock"
)

// ChunkFunc receives each text fragment in arrival order, before the next one is read
type ChunkFunc func(chunk string)

// Generator performs one generation call. It never returns nil: failures are
// recorded in the response's RawResponse and Err.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest, onChunk ChunkFunc) *models.GenerationResponse
	Provider() string
	Model() string
}

// stream is the per-call state shared by every backend
type stream struct {
	start   time.Time
	resp    *models.GenerationResponse
	text    strings.Builder
	onChunk ChunkFunc
}

func newStream(req models.GenerationRequest, provider, model string, onChunk ChunkFunc) *stream {
	return &stream{
		start:   time.Now(),
		onChunk: onChunk,
		resp: &models.GenerationResponse{
			ID:            uuid.NewString(),
			Request:       req,
			ModelName:     model,
			ModelProvider: provider,
			Attempts:      1,
		},
	}
}

// emit appends a fragment and hands it to the callback. Empty fragments are dropped.
func (s *stream) emit(chunk string) {
	if chunk == "" {
		return
	}
	s.text.WriteString(chunk)
	s.resp.Chunks++
	if s.onChunk != nil {
		s.onChunk(chunk)
	}
}

// finish seals the response. A cancelled context takes precedence over err.
func (s *stream) finish(ctx context.Context, err error) *models.GenerationResponse {
	resp := s.resp
	resp.GeneratedAt = time.Now().UTC()
	resp.Text = s.text.String()
	resp.TimeInSeconds = roundSeconds(time.Since(s.start))

	switch {
	case err == nil && ctx.Err() == nil:
		resp.RawResponse = assemble(resp.Text, resp.Request.AsJSON)
		if resp.Request.AsJSON {
			if resp.ParseErr = ParseError(resp.Text); resp.ParseErr != nil {
				metrics.ResponseParseFallbacks.WithLabelValues(resp.ModelProvider).Inc()
			}
		}
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		cause := err
		if cause == nil {
			cause = ctx.Err()
		}
		resp.Err = errs.NewGenerationCanceledError(cause)
		resp.RawResponse = map[string]any{"error": resp.Err.Error(), "cancelled": true}
	default:
		resp.Err = err
		resp.RawResponse = map[string]any{"error": err.Error()}
	}
	return resp
}

// assemble returns the parsed object when JSON was requested and the body is
// a JSON object, otherwise the text under "raw_text".
func assemble(text string, asJSON bool) map[string]any {
	if asJSON && strings.TrimSpace(text) != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err == nil && parsed != nil {
			return parsed
		}
	}
	return map[string]any{"raw_text": text}
}

// ParseError reports why a response body could not be used as a JSON object,
// or nil when it can.
func ParseError(text string) error {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return errs.NewResponseParseError(err)
	}
	if parsed == nil {
		return errs.NewResponseParseError(errors.New("null body"))
	}
	return nil
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// retryableStatus reports whether an HTTP status is worth another attempt
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
