package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// LLMModel asks an OpenAI-compatible chat model to score the agent categories.
// Any request or parse failure falls back to the wrapped model.
type LLMModel struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	fallback    Model
	logger      *zap.Logger
}

func NewLLMModel(client *openai.Client, model string, maxTokens int, temperature float64, fallback Model, logger *zap.Logger) *LLMModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMModel{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		fallback:    fallback,
		logger:      logger,
	}
}

func buildScoringPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Classify the following query from a TV production team into the categories below.\n")
	b.WriteString("A query may belong to several categories.\n\n")
	for _, agent := range models.AllAgentTypes() {
		fmt.Fprintf(&b, "- %s: %s\n", agent, agent.Description())
	}
	b.WriteString("\nReturn only a JSON object mapping every category name to a score between 0 and 1, for example:\n")
	b.WriteString(`{"TV_POST_PRODUCTION": 0.1, "TANOOKI": 0.0, "PRODUCTION": 0.9, "INVALID_QUERY": 0.0}`)
	b.WriteString("\n\nQuery: ")
	b.WriteString(text)
	return b.String()
}

func (c *LLMModel) Scores(ctx context.Context, text string) (map[string]float64, error) {
	if strings.TrimSpace(text) == "" {
		return map[string]float64{}, nil
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: buildScoringPrompt(text),
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		c.logger.Error("Failed to get LLM intent scores", zap.Error(err))
		return c.fallbackScores(ctx, text)
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("LLM returned no choices")
		return c.fallbackScores(ctx, text)
	}

	response := stripCodeFence(resp.Choices[0].Message.Content)
	var raw map[string]float64
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		c.logger.Error("Failed to parse LLM intent scores",
			zap.Error(err),
			zap.String("response", response))
		return c.fallbackScores(ctx, text)
	}

	scores := make(map[string]float64, len(raw))
	for label, score := range raw {
		scores[strings.ToUpper(strings.TrimSpace(label))] = clamp01(score)
	}
	return scores, nil
}

func (c *LLMModel) fallbackScores(ctx context.Context, text string) (map[string]float64, error) {
	if c.fallback == nil {
		return nil, fmt.Errorf("llm scoring failed and no fallback model is configured")
	}
	return c.fallback.Scores(ctx, text)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
