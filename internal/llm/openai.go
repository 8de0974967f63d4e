package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIClient streams chat completions from an OpenAI-compatible API.
// It serves both the openai and groq providers.
type OpenAIClient struct {
	client      *openai.Client
	provider    string
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// NewOpenAIConfig returns the client configuration for provider. An empty
// baseURL selects the provider's public endpoint.
func NewOpenAIConfig(provider, apiKey, baseURL string) openai.ClientConfig {
	cfg := openai.DefaultConfig(apiKey)
	switch {
	case baseURL != "":
		cfg.BaseURL = baseURL
	case provider == ProviderGroq:
		cfg.BaseURL = groqBaseURL
	}
	return cfg
}

func NewOpenAIClient(client *openai.Client, provider, model string, maxTokens int, temperature float64, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		client:      client,
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func (c *OpenAIClient) Provider() string { return c.provider }
func (c *OpenAIClient) Model() string    { return c.model }

func (c *OpenAIClient) Generate(ctx context.Context, req models.GenerationRequest, onChunk ChunkFunc) *models.GenerationResponse {
	s := newStream(req, c.provider, c.model, onChunk)
	err := c.stream(ctx, req, s)
	return s.finish(ctx, err)
}

func (c *OpenAIClient) stream(ctx context.Context, req models.GenerationRequest, s *stream) error {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
		Stream:      true,
	}
	if req.AsJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return c.wrapError(ctx, err)
	}
	defer func() { _ = stream.Close() }()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return ctx.Err()
		}
		if err != nil {
			return c.wrapError(ctx, err)
		}
		for _, choice := range chunk.Choices {
			s.emit(choice.Delta.Content)
		}
	}
}

func (c *OpenAIClient) wrapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	retryable := true
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		retryable = retryableStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		retryable = retryableStatus(reqErr.HTTPStatusCode)
	}

	c.logger.Debug("Chat completion stream failed",
		zap.String("provider", c.provider),
		zap.Bool("retryable", retryable),
		zap.Error(err))
	return errs.NewGenerationBackendError(c.provider, retryable, fmt.Errorf("chat completion: %w", err))
}
