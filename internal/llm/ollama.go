package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"go.uber.org/zap"
)

const (
	defaultOllamaURL = "http://localhost:11434"
	maxLineSize      = 1024 * 1024
)

// OllamaClient streams completions from an Ollama server's /api/generate endpoint
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOllamaClient(baseURL, model string, timeout time.Duration, logger *zap.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *OllamaClient) Provider() string { return ProviderOllama }
func (c *OllamaClient) Model() string    { return c.model }

type ollamaGenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (c *OllamaClient) Generate(ctx context.Context, req models.GenerationRequest, onChunk ChunkFunc) *models.GenerationResponse {
	s := newStream(req, ProviderOllama, c.model, onChunk)
	err := c.stream(ctx, req.Prompt, s)
	return s.finish(ctx, err)
}

func (c *OllamaClient) post(ctx context.Context, body ollamaGenerateRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.NewGenerationBackendError(ProviderOllama, true, fmt.Errorf("send request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errs.NewGenerationBackendError(ProviderOllama, retryableStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return resp, nil
}

func (c *OllamaClient) stream(ctx context.Context, prompt string, s *stream) error {
	resp, err := c.post(ctx, ollamaGenerateRequest{Model: c.model, Prompt: prompt, Stream: true})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Debug("Skipping malformed stream line",
				zap.Error(err),
				zap.ByteString("line", line))
			continue
		}
		if chunk.Error != "" {
			return errs.NewGenerationBackendError(ProviderOllama, false, fmt.Errorf("stream error: %s", chunk.Error))
		}

		s.emit(chunk.Response)
		if chunk.Done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.NewGenerationBackendError(ProviderOllama, true, fmt.Errorf("read stream: %w", err))
	}
	return ctx.Err()
}

// KeepAlive sends a non-streaming request that loads the model and keeps it
// resident for the given duration (for example "24h").
func (c *OllamaClient) KeepAlive(ctx context.Context, duration string) error {
	resp, err := c.post(ctx, ollamaGenerateRequest{
		Model:     c.model,
		Prompt:    "Hello",
		Stream:    false,
		KeepAlive: duration,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var chunk ollamaChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return errs.NewGenerationBackendError(ProviderOllama, false, fmt.Errorf("decode keep-alive response: %w", err))
	}
	if chunk.Error != "" {
		return errs.NewGenerationBackendError(ProviderOllama, false, fmt.Errorf("keep-alive: %s", chunk.Error))
	}

	c.logger.Info("Model kept alive",
		zap.String("model", c.model),
		zap.String("keep_alive", duration))
	return nil
}
