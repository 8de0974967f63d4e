package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/models"
)

// MockClient answers without a backend. The answer is split into fixed-size
// chunks that are delivered with an optional delay between them.
type MockClient struct {
	model     string
	chunkSize int
	delay     time.Duration
	answer    func(query string) string
}

func NewMockClient(model string, chunkSize int, delay time.Duration) *MockClient {
	if model == "" {
		model = "mock"
	}
	if chunkSize <= 0 {
		chunkSize = 8
	}
	return &MockClient{
		model:     model,
		chunkSize: chunkSize,
		delay:     delay,
		answer:    defaultMockAnswer,
	}
}

// WithAnswer replaces the answer function. The function receives the query
// and returns the full body to stream.
func (c *MockClient) WithAnswer(answer func(query string) string) *MockClient {
	clone := *c
	clone.answer = answer
	return &clone
}

func (c *MockClient) Provider() string { return ProviderMock }
func (c *MockClient) Model() string    { return c.model }

func defaultMockAnswer(query string) string {
	body, _ := json.Marshal(map[string]string{"Answer": fmt.Sprintf("Mock answer for: %s", query)})
	return string(body)
}

func (c *MockClient) Generate(ctx context.Context, req models.GenerationRequest, onChunk ChunkFunc) *models.GenerationResponse {
	s := newStream(req, ProviderMock, c.model, onChunk)
	body := []rune(c.answer(req.Query))

	for i := 0; i < len(body); i += c.chunkSize {
		if ctx.Err() != nil {
			break
		}
		end := i + c.chunkSize
		if end > len(body) {
			end = len(body)
		}
		s.emit(string(body[i:end]))

		if c.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.delay):
			}
		}
	}
	return s.finish(ctx, nil)
}
