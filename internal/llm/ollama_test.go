package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ndjsonServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			_, _ = fmt.Fprintln(w, line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func chunkLine(s string) string {
	b, _ := json.Marshal(map[string]any{"response": s, "done": false})
	return string(b)
}

const doneLine = `{"response":"","done":true}`

func TestOllamaStreamsChunksInOrder(t *testing.T) {
	var got ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprintln(w, chunkLine("Hel"))
		_, _ = fmt.Fprintln(w, chunkLine("lo"))
		_, _ = fmt.Fprintln(w, doneLine)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "tv_model2:latest", 5*time.Second, zap.NewNop())
	var chunks []string
	resp := client.Generate(context.Background(), models.GenerationRequest{Query: "q", Prompt: "the prompt"}, func(c string) {
		chunks = append(chunks, c)
	})

	require.NotNil(t, resp)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, map[string]any{"raw_text": "Hello"}, resp.RawResponse)
	assert.False(t, resp.Failed())
	assert.Equal(t, 2, resp.Chunks)
	assert.Equal(t, "ollama", resp.ModelProvider)
	assert.Equal(t, "tv_model2:latest", resp.ModelName)
	assert.Equal(t, "q", resp.Request.Query)
	assert.NotEmpty(t, resp.ID)
	assert.False(t, resp.GeneratedAt.IsZero())

	assert.Equal(t, ollamaGenerateRequest{Model: "tv_model2:latest", Prompt: "the prompt", Stream: true}, got)
}

func TestOllamaJSONAssembly(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		asJSON   bool
		want     map[string]any
		parseErr bool
	}{
		{"json object", []string{`{"Ans`, `wer": "Use`, ` timecode"}`}, true, map[string]any{"Answer": "Use timecode"}, false},
		{"invalid json", []string{`{"Answer": `, `oops`}, true, map[string]any{"raw_text": `{"Answer": oops`}, true},
		{"json array", []string{`[1, 2]`}, true, map[string]any{"raw_text": "[1, 2]"}, true},
		{"json not requested", []string{`{"Answer": "x"}`}, false, map[string]any{"raw_text": `{"Answer": "x"}`}, false},
		{"plain text not requested", []string{`hello`}, false, map[string]any{"raw_text": "hello"}, false},
		{"empty body", nil, true, map[string]any{"raw_text": ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := make([]string, 0, len(tt.chunks)+1)
			for _, c := range tt.chunks {
				lines = append(lines, chunkLine(c))
			}
			lines = append(lines, doneLine)
			server := ndjsonServer(t, lines...)

			client := NewOllamaClient(server.URL, "m", time.Second, nil)
			resp := client.Generate(context.Background(), models.GenerationRequest{Prompt: "p", AsJSON: tt.asJSON}, nil)
			assert.False(t, resp.Failed())
			assert.Equal(t, tt.want, resp.RawResponse)
			if tt.parseErr {
				assert.ErrorIs(t, resp.ParseErr, errs.ErrResponseParse)
			} else {
				assert.NoError(t, resp.ParseErr)
			}
		})
	}
}

func TestOllamaSkipsMalformedLines(t *testing.T) {
	server := ndjsonServer(t, chunkLine("Hel"), "not json at all", "", `{"response": 12}`, chunkLine("lo"), doneLine)
	client := NewOllamaClient(server.URL, "m", time.Second, zap.NewNop())

	var chunks []string
	resp := client.Generate(context.Background(), models.GenerationRequest{Prompt: "p"}, func(c string) {
		chunks = append(chunks, c)
	})
	assert.False(t, resp.Failed())
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Hello", resp.Text)
}

func TestOllamaServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "m", time.Second, zap.NewNop())
	resp := client.Generate(context.Background(), models.GenerationRequest{Prompt: "p", AsJSON: true}, nil)

	require.NotNil(t, resp)
	require.Contains(t, resp.RawResponse, "error")
	assert.Contains(t, resp.RawResponse["error"], "status 500")
	assert.Contains(t, resp.RawResponse["error"], "model exploded")
	assert.NotContains(t, resp.RawResponse, "cancelled")
	assert.Greater(t, resp.TimeInSeconds, 0.0)
	assert.ErrorIs(t, resp.Err, errs.ErrGenerationBackend)
	assert.True(t, errs.IsRetryable(resp.Err))
	assert.Equal(t, "p", resp.Request.Prompt)
}

func TestOllamaClientErrorIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	resp := NewOllamaClient(server.URL, "m", time.Second, nil).Generate(context.Background(), models.GenerationRequest{Prompt: "p"}, nil)
	assert.ErrorIs(t, resp.Err, errs.ErrGenerationBackend)
	assert.False(t, errs.IsRetryable(resp.Err))
}

func TestOllamaInStreamError(t *testing.T) {
	server := ndjsonServer(t, chunkLine("Hel"), `{"error":"model 'm' not found"}`, chunkLine("lo"))
	client := NewOllamaClient(server.URL, "m", time.Second, nil)

	resp := client.Generate(context.Background(), models.GenerationRequest{Prompt: "p"}, nil)
	assert.True(t, resp.Failed())
	assert.Contains(t, resp.RawResponse["error"], "model 'm' not found")
	assert.Equal(t, "Hel", resp.Text)
	assert.False(t, errs.IsRetryable(resp.Err))
}

func TestOllamaConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	resp := NewOllamaClient(url, "m", time.Second, nil).Generate(context.Background(), models.GenerationRequest{Prompt: "p"}, nil)
	require.Contains(t, resp.RawResponse, "error")
	assert.ErrorIs(t, resp.Err, errs.ErrGenerationBackend)
	assert.True(t, errs.IsRetryable(resp.Err))
}

func TestOllamaCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, chunkLine("Hel"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewOllamaClient(server.URL, "m", 10*time.Second, zap.NewNop())
	resp := client.Generate(ctx, models.GenerationRequest{Prompt: "p"}, func(string) { cancel() })

	assert.True(t, resp.Failed())
	assert.Equal(t, true, resp.RawResponse["cancelled"])
	assert.Contains(t, resp.RawResponse, "error")
	assert.ErrorIs(t, resp.Err, errs.ErrGenerationCanceled)
	assert.Equal(t, "Hel", resp.Text)
	assert.Less(t, resp.TimeInSeconds, 5.0)
}

func TestOllamaKeepAlive(t *testing.T) {
	var got ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"m","response":"Hi!","done":true}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "tv_model2:latest", time.Second, zap.NewNop())
	require.NoError(t, client.KeepAlive(context.Background(), "24h"))
	assert.Equal(t, "24h", got.KeepAlive)
	assert.False(t, got.Stream)
	assert.Equal(t, "tv_model2:latest", got.Model)
}

func TestOllamaKeepAliveError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewOllamaClient(server.URL, "m", time.Second, nil).KeepAlive(context.Background(), "24h")
	assert.ErrorIs(t, err, errs.ErrGenerationBackend)
}
