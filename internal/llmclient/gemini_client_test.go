package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/psd401/contextgraph/api/schemas"
	"github.com/psd401/contextgraph/internal/config"
)

// -- Test Setup Helpers --

// setupGeminiClient rigs up a GeminiClient pointed at a mock HTTP server.
// It returns the client, the mock server, the configuration used, and a log observer.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server, config.LLMModelConfig, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)

	loggerCore, observedLogs := observer.New(zap.DebugLevel)
	logger := zap.New(loggerCore)

	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, logger)
	require.NoError(t, err, "NewGeminiClient initialization failed")

	// Ensure tests fail fast on unexpected hangs
	client.httpClient.Timeout = 5 * time.Second
	client.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 5 * time.Millisecond
		b.MaxElapsedTime = 2 * time.Second
		return b
	}

	t.Cleanup(server.Close)
	return client, server, cfg, observedLogs
}

// createTestRequest provides a standard generation request structure.
func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "You assess decision records.",
		UserPrompt:   "Score this decision.",
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	}
}

func writeCandidate(w http.ResponseWriter, text string) {
	payload := geminiResponse{
		Candidates: []geminiCandidate{
			{Content: geminiContent{Parts: []geminiPart{{Text: text}}}, FinishReason: "STOP"},
		},
		UsageMetadata: geminiUsage{PromptTokenCount: 100, CandidatesTokenCount: 20},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

// -- Test Cases: Initialization --

func TestNewGeminiClient(t *testing.T) {
	t.Run("should default the endpoint from the model", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Endpoint = ""

		client, err := NewGeminiClient(cfg, setupTestLogger(t))
		require.NoError(t, err)

		expected := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
		assert.Equal(t, expected, client.endpoint)
		assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
		assert.NotNil(t, client.backoffFactory)
		assert.NoError(t, client.Close())
	})

	t.Run("should require an API key", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.APIKey = ""
		client, err := NewGeminiClient(cfg, setupTestLogger(t))
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "API key is required")
	})

	t.Run("should require a model", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Model = ""
		_, err := NewGeminiClient(cfg, setupTestLogger(t))
		assert.ErrorContains(t, err, "model name is required")
	})
}

// -- Test Cases: Request Payload Generation --

func TestBuildRequestPayload(t *testing.T) {
	client, _, _, _ := setupGeminiClient(t, nil)
	client.config.MaxTokens = 512
	client.config.SafetyFilters = map[string]string{"HARM_CATEGORY_HARASSMENT": "BLOCK_NONE"}

	t.Run("should map prompts and options", func(t *testing.T) {
		req := createTestRequest()
		payload := client.buildRequestPayload(req)

		require.NotNil(t, payload.SystemInstruction)
		assert.Equal(t, req.SystemPrompt, payload.SystemInstruction.Parts[0].Text)
		require.Len(t, payload.Contents, 1)
		assert.Equal(t, "user", payload.Contents[0].Role)
		assert.Equal(t, req.UserPrompt, payload.Contents[0].Parts[0].Text)
		assert.Equal(t, 0.1, payload.GenerationConfig.Temperature)
		assert.Equal(t, float32(0.9), payload.GenerationConfig.TopP)
		assert.Equal(t, 40, payload.GenerationConfig.TopK)
		assert.Equal(t, 512, payload.GenerationConfig.MaxOutputTokens)
		assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
		require.Len(t, payload.SafetySettings, 1)
	})

	t.Run("should fall back to configured temperature and omit an empty system prompt", func(t *testing.T) {
		payload := client.buildRequestPayload(schemas.GenerationRequest{UserPrompt: "hi"})
		assert.Nil(t, payload.SystemInstruction)
		assert.InDelta(t, 0.2, payload.GenerationConfig.Temperature, 0.0001)
		assert.Empty(t, payload.GenerationConfig.ResponseMimeType)
	})
}

// -- Test Cases: Generate --

func TestGenerate_Success(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		var payload geminiRequest
		require.NoError(t, json.Unmarshal(body, &payload), "Server received invalid JSON payload")
		assert.Equal(t, createTestRequest().UserPrompt, payload.Contents[0].Parts[0].Text)

		writeCandidate(w, `{"score": 80, "warnings": []}`)
	}

	client, _, _, observedLogs := setupGeminiClient(t, handler)
	response, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"score": 80, "warnings": []}`, response)

	entries := observedLogs.FilterMessage("Scoring model call finished.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].ContextMap()["prompt_tokens"])
}

func TestGenerate_RetryOnTransientErrors(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Service temporarily unavailable."))
			return
		}
		writeCandidate(w, "Success after retry")
	}

	client, _, _, observedLogs := setupGeminiClient(t, handler)
	response, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "Success after retry", response)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 2, observedLogs.FilterMessage("Scoring model rejected the request.").Len())
}

func TestGenerate_NoRetryOnPermanentErrors(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "API key invalid"}`))
	}

	client, _, _, _ := setupGeminiClient(t, handler)
	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestHandleAPIError(t *testing.T) {
	client, _, _, observedLogs := setupGeminiClient(t, nil)

	testCases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusGatewayTimeout, false},
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
	}
	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			err := client.handleAPIError(tc.status, []byte("nope"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), fmt.Sprintf("status %d", tc.status))

			var permanent *backoff.PermanentError
			assert.Equal(t, tc.permanent, errors.As(err, &permanent))
		})
	}

	entries := observedLogs.FilterMessage("Scoring model rejected the request.").All()
	require.Len(t, entries, len(testCases))
	assert.Equal(t, "test-model", entries[0].ContextMap()["model"])
}

func TestGenerate_SafetyBlockIsPermanent(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}

	client, _, _, _ := setupGeminiClient(t, handler)
	_, err := client.Generate(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "blocked the request")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestGenerate_RespectsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	handler := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
	client, _, _, _ := setupGeminiClient(t, handler)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Generate(ctx, createTestRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
